// Package coordinator implements the multi-cycle coordinator (spec.md
// §4.7, C8): the indices every cycle is reachable through, duplicate
// rejection, max-active-cycle enforcement with grace-period eviction, and
// the auto-creation trigger.
package coordinator

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/cycle"
	"github.com/moveguard/engine/internal/telemetry"
)

// duplicateEntryTolerance is the 1e-5 absolute tolerance spec.md §4.7 names
// for the duplicate-entry-price rule. Prices are never compared with ==.
const duplicateEntryTolerance = 1e-5

// evictionGracePeriod is the minimum age of a closed cycle before it
// becomes eligible for eviction to make room for a new one.
const evictionGracePeriod = time.Hour

// minCycleCreationInterval throttles the auto-creation trigger (spec.md
// §4.7).
const minCycleCreationInterval = 60 * time.Second

// zoneKeyRoundingPips controls the granularity of the by_zone_key index
// (spec.md §4.7: "rounded price · direction"). Not named as a config key by
// spec.md, so a fixed, documented constant stands in for it.
const zoneKeyRoundingPips = 1.0

// Coordinator owns every live and recently-closed cycle for one symbol.
type Coordinator struct {
	mu sync.Mutex

	byID        map[string]*cycle.Cycle
	byZoneKey   map[string][]*cycle.Cycle
	byDirection map[brokerport.Side][]*cycle.Cycle
	closedAt    map[string]time.Time

	maxActiveCycles int
	cycleIntervalPips float64
	lastCycleCreation time.Time
	lastCyclePrice    float64
	activeCycleLevels map[float64]struct{}

	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// New constructs an empty Coordinator.
func New(maxActiveCycles int, cycleIntervalPips float64, log zerolog.Logger, metrics *telemetry.Metrics) *Coordinator {
	return &Coordinator{
		byID:              make(map[string]*cycle.Cycle),
		byZoneKey:         make(map[string][]*cycle.Cycle),
		byDirection:       make(map[brokerport.Side][]*cycle.Cycle),
		closedAt:          make(map[string]time.Time),
		maxActiveCycles:   maxActiveCycles,
		cycleIntervalPips: cycleIntervalPips,
		activeCycleLevels: make(map[float64]struct{}),
		log:               log.With().Str("component", "coordinator").Logger(),
		metrics:           metrics,
	}
}

func zoneKey(entryPrice, pipValue float64, direction brokerport.Side) string {
	rounded := math.Round(entryPrice/(zoneKeyRoundingPips*pipValue)) * zoneKeyRoundingPips * pipValue
	return fmt.Sprintf("%.5f|%s", rounded, direction)
}

// ErrDuplicateCycleID, ErrDuplicateEntryPrice and ErrTooManyActiveCycles
// classify AddCycle rejections
// (spec.md §4.7: "reject duplicates", "reject if |active| >= max").
type rejectionError string

func (e rejectionError) Error() string { return string(e) }

const (
	ErrDuplicateCycleID    = rejectionError("coordinator: duplicate cycle_id")
	ErrDuplicateEntryPrice = rejectionError("coordinator: duplicate direction+entry_price")
	ErrTooManyActiveCycles = rejectionError("coordinator: max_active_cycles reached")
)

// AddCycle implements spec.md §4.7's add_cycle procedure, including the
// oldest-closed-cycle eviction attempt before rejecting on capacity.
func (co *Coordinator) AddCycle(c *cycle.Cycle, pipValue float64) error {
	co.mu.Lock()
	defer co.mu.Unlock()

	if _, exists := co.byID[c.CycleID]; exists {
		return ErrDuplicateCycleID
	}
	for _, existing := range co.byDirection[c.Direction] {
		if math.Abs(existing.EntryPrice-c.EntryPrice) < duplicateEntryTolerance {
			return ErrDuplicateEntryPrice
		}
	}

	if co.countActiveLocked() >= co.maxActiveCycles {
		if !co.evictOldestClosedLocked() {
			return ErrTooManyActiveCycles
		}
	}

	co.byID[c.CycleID] = c
	key := zoneKey(c.EntryPrice, pipValue, c.Direction)
	co.byZoneKey[key] = append(co.byZoneKey[key], c)
	co.byDirection[c.Direction] = append(co.byDirection[c.Direction], c)

	if co.metrics != nil {
		co.metrics.CyclesOpened.Inc()
		co.metrics.ActiveCycles.Set(float64(co.countActiveLocked()))
	}
	return nil
}

func (co *Coordinator) countActiveLocked() int {
	n := 0
	for _, c := range co.byID {
		if c.Status == cycle.StatusOpenCycle {
			n++
		}
	}
	return n
}

// evictOldestClosedLocked removes the oldest closed cycle older than the
// grace period, if one exists. Caller holds co.mu.
func (co *Coordinator) evictOldestClosedLocked() bool {
	var oldestID string
	var oldestAt time.Time
	now := time.Now()
	for id, at := range co.closedAt {
		if now.Sub(at) < evictionGracePeriod {
			continue
		}
		if oldestID == "" || at.Before(oldestAt) {
			oldestID, oldestAt = id, at
		}
	}
	if oldestID == "" {
		return false
	}
	co.removeCycleLocked(oldestID)
	return true
}

// RemoveCycle implements spec.md §4.7's remove_cycle: deletes from every
// index. It performs no broker calls — closure is the owner's job.
func (co *Coordinator) RemoveCycle(cycleID string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.removeCycleLocked(cycleID)
}

func (co *Coordinator) removeCycleLocked(cycleID string) {
	c, ok := co.byID[cycleID]
	if !ok {
		return
	}
	delete(co.byID, cycleID)
	delete(co.closedAt, cycleID)

	for key, list := range co.byZoneKey {
		co.byZoneKey[key] = removeCycle(list, cycleID)
		if len(co.byZoneKey[key]) == 0 {
			delete(co.byZoneKey, key)
		}
	}
	co.byDirection[c.Direction] = removeCycle(co.byDirection[c.Direction], cycleID)

	if co.metrics != nil {
		co.metrics.ActiveCycles.Set(float64(co.countActiveLocked()))
	}
}

func removeCycle(list []*cycle.Cycle, cycleID string) []*cycle.Cycle {
	out := list[:0]
	for _, c := range list {
		if c.CycleID != cycleID {
			out = append(out, c)
		}
	}
	return out
}

// MarkClosed records the wall-clock time a cycle transitioned to closed, so
// it becomes eligible for eviction after the grace period. It does not
// remove the cycle from the indices — call RemoveCycle separately once the
// closure has been durably written.
func (co *Coordinator) MarkClosed(cycleID string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.closedAt[cycleID] = time.Now()
	if co.metrics != nil {
		co.metrics.ActiveCycles.Set(float64(co.countActiveLocked()))
	}
}

// ByID returns the cycle registered under id, if any.
func (co *Coordinator) ByID(id string) (*cycle.Cycle, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	c, ok := co.byID[id]
	return c, ok
}

// All returns every tracked cycle in a stable order, for snapshotting and
// tick iteration.
func (co *Coordinator) All() []*cycle.Cycle {
	co.mu.Lock()
	defer co.mu.Unlock()
	out := make([]*cycle.Cycle, 0, len(co.byID))
	for _, c := range co.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleID < out[j].CycleID })
	return out
}

// AutoCreationDecision is what ConsiderAutoCreation returns when a new
// cycle should be proposed (spec.md §4.7).
type AutoCreationDecision struct {
	Direction brokerport.Side
	Level     float64
}

// ConsiderAutoCreation implements spec.md §4.7's auto-creation trigger. It
// is a pure decision function: the caller places the order and calls
// CommitAutoCreation on success.
func (co *Coordinator) ConsiderAutoCreation(now time.Time, price, pipValue, cycleIntervalPips float64) (AutoCreationDecision, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()

	if now.Sub(co.lastCycleCreation) < minCycleCreationInterval {
		return AutoCreationDecision{}, false
	}
	if co.lastCyclePrice == 0 {
		return AutoCreationDecision{}, false
	}

	step := cycleIntervalPips * pipValue
	nextUp := co.lastCyclePrice + step
	nextDown := co.lastCyclePrice - step

	switch {
	case price >= nextUp:
		return AutoCreationDecision{Direction: brokerport.Buy, Level: nextUp}, true
	case price <= nextDown:
		return AutoCreationDecision{Direction: brokerport.Sell, Level: nextDown}, true
	default:
		return AutoCreationDecision{}, false
	}
}

// CommitAutoCreation records that an auto-created cycle succeeded at the
// given level, advancing last_cycle_price and stamping the creation-time
// throttle (spec.md §4.7).
func (co *Coordinator) CommitAutoCreation(now time.Time, level float64) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.lastCyclePrice = level
	co.lastCycleCreation = now
	co.activeCycleLevels[level] = struct{}{}
}

// SeedLastCyclePrice initialises the auto-creation baseline (e.g. from the
// first manually opened cycle, or from a restored snapshot).
func (co *Coordinator) SeedLastCyclePrice(price float64) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.lastCyclePrice == 0 {
		co.lastCyclePrice = price
	}
}
