package cycle

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/config"
)

// InfinitySentinel is the finite large constant that stands in for +Inf at
// the persistence boundary (spec.md §3, §9 design note). Internal code may
// compare against math.Inf(1) directly; only the snapshot encoder needs this
// constant.
const InfinitySentinel = 1e12

// Status is the cycle-level lifecycle state.
type Status int

const (
	StatusOpenCycle Status = iota
	StatusClosedCycle
)

func (s Status) String() string {
	if s == StatusClosedCycle {
		return "closed"
	}
	return "active"
}

// ZoneData is the cycle's price interval and its movement bookkeeping
// (spec.md §3, §4.4.1).
type ZoneData struct {
	Base         float64
	Upper        float64
	Lower        float64
	MovementMode config.MovementMode
	LastMovement time.Time

	// MovementHistory records every relocation of Upper/Lower triggered by a
	// trailing-stop breach (spec.md §6 store schema's "zone_movement_history").
	MovementHistory []ZoneMovement
}

// ZoneMovement is one recorded relocation of a cycle's zone.
type ZoneMovement struct {
	At     time.Time
	Upper  float64
	Lower  float64
	Reason string
}

// RecoveryState holds the recovery sub-mode flags (spec.md §3, §4.4.9).
type RecoveryState struct {
	InRecoveryMode        bool
	RecoveryActivated     bool
	RecoveryDirection     brokerport.Side
	InitialOrderOpenPrice float64
	InitialStopLossPrice  float64
	RecoveryZoneBasePrice float64
	// LastRecoveryPrice is the price of the most recently placed recovery
	// order; the next one is spaced RecoveryIntervalPips away from it
	// (spec.md §4.4.9). Not named in spec.md §3's flag list but required to
	// implement the spacing rule.
	LastRecoveryPrice float64
	// DirectionLocked records whether RecoveryDirection has been fixed for
	// the current recovery episode; it is set to the cycle's direction on
	// entering recovery and cleared on exit (SPEC_FULL.md §11 resolution 2).
	DirectionLocked bool
}

// ClosureInfo holds the cycle's terminal fields (spec.md §3).
type ClosureInfo struct {
	IsClosed           bool
	ClosingMethod      string
	CloseTime          time.Time
	CloseReason        string
	TotalProfit        float64
	TotalProfitPips    float64
	TotalProfitDollars float64
}

// Cycle owns a single cycle's state (spec.md §3, C4).
type Cycle struct {
	CycleID    string
	Symbol     string
	Direction  brokerport.Side
	EntryPrice float64
	LotSize    float64
	Status     Status

	// Bot and Account identify the owning bot/account (spec.md §6 store
	// schema). Populated from the inbound command's botId/accountId when a
	// cycle is opened through internal/command; empty for auto-created
	// cycles, which have no originating command.
	Bot     string
	Account string

	Orders             []*Order
	PendingOrderLevels map[int]struct{} // grid levels currently held pending

	Zone              ZoneData
	TrailingStopLoss  float64 // 0 means "not set"
	HighestBuyPrice   float64 // 0 initial
	LowestSellPrice   float64 // +Inf sentinel internally

	Recovery RecoveryState
	Closure  ClosureInfo

	// Config is the frozen snapshot taken at creation time (spec.md §3,
	// §9 Open Question 3 resolution): all per-cycle geometry is derived
	// from this, never from live globals.
	Config config.CycleConfig

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a Cycle around a just-filled initial market order, establishing
// the zone per spec.md §4.4.1: base = entry price, upper/lower offset by
// zone_threshold_pips * pip_value.
func New(symbol string, direction brokerport.Side, entryPrice float64, pipValue float64, cfg config.CycleConfig) *Cycle {
	zt := cfg.ZoneThresholdPips * pipValue
	now := time.Now()
	return &Cycle{
		CycleID:            uuid.NewString(),
		Symbol:             symbol,
		Direction:          direction,
		EntryPrice:         entryPrice,
		LotSize:            cfg.LotSize,
		Status:             StatusOpenCycle,
		Orders:             nil,
		PendingOrderLevels: make(map[int]struct{}),
		Zone: ZoneData{
			Base:         entryPrice,
			Upper:        entryPrice + zt,
			Lower:        entryPrice - zt,
			MovementMode: cfg.ZoneMovementMode,
			LastMovement: now,
		},
		LowestSellPrice: math.Inf(1),
		Config:          cfg,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// PendingOrders returns the view over Orders where status == pending
// (spec.md §3).
func (c *Cycle) PendingOrders() []*Order {
	var out []*Order
	for _, o := range c.Orders {
		if o.Status == StatusPending {
			out = append(out, o)
		}
	}
	return out
}

// ActiveOrders returns the view over Orders where status == active.
func (c *Cycle) ActiveOrders() []*Order {
	var out []*Order
	for _, o := range c.Orders {
		if o.Status == StatusActive {
			out = append(out, o)
		}
	}
	return out
}

// ClosedOrders returns the view over Orders where status == closed.
func (c *Cycle) ClosedOrders() []*Order {
	var out []*Order
	for _, o := range c.Orders {
		if o.Status == StatusClosed {
			out = append(out, o)
		}
	}
	return out
}

// MaxActiveLevel returns the highest grid_level among active or pending
// orders, or 0 if none (spec.md §4.4.3 step 5: "starting level s =
// max(1, max_active_level + 1)").
func (c *Cycle) MaxActiveLevel() int {
	max := 0
	for _, o := range c.Orders {
		if o.GridLevel <= 0 {
			continue
		}
		if (o.Status == StatusActive || o.Status == StatusPending) && o.GridLevel > max {
			max = o.GridLevel
		}
	}
	return max
}

// LevelTaken reports whether any order — pending, active, or closed — is
// recorded under this grid level (spec.md §3 invariant: at most one order
// per (cycle, level) ever).
func (c *Cycle) LevelTaken(level int) bool {
	for _, o := range c.Orders {
		if o.GridLevel == level {
			return true
		}
	}
	return false
}

// AddOrder appends an order to the ledger after validating its invariants
// and, for non-recovery grid levels, that the level isn't already taken.
func (c *Cycle) AddOrder(o *Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.GridLevel > 0 && c.LevelTaken(o.GridLevel) {
		return errInvalidOrder("duplicate grid level submission suppressed")
	}
	c.Orders = append(c.Orders, o)
	if o.Status == StatusPending && o.GridLevel > 0 {
		c.PendingOrderLevels[o.GridLevel] = struct{}{}
	}
	c.UpdatedAt = time.Now()
	return nil
}

// OrderedPendingLevels returns the pending grid levels as a sorted slice,
// the serialisable form of PendingOrderLevels (spec.md §6: "sets as sorted
// arrays").
func (c *Cycle) OrderedPendingLevels() []int {
	out := make([]int, 0, len(c.PendingOrderLevels))
	for lvl := range c.PendingOrderLevels {
		out = append(out, lvl)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ResetTrailing clears the trailing-stop trackers after a reset trigger
// (spec.md §4.4.7 step 3).
func (c *Cycle) ResetTrailing() {
	c.TrailingStopLoss = 0
	c.HighestBuyPrice = 0
	c.LowestSellPrice = math.Inf(1)
}

// ZoneWidthValid checks testable property 1 (spec.md §8): upper > lower and
// the width matches zone_threshold_pips * pip_value within a pip-scaled
// tolerance.
func (c *Cycle) ZoneWidthValid(pipValue float64, eps float64) bool {
	if c.Zone.Upper <= c.Zone.Lower {
		return false
	}
	want := c.Config.ZoneThresholdPips * pipValue
	got := c.Zone.Upper - c.Zone.Lower
	return math.Abs(got-want) < eps
}
