// Package grid implements the grid manager (spec.md §4.4, C5): grid level
// geometry, K-ahead pending-order maintenance, stop-loss policy, and broker
// reconciliation. Trailing-stop computation lives in trailing.go and the
// recovery sub-mode in recovery.go — together these three files are "the
// heart of the system".
package grid

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/cycle"
	"github.com/moveguard/engine/internal/placer"
	"github.com/moveguard/engine/internal/telemetry"
)

// minBrokerDistancePips is the safety floor spec.md §4.4.4 imposes on the
// distance between an order's price and its stop-loss.
const minBrokerDistancePips = 1.0

// placementRetries is the per-level retry budget spec.md §4.4.3 step 6
// names explicitly.
const placementRetries = 3

// Manager drives the grid for a single cycle at a time; callers own the
// per-cycle mutual exclusion, as Manager holds no lock around a cycle.
type Manager struct {
	broker   brokerport.Port
	placer   *placer.Placer
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	reversal *ReversalMonitor
}

// New constructs a Manager.
func New(broker brokerport.Port, p *placer.Placer, log zerolog.Logger, metrics *telemetry.Metrics) *Manager {
	return &Manager{
		broker:   broker,
		placer:   p,
		log:      log.With().Str("component", "grid").Logger(),
		metrics:  metrics,
		reversal: NewReversalMonitor(),
	}
}

// GridStartPrice implements spec.md §4.4.2's grid_start_price: the zone
// boundary offset by entry_interval_pips.
func GridStartPrice(upper, lower, entryIntervalPips, pipValue float64, direction brokerport.Side) float64 {
	if direction == brokerport.Buy {
		return upper + entryIntervalPips*pipValue
	}
	return lower - entryIntervalPips*pipValue
}

// LevelPrice implements spec.md §4.4.2's level-k target price, k >= 1.
func LevelPrice(gridStartPrice float64, level int, gridIntervalPips, pipValue float64, direction brokerport.Side) float64 {
	offset := float64(level-1) * gridIntervalPips * pipValue
	if direction == brokerport.Buy {
		return gridStartPrice + offset
	}
	return gridStartPrice - offset
}

// StopLossFor implements spec.md §4.4.4: prefer the live trailing stop once
// set, otherwise derive from initial_stop_loss_pips and clip to the minimum
// broker-side distance.
func StopLossFor(c *cycle.Cycle, targetPrice, pipValue float64) float64 {
	if c.TrailingStopLoss > 0 {
		return c.TrailingStopLoss
	}
	var sl float64
	if c.Direction == brokerport.Buy {
		sl = targetPrice - c.Config.InitialStopLossPips*pipValue
	} else {
		sl = targetPrice + c.Config.InitialStopLossPips*pipValue
	}
	return clipMinDistance(sl, targetPrice, pipValue, c.Direction)
}

func clipMinDistance(sl, price, pipValue float64, direction brokerport.Side) float64 {
	minDist := minBrokerDistancePips * pipValue
	if direction == brokerport.Buy {
		if price-sl < minDist {
			return price - minDist
		}
		return sl
	}
	if sl-price < minDist {
		return price + minDist
	}
	return sl
}

// gridLevelGapDetected reports whether the cycle's active/pending grid
// levels (excluding level 0 and the recovery sentinel) fail to form a
// contiguous ascending run starting at 1 (spec.md §4.4.3 step 2). No such
// levels at all is not a gap.
func gridLevelGapDetected(c *cycle.Cycle) bool {
	var levels []int
	for _, o := range c.Orders {
		if o.GridLevel <= 0 {
			continue
		}
		if o.Status == cycle.StatusActive || o.Status == cycle.StatusPending {
			levels = append(levels, o.GridLevel)
		}
	}
	if len(levels) == 0 {
		return false
	}
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j-1] > levels[j]; j-- {
			levels[j-1], levels[j] = levels[j], levels[j-1]
		}
	}
	if levels[0] != 1 {
		return true
	}
	for i := 1; i < len(levels); i++ {
		if levels[i] != levels[i-1]+1 {
			return true
		}
	}
	return false
}

// MaintainPending runs the six-step procedure of spec.md §4.4.3 for one
// cycle, given a fresh bid/ask snapshot and the symbol's pip value.
func (m *Manager) MaintainPending(ctx context.Context, c *cycle.Cycle, bid, ask, pipValue float64) error {
	if err := m.Reconcile(ctx, c); err != nil {
		return err
	}

	if gridLevelGapDetected(c) {
		m.cancelAllPending(ctx, c, "grid_level_gap_detected")
	}

	m.cancelDisagreeingDirection(ctx, c)

	if len(c.ActiveOrders()) == 0 {
		want := c.Config.PendingAheadCount
		pending := c.PendingOrders()
		if want > len(pending) {
			want = len(pending)
		}
		levels := c.OrderedPendingLevels()
		if !isExactPrefix(levels, want) {
			m.cancelAllPending(ctx, c, "pending_prefix_invalid")
		}
	}

	pending := c.PendingOrders()
	needed := c.Config.PendingAheadCount - len(pending)
	if needed <= 0 {
		return nil
	}
	start := c.MaxActiveLevel() + 1
	if start < 1 {
		start = 1
	}

	gridStart := GridStartPrice(c.Zone.Upper, c.Zone.Lower, c.Config.EntryIntervalPips, pipValue, c.Direction)
	for i := 0; i < needed; i++ {
		level := start + i
		if c.LevelTaken(level) {
			continue
		}
		c.PendingOrderLevels[level] = struct{}{} // reserve before submission
		price := LevelPrice(gridStart, level, c.Config.GridIntervalPips, pipValue, c.Direction)
		if err := m.placeLevel(ctx, c, level, price, pipValue, bid, ask); err != nil {
			delete(c.PendingOrderLevels, level)
			m.log.Warn().Str("cycle_id", c.CycleID).Int("level", level).Err(err).Msg("grid level placement failed")
		}
	}
	return nil
}

func isExactPrefix(sortedLevels []int, want int) bool {
	if len(sortedLevels) != want {
		return false
	}
	for i, lvl := range sortedLevels {
		if lvl != i+1 {
			return false
		}
	}
	return true
}

func (m *Manager) placeLevel(ctx context.Context, c *cycle.Cycle, level int, price, pipValue, bid, ask float64) error {
	var lastErr error
	for attempt := 0; attempt < placementRetries; attempt++ {
		sl := StopLossFor(c, price, pipValue)
		req := placer.Request{
			CycleID: c.CycleID,
			Pending: &brokerport.PendingOrderRequest{
				Symbol:      c.Symbol,
				Side:        c.Direction,
				StopType:    brokerport.Stop,
				TargetPrice: price,
				Volume:      c.LotSize,
				SL:          sl,
				Comment:     fmt.Sprintf("%s:grid:%d", c.CycleID, level),
			},
		}
		outcome, err := m.placer.Place(ctx, req)
		if err == nil {
			o := &cycle.Order{
				Direction: c.Direction,
				Price:     price,
				LotSize:   c.LotSize,
				Status:    cycle.StatusPending,
				GridLevel: level,
				IsGrid:    true,
				OrderType: cycle.OrderTypeGridLevel,
				SL:        sl,
			}
			if outcome.Ticket != 0 {
				o.OrderID = outcome.Ticket
			}
			return c.AddOrder(o)
		}
		lastErr = err
		if brokerport.IsNotFound(err) {
			break
		}
		// re-quote: recompute price from a fresher bid/ask before retrying
		if brokerport.IsRetryableImmediately(err) {
			if c.Direction == brokerport.Buy {
				price = math.Max(price, ask)
			} else {
				price = math.Min(price, bid)
			}
			continue
		}
		break
	}
	return lastErr
}

func (m *Manager) cancelAllPending(ctx context.Context, c *cycle.Cycle, reason string) {
	for _, o := range c.PendingOrders() {
		m.cancelOne(ctx, c, o, reason)
	}
}

func (m *Manager) cancelDisagreeingDirection(ctx context.Context, c *cycle.Cycle) {
	for _, o := range c.PendingOrders() {
		if o.Direction != c.Direction {
			m.cancelOne(ctx, c, o, "direction_disagreement")
		}
	}
}

func (m *Manager) cancelOne(ctx context.Context, c *cycle.Cycle, o *cycle.Order, reason string) {
	if o.OrderID != 0 {
		if err := m.broker.CancelPending(ctx, o.OrderID, c.Symbol); err != nil && !brokerport.IsNotFound(err) {
			m.log.Warn().Str("cycle_id", c.CycleID).Uint64("ticket", o.OrderID).Err(err).Msg("cancel pending failed")
			return
		}
	}
	o.Status = cycle.StatusCancelled
	o.CloseReason = reason
	delete(c.PendingOrderLevels, o.GridLevel)
}

// Reconcile implements spec.md §4.4.5: compare every locally tracked
// pending/active order against broker truth and advance its status.
func (m *Manager) Reconcile(ctx context.Context, c *cycle.Cycle) error {
	positions, err := m.broker.ListPositions(ctx, c.Symbol)
	if err != nil {
		return err
	}
	byTicket := make(map[uint64]brokerport.Position, len(positions))
	for _, p := range positions {
		byTicket[p.Ticket] = p
	}

	for _, o := range c.Orders {
		if o.OrderID == 0 {
			continue
		}
		switch o.Status {
		case cycle.StatusPending:
			if pos, ok := byTicket[o.OrderID]; ok && !pos.IsPending {
				o.Status = cycle.StatusActive
				o.Price = pos.PriceOpen
				o.TriggeredAt = pos.OpenTime
				delete(c.PendingOrderLevels, o.GridLevel)
				continue
			}
			if _, ok := byTicket[o.OrderID]; !ok {
				o.Status = cycle.StatusCancelled
				delete(c.PendingOrderLevels, o.GridLevel)
			}
		case cycle.StatusActive:
			pos, ok := byTicket[o.OrderID]
			if !ok {
				if o.IsInitial {
					m.log.Error().Str("cycle_id", c.CycleID).Uint64("ticket", o.OrderID).
						Msg("initial order vanished from broker without a reconciled close; preserving last known profit")
				}
				o.Status = cycle.StatusClosed
				continue
			}
			o.Profit = pos.Profit
			o.ProfitPips = pos.ProfitPips
			o.Price = pos.PriceCurrent
		}
	}
	return nil
}
