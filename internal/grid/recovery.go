package grid

import (
	"context"
	"fmt"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/cycle"
	"github.com/moveguard/engine/internal/placer"
)

// totalCycleLoss sums the cycle's realised and unrealised profit and
// returns the loss magnitude (0 when the cycle isn't underwater). Shared
// with the closure engine's profit accounting (spec.md §4.6); recomputed
// here directly rather than imported to keep this package free of a
// dependency on internal/closure.
func totalCycleLoss(c *cycle.Cycle) float64 {
	total := 0.0
	for _, o := range c.ClosedOrders() {
		total += o.Profit
	}
	for _, o := range c.ActiveOrders() {
		total += o.Profit
	}
	if total >= 0 {
		return 0
	}
	return -total
}

// MaintainRecovery implements spec.md §4.4.9: the optional recovery
// sub-mode that layers extra same-direction orders at a fixed spacing once
// a cycle's loss exceeds recovery_stop_loss_pips, and exits once the loss
// recovers below threshold.
func (m *Manager) MaintainRecovery(ctx context.Context, c *cycle.Cycle, price, pipValue float64) {
	if !c.Config.RecoveryEnabled {
		return
	}

	loss := totalCycleLoss(c)
	thresholdPrice := c.Config.RecoveryStopLossPips * pipValue

	if loss < thresholdPrice {
		if c.Recovery.InRecoveryMode {
			c.Recovery.InRecoveryMode = false
			c.Recovery.DirectionLocked = false
		}
		return
	}

	if !c.Recovery.InRecoveryMode {
		c.Recovery.InRecoveryMode = true
		c.Recovery.RecoveryActivated = true
		c.Recovery.InitialOrderOpenPrice = c.EntryPrice
		c.Recovery.RecoveryZoneBasePrice = price
		c.Recovery.LastRecoveryPrice = price
		// The direction is locked to the cycle's current direction the
		// first time a recovery episode is entered; it does not flip
		// mid-episode even if the zone engine would otherwise re-commit
		// (ported rule, SPEC_FULL.md §11 resolution 2).
		c.Recovery.RecoveryDirection = c.Direction
		c.Recovery.DirectionLocked = true
	}

	spacing := c.Config.RecoveryIntervalPips * pipValue
	due := false
	if c.Recovery.RecoveryDirection == brokerport.Buy {
		due = price <= c.Recovery.LastRecoveryPrice-spacing
	} else {
		due = price >= c.Recovery.LastRecoveryPrice+spacing
	}
	if !due {
		return
	}

	sl := StopLossFor(c, price, pipValue)
	req := placer.Request{
		CycleID: c.CycleID,
		Market: &brokerport.MarketOrderRequest{
			Symbol:  c.Symbol,
			Side:    c.Recovery.RecoveryDirection,
			Volume:  c.LotSize,
			SL:      sl,
			Comment: fmt.Sprintf("%s:recovery", c.CycleID),
		},
	}
	outcome, err := m.placer.Place(ctx, req)
	if err != nil {
		m.log.Warn().Str("cycle_id", c.CycleID).Err(err).Msg("recovery order placement failed")
		return
	}

	o := &cycle.Order{
		Direction: c.Recovery.RecoveryDirection,
		Price:     price,
		LotSize:   c.LotSize,
		Status:    cycle.StatusActive,
		GridLevel: cycle.RecoveryGridLevel,
		OrderType: cycle.OrderTypeRecovery,
		SL:        sl,
	}
	if outcome.Ticket != 0 {
		o.OrderID = outcome.Ticket
	}
	if err := c.AddOrder(o); err != nil {
		m.log.Warn().Str("cycle_id", c.CycleID).Err(err).Msg("recovery order ledger append failed")
		return
	}
	c.Recovery.LastRecoveryPrice = price
}
