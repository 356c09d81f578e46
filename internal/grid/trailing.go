package grid

import (
	"context"
	"math"
	"time"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/config"
	"github.com/moveguard/engine/internal/cycle"
	"github.com/moveguard/engine/internal/zone"
)

// UpdateTrailingStop implements spec.md §4.4.6: recompute the TSL from the
// current price, clip it against the movement mode, enforce monotonicity,
// and propagate the new SL to every active order. zoneEngine may be nil
// (diagnostics are optional).
func (m *Manager) UpdateTrailingStop(ctx context.Context, c *cycle.Cycle, price, pipValue float64, zoneEngine *zone.Engine) {
	zt := c.Config.ZoneThresholdPips * pipValue

	if c.Direction == brokerport.Buy {
		for _, o := range c.ActiveOrders() {
			if o.Price > c.HighestBuyPrice {
				c.HighestBuyPrice = o.Price
			}
		}
		if c.HighestBuyPrice == 0 {
			return
		}
		newTSL := c.HighestBuyPrice - zt
		switch c.Config.ZoneMovementMode {
		case config.MoveNone, config.MoveDownOnly:
			newTSL = c.Zone.Upper
		default:
			newTSL = math.Max(newTSL, c.Zone.Upper)
		}
		if newTSL > c.TrailingStopLoss {
			c.TrailingStopLoss = newTSL
			m.propagateSL(ctx, c)
		}
	} else {
		for _, o := range c.ActiveOrders() {
			if c.LowestSellPrice == 0 || o.Price < c.LowestSellPrice {
				c.LowestSellPrice = o.Price
			}
		}
		if math.IsInf(c.LowestSellPrice, 1) {
			return
		}
		newTSL := c.LowestSellPrice + zt
		switch c.Config.ZoneMovementMode {
		case config.MoveNone, config.MoveUpOnly:
			newTSL = c.Zone.Lower
		default:
			newTSL = math.Min(newTSL, c.Zone.Lower)
		}
		if c.TrailingStopLoss == 0 || newTSL < c.TrailingStopLoss {
			c.TrailingStopLoss = newTSL
			m.propagateSL(ctx, c)
		}
	}

	m.checkTrigger(ctx, c, price, zoneEngine)
}

func (m *Manager) propagateSL(ctx context.Context, c *cycle.Cycle) {
	for _, o := range c.ActiveOrders() {
		if o.OrderID == 0 {
			continue
		}
		if err := m.broker.ModifySLTP(ctx, o.OrderID, c.TrailingStopLoss, o.TP); err != nil {
			if brokerport.IsNotFound(err) {
				o.Status = cycle.StatusClosed
				continue
			}
			m.log.Warn().Str("cycle_id", c.CycleID).Uint64("ticket", o.OrderID).Err(err).Msg("trailing SL propagation failed")
			continue
		}
		o.SL = c.TrailingStopLoss
	}
}

// checkTrigger implements spec.md §4.4.7: a TSL breach closes every active
// order and resets trailing state, exempting a cycle whose only active
// order is the level-0 initial order.
func (m *Manager) checkTrigger(ctx context.Context, c *cycle.Cycle, price float64, zoneEngine *zone.Engine) {
	if c.TrailingStopLoss == 0 {
		return
	}
	breached := (c.Direction == brokerport.Buy && price <= c.TrailingStopLoss) ||
		(c.Direction == brokerport.Sell && price >= c.TrailingStopLoss)
	if !m.reversal.Observe(c.CycleID, breached, c.Config.ReversalConfirmTicks) {
		return
	}

	active := c.ActiveOrders()
	if len(active) == 1 && active[0].GridLevel == 0 {
		return
	}
	if len(active) == 0 {
		return
	}

	if zoneEngine != nil {
		zoneEngine.RecordBreach()
	}
	if m.metrics != nil {
		m.metrics.ZoneBreaches.Inc()
	}

	for _, o := range active {
		if o.OrderID != 0 {
			if err := m.broker.CancelPending(ctx, o.OrderID, c.Symbol); err != nil && !brokerport.IsNotFound(err) {
				m.log.Warn().Str("cycle_id", c.CycleID).Uint64("ticket", o.OrderID).Err(err).Msg("close on trailing trigger failed")
			}
		}
		o.Status = cycle.StatusClosed
		o.CloseReason = "trailing_stop_trigger"
		o.ClosedAt = time.Now()
	}

	widthPriceUnits := 0.0
	if c.Direction == brokerport.Buy {
		widthPriceUnits = c.HighestBuyPrice - c.TrailingStopLoss
	} else {
		widthPriceUnits = c.TrailingStopLoss - c.LowestSellPrice
	}

	moved := false
	switch {
	case c.Direction == brokerport.Buy && (c.Config.ZoneMovementMode == config.MoveBothSides || c.Config.ZoneMovementMode == config.MoveUpOnly):
		c.Zone.Upper = c.HighestBuyPrice
		c.Zone.Lower = c.HighestBuyPrice - widthPriceUnits
		moved = true
	case c.Direction == brokerport.Sell && (c.Config.ZoneMovementMode == config.MoveBothSides || c.Config.ZoneMovementMode == config.MoveDownOnly):
		c.Zone.Lower = c.LowestSellPrice
		c.Zone.Upper = c.LowestSellPrice + widthPriceUnits
		moved = true
	}
	c.Zone.LastMovement = time.Now()
	if moved {
		c.Zone.MovementHistory = append(c.Zone.MovementHistory, cycle.ZoneMovement{
			At:     c.Zone.LastMovement,
			Upper:  c.Zone.Upper,
			Lower:  c.Zone.Lower,
			Reason: "trailing_stop_trigger",
		})
	}

	c.ResetTrailing()
	if zoneEngine != nil {
		zoneEngine.RecordReversal()
	}
	if m.metrics != nil {
		m.metrics.ReversalEvents.Inc()
	}
}
