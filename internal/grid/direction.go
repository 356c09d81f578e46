package grid

import (
	"context"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/cycle"
	"github.com/moveguard/engine/internal/zone"
)

// ReconsiderDirection implements spec.md §4.4.8: when a cycle has zero
// active orders, consult the zone engine for a direction hint and, on a
// non-null decision, commit it and rebuild the pending ladder.
func (m *Manager) ReconsiderDirection(ctx context.Context, c *cycle.Cycle, price float64) {
	if len(c.ActiveOrders()) != 0 {
		return
	}

	bounds := zone.Bounds{Upper: c.Zone.Upper, Lower: c.Zone.Lower}
	decision := zone.Decide(bounds, c.Config.ZoneMovementMode, price)
	if decision == zone.DirectionNone {
		return
	}

	newDirection := brokerport.Buy
	if decision == zone.DirectionSell {
		newDirection = brokerport.Sell
	}
	if newDirection == c.Direction {
		return
	}
	c.Direction = newDirection

	m.cancelDisagreeingDirection(ctx, c)

	levels := c.OrderedPendingLevels()
	if !isExactPrefix(levels, c.Config.PendingAheadCount) {
		m.cancelAllPending(ctx, c, "direction_committed")
	}
}
