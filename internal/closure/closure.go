// Package closure implements the take-profit and closure engine (spec.md
// §4.6, C7): per-tick profit accounting and dollar-threshold cycle closure.
package closure

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/cycle"
)

// Engine evaluates closure conditions for cycles. It holds no state of its
// own — everything it needs is read from the Cycle and the broker.
type Engine struct {
	broker brokerport.Port
	log    zerolog.Logger
}

// New constructs a closure Engine.
func New(broker brokerport.Port, log zerolog.Logger) *Engine {
	return &Engine{broker: broker, log: log.With().Str("component", "closure").Logger()}
}

// TotalProfit sums realised profit over closed orders (stored values, never
// recomputed) and unrealised profit over active positions (freshly queried),
// in account-currency dollars, using decimal.Decimal to avoid the float
// accumulation error that would otherwise creep into a threshold comparison
// made over many small order profits (spec.md §4.6).
func (e *Engine) TotalProfit(ctx context.Context, c *cycle.Cycle) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, o := range c.ClosedOrders() {
		total = total.Add(decimal.NewFromFloat(o.Profit))
	}

	for _, o := range c.ActiveOrders() {
		if o.OrderID == 0 {
			total = total.Add(decimal.NewFromFloat(o.Profit))
			continue
		}
		pos, ok, err := e.broker.PositionByTicket(ctx, o.OrderID)
		if err != nil {
			return decimal.Zero, err
		}
		if !ok {
			total = total.Add(decimal.NewFromFloat(o.Profit))
			continue
		}
		total = total.Add(decimal.NewFromFloat(pos.Profit))
	}
	return total, nil
}

// Evaluate implements spec.md §4.6: if total profit meets or exceeds
// cycle_take_profit_pips (interpreted as dollars, see
// config.CycleConfig.CycleTakeProfitPips), close the cycle — cancel every
// pending order, close every active order, and finalise the closure fields.
// The caller is responsible for forcing an immediate snapshot write and
// removing the cycle from the coordinator's indices afterward.
func (e *Engine) Evaluate(ctx context.Context, c *cycle.Cycle) (bool, error) {
	if c.Status == cycle.StatusClosedCycle {
		return false, nil
	}

	total, err := e.TotalProfit(ctx, c)
	if err != nil {
		return false, err
	}

	threshold := decimal.NewFromFloat(c.Config.CycleTakeProfitPips)
	if total.LessThan(threshold) {
		return false, nil
	}

	e.closeCycle(ctx, c, total, "take_profit")
	return true, nil
}

// CloseManually implements the close_cycle command path (spec.md §4.8):
// the same finalisation as a take-profit close, but with closing_method
// fixed to "manual_close" regardless of the profit total.
func (e *Engine) CloseManually(ctx context.Context, c *cycle.Cycle) error {
	total, err := e.TotalProfit(ctx, c)
	if err != nil {
		total = decimal.Zero
	}
	e.closeCycle(ctx, c, total, "manual_close")
	return nil
}

func (e *Engine) closeCycle(ctx context.Context, c *cycle.Cycle, total decimal.Decimal, method string) {
	for _, o := range c.PendingOrders() {
		if o.OrderID != 0 {
			if err := e.broker.CancelPending(ctx, o.OrderID, c.Symbol); err != nil && !brokerport.IsNotFound(err) {
				e.log.Warn().Str("cycle_id", c.CycleID).Uint64("ticket", o.OrderID).Err(err).Msg("cancel pending during closure failed")
			}
		}
		o.Status = cycle.StatusCancelled
	}

	for _, o := range c.ActiveOrders() {
		if o.OrderID != 0 {
			pos, ok, err := e.broker.PositionByTicket(ctx, o.OrderID)
			if err == nil && ok {
				o.Profit = pos.Profit
				o.ProfitPips = pos.ProfitPips
			}
			if err := e.broker.CancelPending(ctx, o.OrderID, c.Symbol); err != nil && !brokerport.IsNotFound(err) {
				e.log.Warn().Str("cycle_id", c.CycleID).Uint64("ticket", o.OrderID).Err(err).Msg("close active during closure failed")
			}
		}
		o.Status = cycle.StatusClosed
		o.CloseReason = method
		o.ClosedAt = time.Now()
	}

	profitFloat, _ := total.Float64()
	c.Status = cycle.StatusClosedCycle
	c.Closure = cycle.ClosureInfo{
		IsClosed:           true,
		ClosingMethod:      method,
		CloseTime:          time.Now(),
		CloseReason:        method,
		TotalProfit:        profitFloat,
		TotalProfitDollars: profitFloat,
	}
	c.UpdatedAt = time.Now()
}
