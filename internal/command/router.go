package command

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/closure"
	"github.com/moveguard/engine/internal/config"
	"github.com/moveguard/engine/internal/coordinator"
	"github.com/moveguard/engine/internal/cycle"
	"github.com/moveguard/engine/internal/grid"
	"github.com/moveguard/engine/internal/placer"
	"github.com/moveguard/engine/internal/snapshot"
)

// Router dispatches decoded commands to the coordinator, grid manager, and
// closure engine, enforcing idempotency (spec.md §4.8).
type Router struct {
	broker  brokerport.Port
	placer  *placer.Placer
	coord   *coordinator.Coordinator
	grid    *grid.Manager
	closure *closure.Engine
	batcher *snapshot.Batcher
	dedup   *Dedup
	log     zerolog.Logger
}

// New constructs a Router. batcher may be nil (e.g. in tests that don't care
// about persistence); the forced-immediate snapshot write on cycle creation
// is then simply skipped.
func New(broker brokerport.Port, p *placer.Placer, coord *coordinator.Coordinator, gm *grid.Manager, ce *closure.Engine, batcher *snapshot.Batcher, log zerolog.Logger) *Router {
	return &Router{
		broker:  broker,
		placer:  p,
		coord:   coord,
		grid:    gm,
		closure: ce,
		batcher: batcher,
		dedup:   NewDedup(),
		log:     log.With().Str("component", "command_router").Logger(),
	}
}

// Handle processes one decoded command and returns the response to publish
// on the outbound channel. symbol/pipValue/cfg parameterise the open_order
// path, which needs them to build a new Cycle around the filled order.
func (r *Router) Handle(ctx context.Context, cmd Command, symbol string, pipValue float64, cfg config.CycleConfig) Response {
	if r.dedup.CheckAndMark(cmd.EventID) {
		return NewResponse(cmd, StatusCompleted, "", "duplicate event, already processed")
	}

	switch cmd.Type {
	case ActionOpenOrder:
		return r.handleOpenOrder(ctx, cmd, symbol, pipValue, cfg)
	case ActionCloseOrder:
		return r.handleCloseOrder(ctx, cmd)
	case ActionCloseCycle:
		return r.handleCloseCycle(ctx, cmd)
	default:
		r.log.Warn().Str("action", string(cmd.Type)).Msg("action recognised but not implemented")
		return NewResponse(cmd, StatusFailed, "", fmt.Sprintf("action not implemented: %s", cmd.Type))
	}
}

// captureAndSnapshot performs the immediate profit fetch and forced snapshot
// write spec.md §4.4.5/§9 mandate for a cycle's initial order: the first
// fill's realised profit must never be lost to the batcher's throttled
// write window (internal/snapshot/batcher.go's database_update_interval).
func (r *Router) captureAndSnapshot(ctx context.Context, c *cycle.Cycle, initial *cycle.Order) {
	if initial.OrderID != 0 {
		if pos, ok, err := r.broker.PositionByTicket(ctx, initial.OrderID); err != nil {
			r.log.Warn().Str("cycle_id", c.CycleID).Uint64("ticket", initial.OrderID).Err(err).Msg("initial profit capture failed")
		} else if ok {
			initial.Profit = pos.Profit
			initial.ProfitPips = pos.ProfitPips
			initial.Price = pos.PriceCurrent
		}
	}
	if r.batcher == nil {
		return
	}
	if err := r.batcher.Close(ctx, c); err != nil {
		r.log.Warn().Str("cycle_id", c.CycleID).Err(err).Msg("forced immediate snapshot write failed")
	}
}

func (r *Router) handleOpenOrder(ctx context.Context, cmd Command, symbol string, pipValue float64, cfg config.CycleConfig) Response {
	side := cmd.Side()
	lot := cfg.LotSize
	if cmd.LotSize != nil && *cmd.LotSize > 0 {
		lot = *cmd.LotSize
	}
	provisionalID := uuid.NewString()

	req := placer.Request{
		CycleID: provisionalID,
		Market: &brokerport.MarketOrderRequest{
			Symbol:  symbol,
			Side:    side,
			Volume:  lot,
			Comment: fmt.Sprintf("open_order:%s", cmd.EventID),
		},
	}
	outcome, err := r.placer.Place(ctx, req)
	if err != nil && !outcome.Queued {
		return NewResponse(cmd, StatusFailed, "", err.Error())
	}
	if outcome.Queued {
		return NewResponse(cmd, StatusProcessing, "", "order queued for background retry")
	}

	entryPrice, priceErr := r.currentPrice(ctx, symbol, side)
	if priceErr != nil {
		return NewResponse(cmd, StatusFailed, "", priceErr.Error())
	}

	c := cycle.New(symbol, side, entryPrice, pipValue, cfg)
	c.Bot = cmd.BotID
	c.Account = cmd.AccountID
	initial := &cycle.Order{
		OrderID:   outcome.Ticket,
		Direction: side,
		Price:     entryPrice,
		LotSize:   lot,
		Status:    cycle.StatusActive,
		GridLevel: 0,
		IsInitial: true,
		OrderType: cycle.OrderTypeGridZero,
		OpenTime:  c.CreatedAt,
	}
	if err := c.AddOrder(initial); err != nil {
		return NewResponse(cmd, StatusFailed, "", err.Error())
	}
	if err := r.coord.AddCycle(c, pipValue); err != nil {
		return NewResponse(cmd, StatusFailed, "", err.Error())
	}
	r.coord.SeedLastCyclePrice(entryPrice)
	r.captureAndSnapshot(ctx, c, initial)

	return NewResponse(cmd, StatusCompleted, c.CycleID, fmt.Sprintf("cycle_id=%s ticket=%d", c.CycleID, outcome.Ticket))
}

// AutoOpenCycle places a market order and registers a new Cycle the same
// way handleOpenOrder does, driven by the coordinator's auto-creation
// trigger (spec.md §4.7) rather than an inbound command.
func (r *Router) AutoOpenCycle(ctx context.Context, symbol string, pipValue float64, cfg config.CycleConfig, side brokerport.Side) (*cycle.Cycle, error) {
	req := placer.Request{
		CycleID: uuid.NewString(),
		Market: &brokerport.MarketOrderRequest{
			Symbol:  symbol,
			Side:    side,
			Volume:  cfg.LotSize,
			Comment: "auto_creation",
		},
	}
	outcome, err := r.placer.Place(ctx, req)
	if err != nil && !outcome.Queued {
		return nil, err
	}
	if outcome.Queued {
		return nil, nil
	}

	entryPrice, err := r.currentPrice(ctx, symbol, side)
	if err != nil {
		return nil, err
	}

	c := cycle.New(symbol, side, entryPrice, pipValue, cfg)
	initial := &cycle.Order{
		OrderID:   outcome.Ticket,
		Direction: side,
		Price:     entryPrice,
		LotSize:   cfg.LotSize,
		Status:    cycle.StatusActive,
		GridLevel: 0,
		IsInitial: true,
		OrderType: cycle.OrderTypeGridZero,
		OpenTime:  c.CreatedAt,
	}
	if err := c.AddOrder(initial); err != nil {
		return nil, err
	}
	if err := r.coord.AddCycle(c, pipValue); err != nil {
		return nil, err
	}
	r.coord.SeedLastCyclePrice(entryPrice)
	r.captureAndSnapshot(ctx, c, initial)
	return c, nil
}

func (r *Router) currentPrice(ctx context.Context, symbol string, side brokerport.Side) (float64, error) {
	if side == brokerport.Buy {
		return r.broker.Ask(ctx, symbol)
	}
	return r.broker.Bid(ctx, symbol)
}

func (r *Router) handleCloseOrder(ctx context.Context, cmd Command) Response {
	for _, c := range r.coord.All() {
		for _, o := range c.Orders {
			if o.OrderID == cmd.OrderID {
				if err := r.broker.CancelPending(ctx, o.OrderID, c.Symbol); err != nil && !brokerport.IsNotFound(err) {
					return NewResponse(cmd, StatusFailed, c.CycleID, err.Error())
				}
				o.Status = cycle.StatusClosed
				return NewResponse(cmd, StatusCompleted, c.CycleID, "")
			}
		}
	}
	return NewResponse(cmd, StatusFailed, "", "order not found")
}

func (r *Router) handleCloseCycle(ctx context.Context, cmd Command) Response {
	var targets []string
	switch {
	case cmd.TargetAll:
		for _, c := range r.coord.All() {
			targets = append(targets, c.CycleID)
		}
	case len(cmd.CycleIDs) > 0:
		targets = cmd.CycleIDs
	case cmd.CycleID != "":
		targets = []string{cmd.CycleID}
	default:
		return NewResponse(cmd, StatusFailed, "", "no cycle target specified")
	}

	closed := 0
	lastCycleID := ""
	for _, id := range targets {
		c, ok := r.coord.ByID(id)
		if !ok {
			continue
		}
		if err := r.closure.CloseManually(ctx, c); err != nil {
			r.log.Warn().Str("cycle_id", id).Err(err).Msg("close_cycle command failed")
			continue
		}
		r.coord.MarkClosed(id)
		r.coord.RemoveCycle(id)
		if r.batcher != nil {
			if err := r.batcher.Close(ctx, c); err != nil {
				r.log.Warn().Str("cycle_id", id).Err(err).Msg("forced closure snapshot write failed")
			}
		}
		lastCycleID = id
		closed++
	}
	return NewResponse(cmd, StatusCompleted, lastCycleID, fmt.Sprintf("%d cycles closed", closed))
}
