package closure

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/config"
	"github.com/moveguard/engine/internal/cycle"
)

type fakeBroker struct {
	positions map[uint64]brokerport.Position
	cancelled map[uint64]bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{positions: make(map[uint64]brokerport.Position), cancelled: make(map[uint64]bool)}
}

func (f *fakeBroker) Bid(context.Context, string) (float64, error) { return 1.1000, nil }
func (f *fakeBroker) Ask(context.Context, string) (float64, error) { return 1.1002, nil }
func (f *fakeBroker) SymbolInfo(context.Context, string) (brokerport.SymbolInfo, error) {
	return brokerport.SymbolInfo{}, nil
}
func (f *fakeBroker) PlaceMarket(context.Context, brokerport.MarketOrderRequest) (brokerport.MarketOrderResult, error) {
	return brokerport.MarketOrderResult{}, nil
}
func (f *fakeBroker) PlacePending(context.Context, brokerport.PendingOrderRequest) (brokerport.PendingOrderResult, error) {
	return brokerport.PendingOrderResult{}, nil
}
func (f *fakeBroker) ModifySLTP(context.Context, uint64, float64, float64) error { return nil }
func (f *fakeBroker) CancelPending(_ context.Context, ticket uint64, _ string) error {
	f.cancelled[ticket] = true
	return nil
}
func (f *fakeBroker) PositionByTicket(_ context.Context, ticket uint64) (brokerport.Position, bool, error) {
	pos, ok := f.positions[ticket]
	return pos, ok, nil
}
func (f *fakeBroker) ListPositions(context.Context, string) ([]brokerport.Position, error) {
	return nil, nil
}

func newTestCycle(takeProfit float64) *cycle.Cycle {
	cfg := config.Defaults()
	cfg.CycleTakeProfitPips = takeProfit
	c := cycle.New("EURUSD", brokerport.Buy, 1.1000, 0.0001, cfg)
	c.AddOrder(&cycle.Order{
		Direction: brokerport.Buy, Price: 1.1000, LotSize: 0.01, OrderID: 1,
		Status: cycle.StatusActive, GridLevel: 0, IsInitial: true,
		OrderType: cycle.OrderTypeGridZero,
	})
	return c
}

func newEngine(broker *fakeBroker) *Engine {
	return New(broker, zerolog.Nop())
}

func TestTotalProfit_SumsClosedAndLiveActivePositions(t *testing.T) {
	broker := newFakeBroker()
	broker.positions[1] = brokerport.Position{Ticket: 1, Profit: 25}
	c := newTestCycle(100)
	c.AddOrder(&cycle.Order{
		Status: cycle.StatusClosed, GridLevel: 1, OrderType: cycle.OrderTypeGridLevel, Profit: 10,
	})

	e := newEngine(broker)
	total, err := e.TotalProfit(context.Background(), c)
	require.NoError(t, err)
	f, _ := total.Float64()
	require.InDelta(t, 35, f, 1e-9)
}

func TestTotalProfit_FallsBackToStoredProfitWhenPositionGone(t *testing.T) {
	broker := newFakeBroker() // no position registered for ticket 1
	c := newTestCycle(100)
	c.ActiveOrders()[0].Profit = 12.5

	e := newEngine(broker)
	total, err := e.TotalProfit(context.Background(), c)
	require.NoError(t, err)
	f, _ := total.Float64()
	require.InDelta(t, 12.5, f, 1e-9)
}

func TestEvaluate_NoCloseBelowThreshold(t *testing.T) {
	broker := newFakeBroker()
	broker.positions[1] = brokerport.Position{Ticket: 1, Profit: 5}
	c := newTestCycle(100)

	e := newEngine(broker)
	closed, err := e.Evaluate(context.Background(), c)
	require.NoError(t, err)
	require.False(t, closed)
	require.Equal(t, cycle.StatusActive, c.Orders[0].Status)
}

func TestEvaluate_ClosesOnThresholdMet(t *testing.T) {
	broker := newFakeBroker()
	broker.positions[1] = brokerport.Position{Ticket: 1, Profit: 100}
	c := newTestCycle(100)

	e := newEngine(broker)
	closed, err := e.Evaluate(context.Background(), c)
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, cycle.StatusClosedCycle, c.Status)
	require.Equal(t, "take_profit", c.Closure.ClosingMethod)
	require.True(t, c.Closure.IsClosed)
	require.InDelta(t, 100, c.Closure.TotalProfitDollars, 1e-9)
	require.True(t, broker.cancelled[1])
}

func TestEvaluate_NoOpWhenAlreadyClosed(t *testing.T) {
	broker := newFakeBroker()
	c := newTestCycle(100)
	c.Status = cycle.StatusClosedCycle

	e := newEngine(broker)
	closed, err := e.Evaluate(context.Background(), c)
	require.NoError(t, err)
	require.False(t, closed)
}

func TestCloseManually_ClosesRegardlessOfProfit(t *testing.T) {
	broker := newFakeBroker()
	broker.positions[1] = brokerport.Position{Ticket: 1, Profit: -40}
	c := newTestCycle(100)

	e := newEngine(broker)
	err := e.CloseManually(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, cycle.StatusClosedCycle, c.Status)
	require.Equal(t, "manual_close", c.Closure.ClosingMethod)
	require.InDelta(t, -40, c.Closure.TotalProfitDollars, 1e-9)
}

func TestCloseManually_CancelsPendingOrders(t *testing.T) {
	broker := newFakeBroker()
	c := newTestCycle(100)
	c.AddOrder(&cycle.Order{
		Direction: brokerport.Buy, Price: 1.1100, LotSize: 0.01, OrderID: 2,
		Status: cycle.StatusPending, GridLevel: 1, OrderType: cycle.OrderTypeGridLevel,
	})

	e := newEngine(broker)
	require.NoError(t, e.CloseManually(context.Background(), c))
	require.True(t, broker.cancelled[2])
	require.Equal(t, cycle.StatusCancelled, c.Orders[1].Status)
}
