package grid

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/config"
	"github.com/moveguard/engine/internal/cycle"
	"github.com/moveguard/engine/internal/placer"
	"github.com/moveguard/engine/internal/telemetry"
)

// fakeBroker is a minimal in-memory brokerport.Port for grid package tests:
// PlacePending assigns sequential tickets, ListPositions reflects whatever
// was placed plus any manual overrides the test installs.
type fakeBroker struct {
	nextTicket uint64
	positions  []brokerport.Position
	cancelled  map[uint64]bool
	placeErr   error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{nextTicket: 1, cancelled: make(map[uint64]bool)}
}

func (f *fakeBroker) Bid(context.Context, string) (float64, error)  { return 1.0990, nil }
func (f *fakeBroker) Ask(context.Context, string) (float64, error)  { return 1.1010, nil }
func (f *fakeBroker) SymbolInfo(context.Context, string) (brokerport.SymbolInfo, error) {
	return brokerport.SymbolInfo{Point: 0.00001, Digits: 5}, nil
}
func (f *fakeBroker) PlaceMarket(context.Context, brokerport.MarketOrderRequest) (brokerport.MarketOrderResult, error) {
	f.nextTicket++
	return brokerport.MarketOrderResult{Ticket: f.nextTicket, PriceOpen: 1.1000}, nil
}
func (f *fakeBroker) PlacePending(_ context.Context, req brokerport.PendingOrderRequest) (brokerport.PendingOrderResult, error) {
	if f.placeErr != nil {
		return brokerport.PendingOrderResult{}, f.placeErr
	}
	f.nextTicket++
	t := f.nextTicket
	f.positions = append(f.positions, brokerport.Position{
		Ticket: t, Symbol: req.Symbol, Side: req.Side, Volume: req.Volume,
		PriceOpen: req.TargetPrice, SL: req.SL, TP: req.TP, IsPending: true,
	})
	return brokerport.PendingOrderResult{Ticket: t}, nil
}
func (f *fakeBroker) ModifySLTP(context.Context, uint64, float64, float64) error { return nil }
func (f *fakeBroker) CancelPending(_ context.Context, ticket uint64, _ string) error {
	f.cancelled[ticket] = true
	for i, p := range f.positions {
		if p.Ticket == ticket {
			f.positions = append(f.positions[:i], f.positions[i+1:]...)
			break
		}
	}
	return nil
}
func (f *fakeBroker) PositionByTicket(_ context.Context, ticket uint64) (brokerport.Position, bool, error) {
	for _, p := range f.positions {
		if p.Ticket == ticket {
			return p, true, nil
		}
	}
	return brokerport.Position{}, false, nil
}
func (f *fakeBroker) ListPositions(context.Context, string) ([]brokerport.Position, error) {
	return f.positions, nil
}

func newTestManager(t *testing.T, broker brokerport.Port) *Manager {
	t.Helper()
	log := zerolog.Nop()
	p := placer.New(broker, log, telemetry.NewMetrics())
	return New(broker, p, log, telemetry.NewMetrics())
}

func newTestCycle() *cycle.Cycle {
	cfg := config.Defaults()
	cfg.PendingAheadCount = 3
	c := cycle.New("EURUSD", brokerport.Buy, 1.1000, 0.0001, cfg)
	c.AddOrder(&cycle.Order{
		Direction: brokerport.Buy, Price: 1.1000, LotSize: 0.01,
		Status: cycle.StatusActive, GridLevel: 0, IsInitial: true,
		OrderType: cycle.OrderTypeGridZero,
	})
	return c
}

func TestGridStartPrice_BuyOffsetsFromUpper(t *testing.T) {
	got := GridStartPrice(1.1300, 1.0700, 10, 0.0001, brokerport.Buy)
	require.InDelta(t, 1.1310, got, 1e-9)
}

func TestGridStartPrice_SellOffsetsFromLower(t *testing.T) {
	got := GridStartPrice(1.1300, 1.0700, 10, 0.0001, brokerport.Sell)
	require.InDelta(t, 1.0690, got, 1e-9)
}

func TestLevelPrice_BuyIncreasesWithLevel(t *testing.T) {
	l1 := LevelPrice(1.1310, 1, 50, 0.0001, brokerport.Buy)
	l2 := LevelPrice(1.1310, 2, 50, 0.0001, brokerport.Buy)
	require.InDelta(t, 1.1310, l1, 1e-9)
	require.InDelta(t, 1.1360, l2, 1e-9)
}

func TestStopLossFor_PrefersLiveTrailingStop(t *testing.T) {
	c := newTestCycle()
	c.TrailingStopLoss = 1.0950
	require.Equal(t, 1.0950, StopLossFor(c, 1.1000, 0.0001))
}

func TestStopLossFor_ClipsToMinimumBrokerDistance(t *testing.T) {
	c := newTestCycle()
	c.Config.InitialStopLossPips = 0.0001 // deliberately tighter than the min distance floor
	sl := StopLossFor(c, 1.1000, 0.0001)
	require.InDelta(t, 1.1000-minBrokerDistancePips*0.0001, sl, 1e-9)
}

func TestMaintainPending_PlacesUpToPendingAheadCount(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker)
	c := newTestCycle()

	err := m.MaintainPending(context.Background(), c, 1.0990, 1.1010, 0.0001)
	require.NoError(t, err)
	require.Len(t, c.PendingOrders(), 3)
}

func TestMaintainPending_PlacedOrdersCarryNonZeroStopLoss(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker)
	c := newTestCycle()

	require.NoError(t, m.MaintainPending(context.Background(), c, 1.0990, 1.1010, 0.0001))
	for _, o := range c.PendingOrders() {
		require.NotZero(t, o.SL)
	}
}

func TestMaintainPending_IsIdempotentOnceFull(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker)
	c := newTestCycle()

	require.NoError(t, m.MaintainPending(context.Background(), c, 1.0990, 1.1010, 0.0001))
	require.NoError(t, m.MaintainPending(context.Background(), c, 1.0990, 1.1010, 0.0001))
	require.Len(t, c.PendingOrders(), 3)
}

func TestMaintainPending_CancelsDisagreeingDirection(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker)
	c := newTestCycle()
	require.NoError(t, m.MaintainPending(context.Background(), c, 1.0990, 1.1010, 0.0001))

	wrongWay := c.PendingOrders()[0]
	wrongWay.Direction = brokerport.Sell

	require.NoError(t, m.MaintainPending(context.Background(), c, 1.0990, 1.1010, 0.0001))
	require.Equal(t, cycle.StatusCancelled, wrongWay.Status)
}

func TestGridLevelGapDetected_TrueWhenNotContiguousFromOne(t *testing.T) {
	c := newTestCycle()
	c.AddOrder(&cycle.Order{GridLevel: 2, Status: cycle.StatusPending, OrderType: cycle.OrderTypeGridLevel})
	require.True(t, gridLevelGapDetected(c))
}

func TestGridLevelGapDetected_FalseWhenContiguous(t *testing.T) {
	c := newTestCycle()
	c.AddOrder(&cycle.Order{GridLevel: 1, Status: cycle.StatusPending, OrderType: cycle.OrderTypeGridLevel})
	c.AddOrder(&cycle.Order{GridLevel: 2, Status: cycle.StatusPending, OrderType: cycle.OrderTypeGridLevel})
	require.False(t, gridLevelGapDetected(c))
}

func TestReconcile_PendingBecomesActiveOnFill(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker)
	c := newTestCycle()
	require.NoError(t, m.MaintainPending(context.Background(), c, 1.0990, 1.1010, 0.0001))

	filled := c.PendingOrders()[0]
	for i, p := range broker.positions {
		if p.Ticket == filled.OrderID {
			broker.positions[i].IsPending = false
		}
	}

	require.NoError(t, m.Reconcile(context.Background(), c))
	require.Equal(t, cycle.StatusActive, filled.Status)
}

func TestReconcile_VanishedActiveOrderClosesLocally(t *testing.T) {
	broker := newFakeBroker()
	m := newTestManager(t, broker)
	c := newTestCycle()
	active := c.ActiveOrders()[0]
	active.OrderID = 7 // simulate a ticket the broker no longer reports

	require.NoError(t, m.Reconcile(context.Background(), c))
	require.Equal(t, cycle.StatusClosed, active.Status)
}
