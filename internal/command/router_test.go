package command

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/closure"
	"github.com/moveguard/engine/internal/config"
	"github.com/moveguard/engine/internal/coordinator"
	"github.com/moveguard/engine/internal/cycle"
	"github.com/moveguard/engine/internal/grid"
	"github.com/moveguard/engine/internal/placer"
	"github.com/moveguard/engine/internal/snapshot"
	"github.com/moveguard/engine/internal/store/memstore"
	"github.com/moveguard/engine/internal/telemetry"
)

type fakeBroker struct {
	brokerport.Port
	bid, ask   float64
	nextTicket uint64
	positions  []brokerport.Position
	cancelled  map[uint64]bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{bid: 1.0990, ask: 1.1010, nextTicket: 1, cancelled: make(map[uint64]bool)}
}

func (f *fakeBroker) Bid(context.Context, string) (float64, error) { return f.bid, nil }
func (f *fakeBroker) Ask(context.Context, string) (float64, error) { return f.ask, nil }
func (f *fakeBroker) PlaceMarket(context.Context, brokerport.MarketOrderRequest) (brokerport.MarketOrderResult, error) {
	f.nextTicket++
	return brokerport.MarketOrderResult{Ticket: f.nextTicket}, nil
}
func (f *fakeBroker) CancelPending(_ context.Context, ticket uint64, _ string) error {
	f.cancelled[ticket] = true
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

func newTestRouter(t *testing.T, broker *fakeBroker) *Router {
	r, _ := newTestRouterWithStore(t, broker)
	return r
}

func newTestRouterWithStore(t *testing.T, broker *fakeBroker) (*Router, *memstore.Store) {
	t.Helper()
	log := zerolog.Nop()
	metrics := telemetry.NewMetrics()
	p := placer.New(broker, log, metrics)
	coord := coordinator.New(10, 100, log, metrics)
	gm := grid.New(broker, p, log, metrics)
	ce := closure.New(broker, log)
	backing := memstore.New()
	batcher := snapshot.New(backing, log, metrics, 0, 0)
	return New(broker, p, coord, gm, ce, batcher, log), backing
}

func openOrderCmd(eventID string) Command {
	return Command{EventID: eventID, Type: ActionOpenOrder}
}

func TestHandle_DeduplicatesRepeatedEventID(t *testing.T) {
	broker := newFakeBroker()
	r := newTestRouter(t, broker)
	cfg := config.Defaults()

	cmd := openOrderCmd("e1")
	first := r.Handle(context.Background(), cmd, "EURUSD", 0.0001, cfg)
	require.Equal(t, StatusCompleted, first.Status)

	second := r.Handle(context.Background(), cmd, "EURUSD", 0.0001, cfg)
	require.Equal(t, StatusCompleted, second.Status)
	require.Contains(t, second.Details.Message, "duplicate event")
}

func TestHandleOpenOrder_CreatesCycleAndRegistersWithCoordinator(t *testing.T) {
	broker := newFakeBroker()
	r := newTestRouter(t, broker)
	cfg := config.Defaults()

	resp := r.Handle(context.Background(), openOrderCmd("e1"), "EURUSD", 0.0001, cfg)
	require.Equal(t, StatusCompleted, resp.Status)
	require.NotEmpty(t, resp.CycleID)
	require.Len(t, r.coord.All(), 1)
	require.Equal(t, brokerport.Buy, r.coord.All()[0].Direction)
}

func TestHandleOpenOrder_CapturesInitialProfitAndForcesSnapshotWrite(t *testing.T) {
	broker := newFakeBroker()
	broker.positions = []brokerport.Position{{Ticket: 2, Profit: 4.5, ProfitPips: 3, PriceCurrent: 1.1011}}
	r, backing := newTestRouterWithStore(t, broker)
	cfg := config.Defaults()

	resp := r.Handle(context.Background(), openOrderCmd("e1"), "EURUSD", 0.0001, cfg)
	require.Equal(t, StatusCompleted, resp.Status)

	c := r.coord.All()[0]
	require.InDelta(t, 4.5, c.Orders[0].Profit, 1e-9)

	raw, ok, err := backing.Get(context.Background(), c.CycleID)
	require.NoError(t, err)
	require.True(t, ok)
	var record snapshot.Record
	require.NoError(t, json.Unmarshal(raw, &record))
	require.InDelta(t, 4.5, record.Orders[0].Profit, 1e-9)
}

func TestAutoOpenCycle_CreatesCycleForGivenDirection(t *testing.T) {
	broker := newFakeBroker()
	r := newTestRouter(t, broker)
	cfg := config.Defaults()

	c, err := r.AutoOpenCycle(context.Background(), "EURUSD", 0.0001, cfg, brokerport.Sell)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, brokerport.Sell, c.Direction)
	require.Len(t, r.coord.All(), 1)
}

func TestHandleCloseOrder_ClosesMatchingOrder(t *testing.T) {
	broker := newFakeBroker()
	r := newTestRouter(t, broker)
	cfg := config.Defaults()
	r.Handle(context.Background(), openOrderCmd("e1"), "EURUSD", 0.0001, cfg)

	ticket := r.coord.All()[0].Orders[0].OrderID
	resp := r.Handle(context.Background(), Command{EventID: "e2", Type: ActionCloseOrder, OrderID: ticket}, "EURUSD", 0.0001, cfg)

	require.Equal(t, StatusCompleted, resp.Status)
	require.Equal(t, cycle.StatusClosed, r.coord.All()[0].Orders[0].Status)
}

func TestHandleCloseOrder_FailsWhenOrderUnknown(t *testing.T) {
	broker := newFakeBroker()
	r := newTestRouter(t, broker)
	cfg := config.Defaults()

	resp := r.Handle(context.Background(), Command{EventID: "e1", Type: ActionCloseOrder, OrderID: 9999}, "EURUSD", 0.0001, cfg)
	require.Equal(t, StatusFailed, resp.Status)
}

func TestHandleCloseCycle_ClosesSpecificCycleID(t *testing.T) {
	broker := newFakeBroker()
	r := newTestRouter(t, broker)
	cfg := config.Defaults()
	r.Handle(context.Background(), openOrderCmd("e1"), "EURUSD", 0.0001, cfg)
	id := r.coord.All()[0].CycleID

	resp := r.Handle(context.Background(), Command{EventID: "e2", Type: ActionCloseCycle, CycleID: id}, "EURUSD", 0.0001, cfg)
	require.Equal(t, StatusCompleted, resp.Status)
	require.Contains(t, resp.Details.Message, "1 cycles closed")
	require.Empty(t, r.coord.All())
}

func TestHandleCloseCycle_TargetAllClosesEveryTrackedCycle(t *testing.T) {
	broker := newFakeBroker()
	r := newTestRouter(t, broker)
	cfg := config.Defaults()
	r.Handle(context.Background(), openOrderCmd("e1"), "EURUSD", 0.0001, cfg)
	r.Handle(context.Background(), Command{EventID: "e2", Type: ActionOpenOrder, Direction: intPtr(1)}, "EURUSD", 0.0001, cfg)

	resp := r.Handle(context.Background(), Command{EventID: "e3", Type: ActionCloseCycle, TargetAll: true}, "EURUSD", 0.0001, cfg)
	require.Equal(t, StatusCompleted, resp.Status)
	require.Contains(t, resp.Details.Message, "2 cycles closed")
	require.Empty(t, r.coord.All())
}

func TestHandleCloseCycle_FailsWithNoTargetSpecified(t *testing.T) {
	broker := newFakeBroker()
	r := newTestRouter(t, broker)
	cfg := config.Defaults()

	resp := r.Handle(context.Background(), Command{EventID: "e1", Type: ActionCloseCycle}, "EURUSD", 0.0001, cfg)
	require.Equal(t, StatusFailed, resp.Status)
}

func TestHandle_ActionRecognisedButNotImplementedReturnsFailedNotParseError(t *testing.T) {
	broker := newFakeBroker()
	r := newTestRouter(t, broker)
	cfg := config.Defaults()

	resp := r.Handle(context.Background(), Command{EventID: "e1", Type: ActionUpdateBot}, "EURUSD", 0.0001, cfg)
	require.Equal(t, StatusFailed, resp.Status)
	require.Equal(t, ActionUpdateBot, resp.Action)
}

func intPtr(i int) *int { return &i }
