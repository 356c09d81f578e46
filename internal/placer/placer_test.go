package placer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/telemetry"
)

type scriptedBroker struct {
	brokerport.Port
	mu        sync.Mutex
	placeFunc func(call int) (brokerport.MarketOrderResult, error)
	calls     int32
}

func (b *scriptedBroker) PlaceMarket(ctx context.Context, req brokerport.MarketOrderRequest) (brokerport.MarketOrderResult, error) {
	n := int(atomic.AddInt32(&b.calls, 1))
	return b.placeFunc(n)
}

func newPlacer(t *testing.T, broker brokerport.Port) *Placer {
	t.Helper()
	log := zerolog.Nop()
	return New(broker, log, telemetry.NewMetrics())
}

func TestPlace_SucceedsOnFirstTry(t *testing.T) {
	broker := &scriptedBroker{placeFunc: func(call int) (brokerport.MarketOrderResult, error) {
		return brokerport.MarketOrderResult{Ticket: 42}, nil
	}}
	p := newPlacer(t, broker)

	outcome, err := p.Place(context.Background(), Request{
		CycleID: "c1",
		Market:  &brokerport.MarketOrderRequest{Symbol: "EURUSD", Side: brokerport.Buy, Volume: 0.01, Comment: "test"},
	})
	require.NoError(t, err)
	require.False(t, outcome.Queued)
	require.EqualValues(t, 42, outcome.Ticket)
}

func TestPlace_NoTicketRetriesThenQueues(t *testing.T) {
	broker := &scriptedBroker{placeFunc: func(call int) (brokerport.MarketOrderResult, error) {
		return brokerport.MarketOrderResult{Ticket: 0}, nil
	}}
	p := newPlacer(t, broker)
	p.immediateRetries = 0 // keep the test fast; the retry loop itself is exercised elsewhere

	outcome, err := p.Place(context.Background(), Request{
		CycleID: "c1",
		Market:  &brokerport.MarketOrderRequest{Symbol: "EURUSD", Side: brokerport.Buy, Volume: 0.01, Comment: "test"},
	})
	require.Error(t, err)
	require.True(t, outcome.Queued)

	stats := p.Statistics()
	require.Equal(t, 1, stats.QueueDepth)
	require.Equal(t, 1, stats.FailureCounts[FailureNoTicket])
}

func TestPlace_RequestValidationRejectsZeroVolume(t *testing.T) {
	p := newPlacer(t, &scriptedBroker{placeFunc: func(int) (brokerport.MarketOrderResult, error) {
		t.Fatal("broker should never be called for an invalid request")
		return brokerport.MarketOrderResult{}, nil
	}})
	_, err := p.Place(context.Background(), Request{
		CycleID: "c1",
		Market:  &brokerport.MarketOrderRequest{Symbol: "EURUSD", Side: brokerport.Buy, Volume: 0, Comment: "test"},
	})
	require.Error(t, err)
}

func TestBackgroundLoop_DrainsQueueAndSucceeds(t *testing.T) {
	var calls int32
	broker := &scriptedBroker{placeFunc: func(call int) (brokerport.MarketOrderResult, error) {
		atomic.AddInt32(&calls, 1)
		return brokerport.MarketOrderResult{Ticket: 99}, nil
	}}
	p := newPlacer(t, broker)
	p.immediateRetries = 0

	// Force the first attempt to fail by queuing directly, bypassing Place's
	// immediate path, to exercise drainOnce in isolation.
	p.mu.Lock()
	p.queue = append(p.queue, Request{RequestID: "r1", CycleID: "c1", Market: &brokerport.MarketOrderRequest{
		Symbol: "EURUSD", Side: brokerport.Buy, Volume: 0.01, Comment: "test",
	}})
	p.mu.Unlock()

	p.drainOnce()

	stats := p.Statistics()
	require.Equal(t, 0, stats.QueueDepth)
	require.Len(t, stats.Successes, 1)
}

func TestBackgroundLoop_ExhaustsRetriesIntoFailedOrders(t *testing.T) {
	broker := &scriptedBroker{placeFunc: func(call int) (brokerport.MarketOrderResult, error) {
		return brokerport.MarketOrderResult{}, brokerport.NewBrokerError("place_market", brokerport.KindRejected, 0, "no margin", nil)
	}}
	p := newPlacer(t, broker)
	p.maxBackgroundRetry = 2

	p.mu.Lock()
	p.queue = append(p.queue, Request{RequestID: "r1", CycleID: "c1", Market: &brokerport.MarketOrderRequest{
		Symbol: "EURUSD", Side: brokerport.Buy, Volume: 0.01, Comment: "test",
	}})
	p.mu.Unlock()

	p.drainOnce() // attempt 1, requeued
	p.mu.Lock()
	for i := range p.queue {
		p.queue[i].notBefore = time.Time{} // bypass the retry spacing for the test
	}
	p.mu.Unlock()
	p.drainOnce() // attempt 2, exhausts maxBackgroundRetry

	stats := p.Statistics()
	require.Len(t, stats.FailedOrders, 1)
	require.Equal(t, 0, stats.QueueDepth)
}

func TestDelayForAttempt_CapsAt30Seconds(t *testing.T) {
	require.Equal(t, 5*time.Second, delayForAttempt(1))
	require.Equal(t, 25*time.Second, delayForAttempt(5))
	require.Equal(t, 30*time.Second, delayForAttempt(100))
}

func TestStartStop_AbandonsQueuedRequestsToFailures(t *testing.T) {
	broker := &scriptedBroker{placeFunc: func(int) (brokerport.MarketOrderResult, error) {
		return brokerport.MarketOrderResult{}, nil
	}}
	p := newPlacer(t, broker)
	p.Start()

	p.mu.Lock()
	p.queue = append(p.queue, Request{RequestID: "abandoned", CycleID: "c1", Market: &brokerport.MarketOrderRequest{
		Symbol: "EURUSD", Side: brokerport.Buy, Volume: 0.01, Comment: "test",
	}})
	p.mu.Unlock()

	p.Stop()

	stats := p.Statistics()
	require.Equal(t, 1, stats.FailureCounts[FailureException])
}
