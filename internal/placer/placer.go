// Package placer implements the resilient order placer (spec.md §4.3, C3):
// an immediate-retry-then-background-queue submission pipeline with bounded
// diagnostic histories and a failure-kind taxonomy.
package placer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moveguard/engine/internal/brokerport"
	"github.com/moveguard/engine/internal/telemetry"
)

// immediateBackoff is the fixed retry schedule for immediate (synchronous)
// retries (spec.md §4.3 step 3).
var immediateBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second}

const (
	defaultImmediateRetries   = 2
	defaultMaxBackgroundRetry = 5
	defaultHistoryCap         = 1000
)

// FailureKind classifies why a placement ultimately failed, matching the
// three buckets spec.md §4.3 names explicitly.
type FailureKind string

const (
	FailureNone      FailureKind = "none_result"
	FailureNoTicket  FailureKind = "no_ticket"
	FailureException FailureKind = "exception"
)

// Request is a broker order to place, market or pending, tagged with the
// owning cycle for diagnostics (spec.md §4.3 step 4: "request_id, cycle_id,
// creation_time, attempt count").
type Request struct {
	RequestID    string
	CycleID      string
	Market       *brokerport.MarketOrderRequest
	Pending      *brokerport.PendingOrderRequest
	CreationTime time.Time
	Attempts     int

	// notBefore gates background retries to delayForAttempt(Attempts) apart,
	// rather than retrying on every 5s drain tick regardless of attempt count.
	notBefore time.Time
}

func (r Request) validate() error {
	if r.Market == nil && r.Pending == nil {
		return errors.New("placer: request carries neither a market nor a pending order")
	}
	if r.Market != nil {
		if r.Market.Volume <= 0 {
			return errors.New("placer: volume must be > 0")
		}
		if r.Market.Comment == "" {
			return errors.New("placer: comment required")
		}
	}
	if r.Pending != nil {
		if r.Pending.Volume <= 0 {
			return errors.New("placer: volume must be > 0")
		}
		if r.Pending.TargetPrice <= 0 {
			return errors.New("placer: price must be > 0")
		}
		if r.Pending.Comment == "" {
			return errors.New("placer: comment required")
		}
	}
	return nil
}

// Outcome is what Place returns: either an immediate ticket, or an
// indication that the request was handed to the background queue.
type Outcome struct {
	Ticket uint64
	Queued bool
}

// Record is one bounded-history diagnostic entry.
type Record struct {
	RequestID string
	CycleID   string
	Ticket    uint64
	At        time.Time
	Err       error
}

// Statistics is the read-only view spec.md §4.3 calls statistics().
type Statistics struct {
	Successes      []Record
	Failures       []Record
	FailureCounts  map[FailureKind]int
	QueueDepth     int
	FailedOrders   []Request
}

// Placer is the resilient order placer.
type Placer struct {
	broker  brokerport.Port
	log     zerolog.Logger
	metrics *telemetry.Metrics

	immediateRetries   int
	maxBackgroundRetry int
	historyCap         int

	mu            sync.Mutex
	queue         []Request
	successes     []Record
	failures      []Record
	failureCounts map[FailureKind]int
	failedOrders  []Request

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Placer at construction time.
type Option func(*Placer)

// WithImmediateRetries overrides the default immediate-retry count (2).
func WithImmediateRetries(n int) Option { return func(p *Placer) { p.immediateRetries = n } }

// WithMaxBackgroundRetries overrides the default background retry bound (5).
func WithMaxBackgroundRetries(n int) Option { return func(p *Placer) { p.maxBackgroundRetry = n } }

// New constructs a Placer. Call Start to begin draining the background
// queue and Stop to shut it down (spec.md §5: the worker runs on a separate
// goroutine and communicates via a thread-safe queue).
func New(broker brokerport.Port, log zerolog.Logger, metrics *telemetry.Metrics, opts ...Option) *Placer {
	p := &Placer{
		broker:             broker,
		log:                log.With().Str("component", "placer").Logger(),
		metrics:            metrics,
		immediateRetries:   defaultImmediateRetries,
		maxBackgroundRetry: defaultMaxBackgroundRetry,
		historyCap:         defaultHistoryCap,
		failureCounts:      make(map[FailureKind]int),
		stopCh:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the background-queue worker (spec.md §4.3 step 5: drains
// every 5s).
func (p *Placer) Start() {
	p.wg.Add(1)
	go p.backgroundLoop()
}

// Stop signals the background worker to exit; in-flight queue items are
// abandoned to failed_orders (spec.md §5, strategy-stop cancellation order).
func (p *Placer) Stop() {
	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.queue {
		p.recordFailureLocked(r, FailureException, errors.New("placer stopped with request still queued"))
		p.failedOrders = append(p.failedOrders, r)
	}
	p.queue = nil
}

// Place attempts immediate submission with backoff-spaced retries
// (spec.md §4.3 steps 2-3), then hands off to the background queue on
// continued failure (step 4).
func (p *Placer) Place(ctx context.Context, req Request) (Outcome, error) {
	if req.RequestID == "" {
		req.RequestID = fmt.Sprintf("%s-%d", req.CycleID, time.Now().UnixNano())
	}
	if req.CreationTime.IsZero() {
		req.CreationTime = time.Now()
	}
	if err := req.validate(); err != nil {
		return Outcome{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.immediateRetries; attempt++ {
		if p.metrics != nil {
			p.metrics.PlacerImmediateAttempts.Inc()
		}
		ticket, err := p.submit(ctx, req)
		if err == nil {
			if ticket == 0 {
				lastErr = p.classify(req, FailureNoTicket, errors.New("broker returned no ticket"))
				continue
			}
			p.mu.Lock()
			p.recordSuccessLocked(req, ticket)
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.PlacerImmediateSuccess.Inc()
			}
			return Outcome{Ticket: ticket}, nil
		}
		lastErr = err
		if !brokerport.IsRetryableImmediately(err) {
			break
		}
		if attempt < len(immediateBackoff) {
			select {
			case <-time.After(immediateBackoff[attempt]):
			case <-ctx.Done():
				return Outcome{}, ctx.Err()
			}
		}
	}

	p.mu.Lock()
	p.queue = append(p.queue, req)
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.PlacerQueued.Inc()
	}
	p.log.Warn().Str("request_id", req.RequestID).Err(lastErr).Msg("order queued for background retry")
	return Outcome{Queued: true}, lastErr
}

func (p *Placer) submit(ctx context.Context, req Request) (uint64, error) {
	defer func() {
		if r := recover(); r != nil {
			p.classify(req, FailureException, fmt.Errorf("panic: %v", r))
		}
	}()
	switch {
	case req.Market != nil:
		res, err := p.broker.PlaceMarket(ctx, *req.Market)
		if err != nil {
			return 0, p.classify(req, FailureException, err)
		}
		return res.Ticket, nil
	case req.Pending != nil:
		res, err := p.broker.PlacePending(ctx, *req.Pending)
		if err != nil {
			return 0, p.classify(req, FailureException, err)
		}
		return res.Ticket, nil
	default:
		return 0, p.classify(req, FailureNone, errors.New("empty request"))
	}
}

func (p *Placer) classify(req Request, kind FailureKind, err error) error {
	p.mu.Lock()
	p.recordFailureLocked(req, kind, err)
	p.mu.Unlock()
	return err
}

func (p *Placer) recordSuccessLocked(req Request, ticket uint64) {
	p.successes = appendBounded(p.successes, Record{
		RequestID: req.RequestID, CycleID: req.CycleID, Ticket: ticket, At: time.Now(),
	}, p.historyCap)
}

func (p *Placer) recordFailureLocked(req Request, kind FailureKind, err error) {
	p.failures = appendBounded(p.failures, Record{
		RequestID: req.RequestID, CycleID: req.CycleID, At: time.Now(), Err: err,
	}, p.historyCap)
	p.failureCounts[kind]++
}

func appendBounded(hist []Record, rec Record, cap int) []Record {
	hist = append(hist, rec)
	if len(hist) > cap {
		hist = hist[len(hist)-cap:]
	}
	return hist
}

// backgroundLoop drains the queue every 5s, retrying each item up to
// maxBackgroundRetry times with delay min(attempt*5s, 30s) (spec.md §4.3
// step 5).
func (p *Placer) backgroundLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.drainOnce()
		}
	}
}

func (p *Placer) drainOnce() {
	p.mu.Lock()
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	var requeue []Request
	now := time.Now()
	for _, req := range pending {
		if req.notBefore.After(now) {
			requeue = append(requeue, req)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ticket, err := p.submit(ctx, req)
		cancel()

		if err == nil && ticket != 0 {
			p.mu.Lock()
			p.recordSuccessLocked(req, ticket)
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.PlacerBackgroundSuccess.Inc()
			}
			continue
		}

		req.Attempts++
		if req.Attempts >= p.maxBackgroundRetry {
			p.mu.Lock()
			p.failedOrders = append(p.failedOrders, req)
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.PlacerFailed.WithLabelValues(string(FailureException)).Inc()
			}
			p.log.Error().Str("request_id", req.RequestID).Msg("order placement exhausted background retries")
			continue
		}
		req.notBefore = now.Add(delayForAttempt(req.Attempts))
		requeue = append(requeue, req)
	}

	if len(requeue) > 0 {
		p.mu.Lock()
		p.queue = append(p.queue, requeue...)
		p.mu.Unlock()
	}
}

// delayForAttempt returns min(attempt*5s, 30s): the minimum spacing between
// background retries of the same request (spec.md §4.3 step 5).
func delayForAttempt(attempt int) time.Duration {
	d := time.Duration(attempt) * 5 * time.Second
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

// Statistics returns a snapshot of the placer's diagnostics (spec.md §4.3:
// "Expose a statistics() view").
func (p *Placer) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := make(map[FailureKind]int, len(p.failureCounts))
	for k, v := range p.failureCounts {
		counts[k] = v
	}
	return Statistics{
		Successes:     append([]Record(nil), p.successes...),
		Failures:      append([]Record(nil), p.failures...),
		FailureCounts: counts,
		QueueDepth:    len(p.queue),
		FailedOrders:  append([]Request(nil), p.failedOrders...),
	}
}
