package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moveguard/engine/internal/cycle"
	"github.com/moveguard/engine/internal/store"
	"github.com/moveguard/engine/internal/telemetry"
)

// pending tracks one cycle's unflushed write: the latest encoded record and
// when it last actually hit the store.
type pending struct {
	record    []byte
	lastFlush time.Time
	dueNow    bool
}

// Batcher throttles per-cycle writes by databaseUpdateInterval and coalesces
// interim updates into a queue flushed every batchUpdateInterval (spec.md
// §4.9), writing through a store.Store. Grounded on the placer's background
// drain loop (internal/placer), the same "accumulate, drain on a ticker"
// shape applied to writes instead of retries.
type Batcher struct {
	backing store.Store
	log     zerolog.Logger
	metrics *telemetry.Metrics

	databaseUpdateInterval time.Duration
	batchUpdateInterval    time.Duration

	mu    sync.Mutex
	queue map[string]*pending

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Batcher. Zero durations fall back to the documented
// defaults (database_update_interval=5s, batch_update_interval=10s).
func New(backing store.Store, log zerolog.Logger, metrics *telemetry.Metrics, databaseUpdateInterval, batchUpdateInterval time.Duration) *Batcher {
	if databaseUpdateInterval <= 0 {
		databaseUpdateInterval = 5 * time.Second
	}
	if batchUpdateInterval <= 0 {
		batchUpdateInterval = 10 * time.Second
	}
	return &Batcher{
		backing:                backing,
		log:                    log.With().Str("component", "snapshot_batcher").Logger(),
		metrics:                metrics,
		databaseUpdateInterval: databaseUpdateInterval,
		batchUpdateInterval:    batchUpdateInterval,
		queue:                  make(map[string]*pending),
		stopCh:                 make(chan struct{}),
		doneCh:                 make(chan struct{}),
	}
}

// Start runs the batch-flush loop in the background. Stop must be called to
// release it.
func (b *Batcher) Start(ctx context.Context) {
	go b.loop(ctx)
}

// Stop halts the flush loop. It does not flush a final time; callers that
// need every queued write durable before shutdown should call FlushAll first.
func (b *Batcher) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

func (b *Batcher) loop(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.batchUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.FlushAll(ctx)
		}
	}
}

// Update encodes c and enqueues it for the cycle's next throttled write. If
// database_update_interval has already elapsed since this cycle's last
// flush, the write happens immediately rather than waiting for the next
// batch tick.
func (b *Batcher) Update(ctx context.Context, c *cycle.Cycle) error {
	record, err := Marshal(c)
	if err != nil {
		return err
	}

	b.mu.Lock()
	p, ok := b.queue[c.CycleID]
	if !ok {
		p = &pending{}
		b.queue[c.CycleID] = p
	}
	p.record = record
	dueImmediate := time.Since(p.lastFlush) >= b.databaseUpdateInterval
	if dueImmediate {
		p.dueNow = false
	} else {
		p.dueNow = true
	}
	b.mu.Unlock()

	if dueImmediate {
		return b.flushOne(ctx, c.CycleID)
	}
	return nil
}

// Close forces an immediate, unthrottled write for c and removes it from the
// batch queue (spec.md §4.9: "Closure writes MUST bypass throttling and be
// forced immediately").
func (b *Batcher) Close(ctx context.Context, c *cycle.Cycle) error {
	record, err := Marshal(c)
	if err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.queue, c.CycleID)
	b.mu.Unlock()

	if err := b.backing.Put(ctx, c.CycleID, record); err != nil {
		b.log.Warn().Err(err).Str("cycle_id", c.CycleID).Msg("forced closure snapshot write failed")
		return err
	}
	return nil
}

func (b *Batcher) flushOne(ctx context.Context, cycleID string) error {
	b.mu.Lock()
	p, ok := b.queue[cycleID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	record := p.record
	p.lastFlush = time.Now()
	p.dueNow = false
	b.mu.Unlock()

	if err := b.backing.Put(ctx, cycleID, record); err != nil {
		b.log.Warn().Err(err).Str("cycle_id", cycleID).Msg("snapshot write failed")
		return err
	}
	return nil
}

// FlushAll writes every cycle whose interim updates are still queued
// (dueNow) through to the store, run on the batch_update_interval ticker.
func (b *Batcher) FlushAll(ctx context.Context) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.queue))
	for id, p := range b.queue {
		if p.dueNow {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for _, id := range ids {
		if err := b.flushOne(ctx, id); err != nil && b.metrics != nil {
			b.metrics.SnapshotWriteFailures.Inc()
		}
	}
}
