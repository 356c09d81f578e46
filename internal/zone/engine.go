package zone

import "sync"

// Engine sits beside the pure Decide/Bounds functions and holds the
// process-lifetime diagnostic counters the original Python EnhancedZoneDetection tracked
// (zone_breach_count, reversal_count) and the distillation dropped
// (SPEC_FULL.md §6.2). These counters are never persisted — they exist for
// telemetry only.
type Engine struct {
	mu             sync.Mutex
	BreachCount    int
	ReversalCount  int
	FalseSignal    int
}

// NewEngine constructs a zero-valued Engine.
func NewEngine() *Engine { return &Engine{} }

// RecordBreach increments the breach counter; called whenever a trailing
// stop trigger fires (spec.md §4.4.7).
func (e *Engine) RecordBreach() {
	e.mu.Lock()
	e.BreachCount++
	e.mu.Unlock()
}

// RecordReversal increments the confirmed-reversal counter (SPEC_FULL.md
// §6.1).
func (e *Engine) RecordReversal() {
	e.mu.Lock()
	e.ReversalCount++
	e.mu.Unlock()
}

// RecordFalseSignal increments the false-signal counter: a breach that
// failed to persist through ReversalConfirmTicks.
func (e *Engine) RecordFalseSignal() {
	e.mu.Lock()
	e.FalseSignal++
	e.mu.Unlock()
}

// Snapshot returns a consistent copy of the counters for telemetry export.
func (e *Engine) Snapshot() (breaches, reversals, falseSignals int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.BreachCount, e.ReversalCount, e.FalseSignal
}
