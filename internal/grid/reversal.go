package grid

import "sync"

// ReversalMonitor tracks, per cycle, how many consecutive reconciled ticks a
// trailing-stop breach has held. Grounded on ReversalMonitor in
// original_source's enhanced_zone_detection.py: the distilled trailing-stop
// trigger (spec.md §4.4.7) fires on the first tick that crosses the TSL,
// but the original requires the breach to persist for reversal_confirm_ticks
// consecutive ticks before treating it as a real reversal rather than a
// single noisy tick. With the config default of 1 this degenerates to
// spec.md's original first-tick behaviour.
type ReversalMonitor struct {
	mu     sync.Mutex
	streak map[string]int
}

// NewReversalMonitor constructs an empty monitor.
func NewReversalMonitor() *ReversalMonitor {
	return &ReversalMonitor{streak: make(map[string]int)}
}

// Observe records one tick's breach state for cycleID and reports whether
// the breach has now persisted for requiredTicks consecutive observations.
// A non-breaching observation resets the streak to zero. requiredTicks <= 0
// is treated as 1.
func (r *ReversalMonitor) Observe(cycleID string, breached bool, requiredTicks int) bool {
	if requiredTicks <= 0 {
		requiredTicks = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !breached {
		delete(r.streak, cycleID)
		return false
	}

	r.streak[cycleID]++
	confirmed := r.streak[cycleID] >= requiredTicks
	if confirmed {
		delete(r.streak, cycleID)
	}
	return confirmed
}

// Reset clears any in-progress streak for cycleID, used once a cycle has
// actually reset its trailing state so a stale streak can't immediately
// re-confirm on the very next tick.
func (r *ReversalMonitor) Reset(cycleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streak, cycleID)
}
