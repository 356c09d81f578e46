package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the engine's prometheus metric set. One instance is built at
// startup and threaded into the placer, coordinator, and grid manager,
// mirroring the C3 "statistics()" view of spec.md §4.3 and the C8 cycle
// counters of §4.7.
type Metrics struct {
	Registry *prometheus.Registry

	PlacerImmediateAttempts prometheus.Counter
	PlacerImmediateSuccess  prometheus.Counter
	PlacerQueued            prometheus.Counter
	PlacerBackgroundSuccess prometheus.Counter
	PlacerFailed            *prometheus.CounterVec // labeled by failure kind

	ActiveCycles   prometheus.Gauge
	CyclesOpened   prometheus.Counter
	CyclesClosed   *prometheus.CounterVec // labeled by closing_method
	PendingOrders  prometheus.Gauge
	ZoneBreaches   prometheus.Counter
	ReversalEvents prometheus.Counter

	SnapshotWriteFailures prometheus.Counter
}

// NewMetrics registers and returns the engine's metric set against a fresh
// registry, so tests can assert on it without colliding with the default
// global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		PlacerImmediateAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moveguard_placer_immediate_attempts_total",
			Help: "Immediate (synchronous) order-submission attempts.",
		}),
		PlacerImmediateSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moveguard_placer_immediate_success_total",
			Help: "Order submissions that succeeded without reaching the background queue.",
		}),
		PlacerQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moveguard_placer_queued_total",
			Help: "Order submissions handed off to the background queue.",
		}),
		PlacerBackgroundSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moveguard_placer_background_success_total",
			Help: "Background-queue retries that eventually succeeded.",
		}),
		PlacerFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moveguard_placer_failed_total",
			Help: "Order submissions that exhausted all retries, by failure kind.",
		}, []string{"kind"}),
		ActiveCycles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moveguard_active_cycles",
			Help: "Currently active cycles tracked by the coordinator.",
		}),
		CyclesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moveguard_cycles_opened_total",
			Help: "Cycles created.",
		}),
		CyclesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moveguard_cycles_closed_total",
			Help: "Cycles closed, by closing method.",
		}, []string{"method"}),
		PendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moveguard_pending_orders",
			Help: "Pending stop orders currently tracked across all cycles.",
		}),
		ZoneBreaches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moveguard_zone_breaches_total",
			Help: "Trailing-stop breaches observed by the zone engine.",
		}),
		ReversalEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moveguard_reversal_events_total",
			Help: "Confirmed reversal events (SPEC_FULL.md §6.1).",
		}),
		SnapshotWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moveguard_snapshot_write_failures_total",
			Help: "Cycle snapshot writes that returned an error from the store.",
		}),
	}

	reg.MustRegister(
		m.PlacerImmediateAttempts, m.PlacerImmediateSuccess, m.PlacerQueued,
		m.PlacerBackgroundSuccess, m.PlacerFailed,
		m.ActiveCycles, m.CyclesOpened, m.CyclesClosed, m.PendingOrders,
		m.ZoneBreaches, m.ReversalEvents, m.SnapshotWriteFailures,
	)
	return m
}
