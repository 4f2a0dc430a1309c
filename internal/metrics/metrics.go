package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pkt.systems/cursortrail/schema"
)

const namespace = "cursortrail"

// Pool collects window pool counters. A nil *Pool is valid and records nothing.
type Pool struct {
	acquires       *prometheus.CounterVec
	reuseFailures  *prometheus.CounterVec
	rollovers      *prometheus.CounterVec
	pruned         prometheus.Counter
	invalidRemoved prometheus.Counter
	hidden         prometheus.Counter
	purged         prometheus.Counter
	frames         *prometheus.CounterVec
	draws          *prometheus.CounterVec
	windows        *prometheus.GaugeVec
	budget         prometheus.Gauge
}

// New registers the pool collectors with reg. A nil registerer creates
// unregistered collectors, which is convenient in tests.
func New(reg prometheus.Registerer) *Pool {
	factory := promauto.With(reg)
	return &Pool{
		acquires: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquires_total",
			Help:      "Window acquisitions by strategy",
		}, []string{"source"}),
		reuseFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "reuse_failures_total",
			Help:      "Window reuse failures by reason",
		}, []string{"reason"}),
		rollovers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "rollovers_total",
			Help:      "In-use windows released at end of frame by outcome",
		}, []string{"outcome"}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "pruned_total",
			Help:      "Windows evicted by LRU pruning",
		}),
		invalidRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "invalid_removed_total",
			Help:      "Invalid windows swept from tracking",
		}),
		hidden: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "hidden_total",
			Help:      "Visible idle windows hidden by release",
		}),
		purged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "purged_total",
			Help:      "Windows closed by purge, including orphans",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "frames_total",
			Help:      "Animation frames by result",
		}, []string{"result"}),
		draws: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "draws_total",
			Help:      "Window payload draws by result",
		}, []string{"result"}),
		windows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "windows",
			Help:      "Tracked windows across all tabs by state",
		}, []string{"state"}),
		budget: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "cached_budget",
			Help:      "Sum of adaptive budgets across all tabs",
		}),
	}
}

// ObserveAcquire counts a successful acquisition.
func (m *Pool) ObserveAcquire(source string) {
	if m == nil {
		return
	}
	m.acquires.WithLabelValues(source).Inc()
}

// ObserveReuseFailures counts reuse failures by reason.
func (m *Pool) ObserveReuseFailures(missingWindow, reconfigureFailed, missingBuffer int) {
	if m == nil {
		return
	}
	if missingWindow > 0 {
		m.reuseFailures.WithLabelValues("missing_window").Add(float64(missingWindow))
	}
	if reconfigureFailed > 0 {
		m.reuseFailures.WithLabelValues("reconfigure_failed").Add(float64(reconfigureFailed))
	}
	if missingBuffer > 0 {
		m.reuseFailures.WithLabelValues("missing_buffer").Add(float64(missingBuffer))
	}
}

// ObserveRollover counts released and recovered windows.
func (m *Pool) ObserveRollover(released, recoveredStale int) {
	if m == nil {
		return
	}
	if released > 0 {
		m.rollovers.WithLabelValues("released").Add(float64(released))
	}
	if recoveredStale > 0 {
		m.rollovers.WithLabelValues("recovered_stale").Add(float64(recoveredStale))
	}
}

// ObservePruned counts LRU evictions.
func (m *Pool) ObservePruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.Add(float64(n))
}

// ObserveInvalidRemoved counts invalid windows dropped from tracking.
func (m *Pool) ObserveInvalidRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invalidRemoved.Add(float64(n))
}

// ObserveHidden counts windows hidden by release.
func (m *Pool) ObserveHidden(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.hidden.Add(float64(n))
}

// ObservePurged counts windows closed by purge.
func (m *Pool) ObservePurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}

// ObserveFrame counts an animation frame. Result is "drawn", "skipped" or "settled".
func (m *Pool) ObserveFrame(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result).Inc()
}

// ObserveDraw counts a payload draw. Result is "drawn", "cached",
// "missing_buffer" or "failed".
func (m *Pool) ObserveDraw(result string) {
	if m == nil {
		return
	}
	m.draws.WithLabelValues(result).Inc()
}

// SetSnapshot publishes global pool occupancy.
func (m *Pool) SetSnapshot(snap schema.PoolSnapshot) {
	if m == nil {
		return
	}
	m.windows.WithLabelValues("total").Set(float64(snap.Total))
	m.windows.WithLabelValues("available").Set(float64(snap.Available))
	m.windows.WithLabelValues("in_use").Set(float64(snap.InUse))
	m.budget.Set(float64(snap.CachedBudget))
}
