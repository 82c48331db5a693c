package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SandboxesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pactown_sandboxes_total",
			Help: "Total number of sandboxes by state",
		},
		[]string{"state"},
	)

	ServiceStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pactown_service_starts_total",
			Help: "Total number of service start attempts by outcome",
		},
		[]string{"outcome"},
	)

	ServiceStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pactown_service_start_duration_seconds",
			Help:    "Time from sandbox process launch to healthy, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HealthProbeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pactown_health_probe_attempts_total",
			Help: "Total number of startup health probe attempts by service",
		},
		[]string{"service"},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pactown_cache_hits_total",
			Help: "Total number of dependency environment cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pactown_cache_misses_total",
			Help: "Total number of dependency environment cache misses",
		},
	)

	CachedEnvironmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pactown_cached_environments_total",
			Help: "Number of dependency environments currently cached on disk",
		},
	)

	AllocatedPortsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pactown_allocated_ports_total",
			Help: "Number of ports currently issued by the allocator",
		},
	)

	PolicyDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pactown_policy_decisions_total",
			Help: "Total number of security policy decisions by outcome",
		},
		[]string{"outcome"},
	)

	AnomalyEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pactown_anomaly_events_total",
			Help: "Total number of anomaly events recorded, by type",
		},
		[]string{"type"},
	)

	ProcessExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pactown_process_exits_total",
			Help: "Total number of supervised process exits by signal",
		},
		[]string{"signal"},
	)
)

func init() {
	prometheus.MustRegister(SandboxesTotal)
	prometheus.MustRegister(ServiceStartsTotal)
	prometheus.MustRegister(ServiceStartDuration)
	prometheus.MustRegister(HealthProbeAttemptsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CachedEnvironmentsTotal)
	prometheus.MustRegister(AllocatedPortsTotal)
	prometheus.MustRegister(PolicyDecisionsTotal)
	prometheus.MustRegister(AnomalyEventsTotal)
	prometheus.MustRegister(ProcessExitsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labelValues ...string) {
	histogram.WithLabelValues(labelValues...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
