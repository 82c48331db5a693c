/*
Package metrics provides Prometheus metrics collection and exposition for
pactown, plus a small health/readiness/liveness HTTP surface for the
orchestrator's optional admin listener.

# Metrics Catalog

pactown_sandboxes_total{state}:
  - Gauge, count of sandboxes currently in each lifecycle state.

pactown_service_starts_total{outcome}:
  - Counter, start attempts by outcome ("healthy", "failed").

pactown_service_start_duration_seconds:
  - Histogram, time from process launch to healthy.

pactown_health_probe_attempts_total{service}:
  - Counter, startup probe attempts per service.

pactown_cache_hits_total / pactown_cache_misses_total:
  - Counters, dependency environment cache lookups.

pactown_cached_environments_total:
  - Gauge, environments currently cached on disk.

pactown_allocated_ports_total:
  - Gauge, ports currently issued by the allocator.

pactown_policy_decisions_total{outcome}:
  - Counter, security policy admission decisions.

pactown_anomaly_events_total{type}:
  - Counter, anomaly events recorded by type.

pactown_process_exits_total{signal}:
  - Counter, supervised process exits by terminating signal (SIGTERM,
    SIGKILL or SIGINT; empty for any other exit, clean or not).

# Usage

	timer := metrics.NewTimer()
	// ... start a service ...
	timer.ObserveDuration(metrics.ServiceStartDuration)

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())

GetReadiness reports not-ready until the registry, dependency cache, and
sandbox manager have each called RegisterComponent with a healthy state,
so a load balancer never routes to a pactown instance still wiring up
its own subsystems.
*/
package metrics
