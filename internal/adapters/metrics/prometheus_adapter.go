package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eamgw_cache_hits_total",
			Help: "Cache hits, labelled by namespace and tier (memory, persistent).",
		},
		[]string{"namespace", "tier"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eamgw_cache_misses_total",
			Help: "Cache misses across both tiers, labelled by namespace.",
		},
		[]string{"namespace"},
	)

	StaleFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eamgw_cache_stale_fallbacks_total",
			Help: "Stale persistent-tier reads served after a failed remote call.",
		},
		[]string{"namespace"},
	)

	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eamgw_remote_calls_total",
			Help: "Remote API calls, labelled by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eamgw_remote_call_duration_seconds",
			Help:    "Latency of remote API calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eamgw_credential_refresh_total",
			Help: "Proactive and forced credential refreshes, labelled by outcome.",
		},
		[]string{"outcome"},
	)

	EscalationStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eamgw_search_escalation_steps_total",
			Help: "Escalation ladder rungs attempted, labelled by strategy name.",
		},
		[]string{"strategy"},
	)

	BackgroundLoginsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eamgw_background_logins_in_flight",
			Help: "Background login attempts currently running.",
		},
	)
)

// IncrementCacheHit increments the hit counter for a namespace and tier.
func IncrementCacheHit(namespace, tier string) {
	CacheHitsTotal.WithLabelValues(namespace, tier).Inc()
}

// IncrementCacheMiss increments the miss counter for a namespace.
func IncrementCacheMiss(namespace string) {
	CacheMissesTotal.WithLabelValues(namespace).Inc()
}

// IncrementStaleFallback records a degraded stale read for a namespace.
func IncrementStaleFallback(namespace string) {
	StaleFallbacksTotal.WithLabelValues(namespace).Inc()
}

// ObserveRemoteCall records one remote call with its outcome and latency.
func ObserveRemoteCall(endpoint, outcome string, seconds float64) {
	RemoteCallsTotal.WithLabelValues(endpoint, outcome).Inc()
	RemoteCallDuration.WithLabelValues(endpoint).Observe(seconds)
}

// IncrementRefresh records a credential refresh outcome ("success"/"failure").
func IncrementRefresh(outcome string) {
	RefreshTotal.WithLabelValues(outcome).Inc()
}

// IncrementEscalationStep records one attempted escalation rung.
func IncrementEscalationStep(strategy string) {
	EscalationStepsTotal.WithLabelValues(strategy).Inc()
}

// IncrementBackgroundLogins increments the in-flight background login gauge.
func IncrementBackgroundLogins() {
	BackgroundLoginsInFlight.Inc()
}

// DecrementBackgroundLogins decrements the in-flight background login gauge.
func DecrementBackgroundLogins() {
	BackgroundLoginsInFlight.Dec()
}
