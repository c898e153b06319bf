package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the voucher claim pipeline.
type Metrics struct {
	ClaimsTotal        *prometheus.CounterVec // by path (fast|queued)
	ClaimsSuccessTotal prometheus.Counter
	ClaimsFailedTotal  *prometheus.CounterVec // by reason
	ClaimDuration      prometheus.Histogram

	LimitViolationsTotal prometheus.Counter
	RateLimitHitsTotal   *prometheus.CounterVec // by scope (user|ip)

	RefundsTotal prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	QueueDepth        *prometheus.GaugeVec // by state
	QueueRetriesTotal prometheus.Counter

	BreakerTransitionsTotal *prometheus.CounterVec // by from,to
}

// New creates and registers all metrics. A nil registry falls back to the
// default registerer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		ClaimsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voucher_claims_total",
				Help: "Total number of claim attempts",
			},
			[]string{"path"},
		),
		ClaimsSuccessTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voucher_claims_success_total",
				Help: "Total number of committed claims",
			},
		),
		ClaimsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voucher_claims_failed_total",
				Help: "Total number of failed claims",
			},
			[]string{"reason"},
		),
		ClaimDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "voucher_claim_duration_seconds",
				Help:    "Latency of the claim transaction",
				Buckets: prometheus.DefBuckets,
			},
		),
		LimitViolationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voucher_limit_violations_total",
				Help: "Claims rejected at the authoritative per-user limit check",
			},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voucher_rate_limit_hits_total",
				Help: "Requests rejected by admission control",
			},
			[]string{"scope"},
		),
		RefundsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voucher_refunds_total",
				Help: "Total number of committed refunds",
			},
		),
		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voucher_cache_hits_total",
				Help: "Cache lookups answered from the KV store",
			},
		),
		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voucher_cache_misses_total",
				Help: "Cache lookups that fell through to the backing store",
			},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voucher_queue_depth",
				Help: "Number of claim jobs per queue state",
			},
			[]string{"state"},
		),
		QueueRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "voucher_queue_retries_total",
				Help: "Claim jobs re-scheduled after a transient failure",
			},
		),
		BreakerTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voucher_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),
	}
}
