package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hybridcoord"

// Inference, routing and admission metrics.
var (
	InferenceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_requests_total",
			Help:      "Total inference requests by backend and outcome",
		},
		[]string{"backend", "status"}, // status: success / timeout / error
	)

	InferenceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_request_duration_seconds",
			Help:      "Inference request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)

	InferenceTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_tokens_total",
			Help:      "Inference tokens consumed",
		},
		[]string{"backend", "type"}, // type: prompt / completion
	)

	TokensSavedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_saved_total",
			Help:      "Tokens served by the local backend instead of the remote one",
		},
	)

	RemoteBudgetTokensRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_budget_tokens_remaining",
			Help:      "Remaining remote token budget",
		},
		[]string{"period"},
	)

	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by route and reason",
		},
		[]string{"route", "reason"},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the per-client rate limiter",
		},
		[]string{"window"},
	)

	ValidationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Queries rejected by the validator",
		},
		[]string{"reason"},
	)
)

// Knowledge lifecycle metrics.
var (
	ValueScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "value_score",
			Help:      "Distribution of interaction value scores",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	KnowledgePromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_promotions_total",
			Help:      "Promotion attempts of interactions into knowledge entries",
		},
		[]string{"result"}, // created / duplicate / failed
	)

	PersistenceDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_dropped_total",
			Help:      "Interaction records dropped because the persistence queue was full or closed",
		},
	)

	GCRowsAffectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_rows_affected_total",
			Help:      "Knowledge entries removed or merged by GC step",
		},
		[]string{"step"},
	)

	GCStepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_step_failures_total",
			Help:      "Failed GC steps",
		},
		[]string{"step"},
	)

	GCPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gc_pass_duration_seconds",
			Help:      "Duration of a full GC pass",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	GCLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gc_last_success_timestamp_seconds",
			Help:      "Unix time of the last GC pass without step failures",
		},
	)
)

// Health metrics.
var (
	DependencyHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_health",
			Help:      "Dependency check result (1 healthy, 0 failing)",
		},
		[]string{"dependency"},
	)

	HealthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_check_duration_seconds",
			Help:      "Dependency check duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"dependency"},
	)
)

var registerOnce sync.Once

// Register registers every service metric with the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		collectors := append(embeddingCollectors(),
			InferenceRequestsTotal,
			InferenceRequestDuration,
			InferenceTokensTotal,
			TokensSavedTotal,
			RemoteBudgetTokensRemaining,
			RoutingDecisionsTotal,
			RateLimitRejectionsTotal,
			ValidationRejectionsTotal,
			ValueScore,
			KnowledgePromotionsTotal,
			PersistenceDroppedTotal,
			GCRowsAffectedTotal,
			GCStepFailuresTotal,
			GCPassDuration,
			GCLastSuccess,
			DependencyHealth,
			HealthCheckDuration,
		)
		prometheus.MustRegister(collectors...)
	})
}
