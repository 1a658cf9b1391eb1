package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fisioflow_ai_query_duration_seconds",
			Help:    "Query resolution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisioflow_ai_query_total",
			Help: "Total number of queries resolved",
		},
		[]string{"source", "status"},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fisioflow_ai_confidence_score",
			Help:    "Response confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"source"},
	)

	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisioflow_ai_provider_requests_total",
			Help: "Premium provider calls",
		},
		[]string{"provider", "status"},
	)

	ProviderTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisioflow_ai_provider_tokens_total",
			Help: "Tokens consumed per premium provider",
		},
		[]string{"provider"},
	)

	ProviderUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fisioflow_ai_provider_usage_ratio",
			Help: "Highest window usage ratio per provider",
		},
		[]string{"provider"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisioflow_ai_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"tier"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisioflow_ai_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"tier"},
	)

	CacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisioflow_ai_cache_evictions_total",
			Help: "Entries removed by expiry sweeps and emergency cleanup",
		},
		[]string{"tier", "reason"},
	)

	KnowledgeEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fisioflow_ai_knowledge_entries",
			Help: "Entries in the knowledge base index",
		},
	)

	EstimatedSavings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fisioflow_ai_estimated_savings_usd",
			Help: "Estimated savings over the last 30 days",
		},
	)

	UserSatisfaction = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fisioflow_ai_satisfaction_score",
			Help: "Share of helpful feedback over the last 30 days",
		},
	)

	AlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisioflow_ai_alerts_total",
			Help: "Alerts raised by type",
		},
		[]string{"type"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(ConfidenceScore)
		prometheus.MustRegister(ProviderRequests)
		prometheus.MustRegister(ProviderTokens)
		prometheus.MustRegister(ProviderUsage)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(CacheEvictions)
		prometheus.MustRegister(KnowledgeEntries)
		prometheus.MustRegister(EstimatedSavings)
		prometheus.MustRegister(UserSatisfaction)
		prometheus.MustRegister(AlertsRaised)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
