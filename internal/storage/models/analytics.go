package models

import "time"

type AlertType string

const (
	AlertUsageWarning     AlertType = "usage_warning"
	AlertUsageCritical    AlertType = "usage_critical"
	AlertUsageBlocked     AlertType = "usage_blocked"
	AlertProviderError    AlertType = "provider_error"
	AlertLowCacheHitRate  AlertType = "low_cache_hit_rate"
	AlertHighResponseTime AlertType = "high_response_time"
	AlertHighPremiumUsage AlertType = "high_premium_usage"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID         string         `json:"id"`
	Type       AlertType      `json:"type"`
	Severity   Severity       `json:"severity"`
	Provider   string         `json:"provider,omitempty"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

type Feedback struct {
	Helpful bool `json:"helpful"`
	// Rating is 1..5; zero means not rated.
	Rating  int    `json:"rating,omitempty"`
	Comment string `json:"comment,omitempty"`
}

type QueryMetric struct {
	QueryID      string        `json:"query_id"`
	Type         QueryType     `json:"type"`
	Source       Source        `json:"source"`
	Provider     string        `json:"provider,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	TokensUsed   int           `json:"tokens_used"`
	Confidence   float64       `json:"confidence"`
	Success      bool          `json:"success"`
	Timestamp    time.Time     `json:"timestamp"`
	UserFeedback *Feedback     `json:"user_feedback,omitempty"`
}

type WindowStats struct {
	Window              string            `json:"window"`
	TotalQueries        int               `json:"total_queries"`
	BySource            map[Source]int    `json:"by_source"`
	ByType              map[QueryType]int `json:"by_type"`
	ByProvider          map[string]int    `json:"by_provider"`
	AverageResponseTime time.Duration     `json:"average_response_time"`
	CacheHitRate        float64           `json:"cache_hit_rate"`
	InternalSuccessRate float64           `json:"internal_success_rate"`
	SuccessRate         float64           `json:"success_rate"`
	PremiumTokens       int64             `json:"premium_tokens"`
	AverageConfidence   float64           `json:"average_confidence"`
	Satisfaction        float64           `json:"satisfaction"`
	FeedbackCount       int               `json:"feedback_count"`
}

type EconomyReport struct {
	Window            string  `json:"window"`
	TotalQueries      int     `json:"total_queries"`
	FreeResolutions   int     `json:"free_resolutions"`
	PremiumQueries    int     `json:"premium_queries"`
	PremiumTokens     int64   `json:"premium_tokens"`
	PremiumCost       float64 `json:"premium_cost"`
	CostWithoutEngine float64 `json:"cost_without_engine"`
	EstimatedSavings  float64 `json:"estimated_savings"`
	SavingsPercentage float64 `json:"savings_percentage"`
	ROI               float64 `json:"roi"`
}

type AnalyticsSnapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Last24h     WindowStats     `json:"last_24h"`
	Last7d      WindowStats     `json:"last_7d"`
	Last30d     WindowStats     `json:"last_30d"`
	Economy     EconomyReport   `json:"economy"`
	Providers   []ProviderStats `json:"providers,omitempty"`
	OpenAlerts  []Alert         `json:"open_alerts"`
}

type DailySummary struct {
	Day                 string        `json:"day"`
	TotalQueries        int           `json:"total_queries"`
	InternalQueries     int           `json:"internal_queries"`
	CacheQueries        int           `json:"cache_queries"`
	PremiumQueries      int           `json:"premium_queries"`
	FallbackQueries     int           `json:"fallback_queries"`
	FailedQueries       int           `json:"failed_queries"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	AverageConfidence   float64       `json:"average_confidence"`
	PremiumTokens       int64         `json:"premium_tokens"`
	EstimatedSavings    float64       `json:"estimated_savings"`
}

type DetailedReport struct {
	Period     string         `json:"period"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	Stats      WindowStats    `json:"stats"`
	Economy    EconomyReport  `json:"economy"`
	Daily      []DailySummary `json:"daily"`
	TopQueries []QueryTypeRow `json:"top_query_types"`
	Alerts     []Alert        `json:"alerts"`
}

type QueryTypeRow struct {
	Type                QueryType     `json:"type"`
	Count               int           `json:"count"`
	AverageConfidence   float64       `json:"average_confidence"`
	AverageResponseTime time.Duration `json:"average_response_time"`
}
