package models

import "time"

type UsageStatus string

const (
	StatusAvailable UsageStatus = "available"
	StatusWarning   UsageStatus = "warning"
	StatusCritical  UsageStatus = "critical"
	StatusBlocked   UsageStatus = "blocked"
)

// Rank orders statuses by severity.
func (s UsageStatus) Rank() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	case StatusBlocked:
		return 3
	default:
		return 0
	}
}

// UsageWindow holds one counter per reset window. Counters are request counts.
type UsageWindow struct {
	Hourly  int64 `json:"hourly"`
	Daily   int64 `json:"daily"`
	Monthly int64 `json:"monthly"`
}

type ResetDates struct {
	Hourly  time.Time `json:"hourly"`
	Daily   time.Time `json:"daily"`
	Monthly time.Time `json:"monthly"`
}

type UsageTracker struct {
	Provider    string      `json:"provider"`
	Current     UsageWindow `json:"current"`
	Limits      UsageWindow `json:"limits"`
	Status      UsageStatus `json:"status"`
	Percentage  float64     `json:"percentage"`
	ResetDates  ResetDates  `json:"reset_dates"`
	TotalTokens int64       `json:"total_tokens"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type ProviderStats struct {
	Provider         string        `json:"provider"`
	Enabled          bool          `json:"enabled"`
	Model            string        `json:"model"`
	Usage            UsageTracker  `json:"usage"`
	BreakerState     string        `json:"breaker_state"`
	Requests         int64         `json:"requests"`
	Errors           int64         `json:"errors"`
	LastResponseTime time.Duration `json:"last_response_time"`
	LastUsed         time.Time     `json:"last_used,omitempty"`
}
