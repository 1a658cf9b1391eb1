package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/metrics"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/config"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

const (
	dayLayout            = "2006-01-02"
	summaryRetentionDays = 365
	// minAlertSample is the number of queries in the last 24h before
	// performance alerts are evaluated.
	minAlertSample = 10
)

// Store is the durable side of the aggregator.
type Store interface {
	InsertQueryMetric(ctx context.Context, m *models.QueryMetric) error
	AttachFeedback(ctx context.Context, queryID string, fb *models.Feedback) (bool, error)
	QueryMetricsSince(ctx context.Context, since time.Time) ([]models.QueryMetric, error)
	DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int, error)
	SaveAlert(ctx context.Context, a *models.Alert) error
	ListAlerts(ctx context.Context, onlyOpen bool) ([]models.Alert, error)
	SaveDailySummary(ctx context.Context, s *models.DailySummary) error
	DailySummaries(ctx context.Context, from, to string) ([]models.DailySummary, error)
	DeleteDailySummariesBefore(ctx context.Context, day string) (int, error)
}

// Aggregator keeps the metric log of the retention window in memory and
// mirrors every write to the store when one is configured.
type Aggregator struct {
	cfg    config.AnalyticsConfig
	store  Store
	logger *zap.Logger
	now    func() time.Time

	providerStats func() []models.ProviderStats

	mu      sync.RWMutex
	log     []*models.QueryMetric
	byQuery map[string]*models.QueryMetric
	alerts  []*models.Alert
	daily   map[string]*models.DailySummary
}

// NewAggregator builds an aggregator. store may be nil.
func NewAggregator(cfg config.AnalyticsConfig, store Store) *Aggregator {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &Aggregator{
		cfg:     cfg,
		store:   store,
		logger:  logger.Named("analytics"),
		now:     time.Now,
		byQuery: make(map[string]*models.QueryMetric),
		daily:   make(map[string]*models.DailySummary),
	}
}

func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// SetProviderStats installs the source of per-provider statistics shown in
// snapshots.
func (a *Aggregator) SetProviderStats(fn func() []models.ProviderStats) {
	a.providerStats = fn
}

func (a *Aggregator) retentionCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -a.cfg.RetentionDays)
}

// Load reads the retention window, the alerts and recent summaries back from
// the store.
func (a *Aggregator) Load(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	now := a.now()

	stored, err := a.store.QueryMetricsSince(ctx, a.retentionCutoff(now))
	if err != nil {
		return fmt.Errorf("failed to load metrics: %w", err)
	}
	alerts, err := a.store.ListAlerts(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to load alerts: %w", err)
	}
	from := now.AddDate(0, 0, -summaryRetentionDays).Format(dayLayout)
	summaries, err := a.store.DailySummaries(ctx, from, now.Format(dayLayout))
	if err != nil {
		return fmt.Errorf("failed to load daily summaries: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range stored {
		m := stored[i]
		a.log = append(a.log, &m)
		a.byQuery[m.QueryID] = &m
	}
	// ListAlerts returns newest first; the in-memory list is oldest first
	for i := len(alerts) - 1; i >= 0; i-- {
		al := alerts[i]
		a.alerts = append(a.alerts, &al)
	}
	for i := range summaries {
		s := summaries[i]
		a.daily[s.Day] = &s
	}

	a.logger.Info("Analytics restored",
		zap.Int("metrics", len(stored)),
		zap.Int("alerts", len(alerts)),
		zap.Int("daily_summaries", len(summaries)),
	)
	return nil
}

// Record appends the metric of one resolved or failed query.
func (a *Aggregator) Record(ctx context.Context, m models.QueryMetric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = a.now()
	}
	entry := m

	a.mu.Lock()
	// keep the log ordered by timestamp
	i := sort.Search(len(a.log), func(i int) bool { return a.log[i].Timestamp.After(entry.Timestamp) })
	a.log = append(a.log, nil)
	copy(a.log[i+1:], a.log[i:])
	a.log[i] = &entry
	if m.QueryID != "" {
		a.byQuery[m.QueryID] = &entry
	}
	a.mu.Unlock()

	status := "success"
	if !m.Success {
		status = "failure"
	}
	metrics.QueryTotal.WithLabelValues(string(m.Source), status).Inc()
	metrics.QueryDuration.WithLabelValues(string(m.Source)).Observe(m.ResponseTime.Seconds())
	metrics.ConfidenceScore.WithLabelValues(string(m.Source)).Observe(m.Confidence)

	if a.store != nil {
		if err := a.store.InsertQueryMetric(ctx, &m); err != nil {
			a.logger.Warn("Failed to persist query metric", zap.String("query_id", m.QueryID), zap.Error(err))
		}
	}
}

// RecordFeedback attaches user feedback to the metric of queryID.
func (a *Aggregator) RecordFeedback(ctx context.Context, queryID string, fb models.Feedback) error {
	if fb.Rating < 0 || fb.Rating > 5 {
		return &apperr.ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}

	a.mu.Lock()
	m, inMemory := a.byQuery[queryID]
	if inMemory {
		f := fb
		m.UserFeedback = &f
	}
	a.mu.Unlock()

	stored := false
	if a.store != nil {
		var err error
		stored, err = a.store.AttachFeedback(ctx, queryID, &fb)
		if err != nil {
			return err
		}
	}
	if !inMemory && !stored {
		return fmt.Errorf("query %s: %w", queryID, apperr.ErrNotFound)
	}

	metrics.UserSatisfaction.Set(a.Window("24h", 24*time.Hour).Satisfaction)
	return nil
}

func (a *Aggregator) since(from time.Time) []models.QueryMetric {
	a.mu.RLock()
	defer a.mu.RUnlock()

	i := sort.Search(len(a.log), func(i int) bool { return !a.log[i].Timestamp.Before(from) })
	out := make([]models.QueryMetric, 0, len(a.log)-i)
	for _, m := range a.log[i:] {
		out = append(out, *m)
	}
	return out
}

// Window computes statistics over the metrics of the last d.
func (a *Aggregator) Window(name string, d time.Duration) models.WindowStats {
	return computeStats(name, a.since(a.now().Add(-d)))
}

func computeStats(name string, ms []models.QueryMetric) models.WindowStats {
	s := models.WindowStats{
		Window:     name,
		BySource:   make(map[models.Source]int),
		ByType:     make(map[models.QueryType]int),
		ByProvider: make(map[string]int),
	}
	if len(ms) == 0 {
		return s
	}

	var responseTime time.Duration
	var confidence, satisfaction float64
	successes := 0
	for _, m := range ms {
		s.TotalQueries++
		s.BySource[m.Source]++
		s.ByType[m.Type]++
		if m.Provider != "" {
			s.ByProvider[m.Provider]++
		}
		if m.Source == models.SourcePremium {
			s.PremiumTokens += int64(m.TokensUsed)
		}
		if m.Success {
			successes++
		}
		responseTime += m.ResponseTime
		confidence += m.Confidence
		if m.UserFeedback != nil {
			s.FeedbackCount++
			satisfaction += feedbackScore(m.UserFeedback)
		}
	}

	n := float64(s.TotalQueries)
	s.AverageResponseTime = responseTime / time.Duration(s.TotalQueries)
	s.AverageConfidence = confidence / n
	s.SuccessRate = float64(successes) / n
	s.InternalSuccessRate = float64(s.BySource[models.SourceInternal]) / n
	if lookups := s.TotalQueries - s.BySource[models.SourceInternal]; lookups > 0 {
		s.CacheHitRate = float64(s.BySource[models.SourceCache]) / float64(lookups)
	}
	if s.FeedbackCount > 0 {
		s.Satisfaction = satisfaction / float64(s.FeedbackCount)
	}
	return s
}

// feedbackScore maps a rating of 1..5 onto [0,1], or uses the helpful flag
// when there is no rating.
func feedbackScore(fb *models.Feedback) float64 {
	if fb.Rating > 0 {
		return float64(fb.Rating-1) / 4
	}
	if fb.Helpful {
		return 1
	}
	return 0
}

// RaiseAlert stores an alert. Usage alerts from the provider tracker arrive
// here too.
func (a *Aggregator) RaiseAlert(ctx context.Context, alert models.Alert) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = a.now()
	}
	stored := alert

	a.mu.Lock()
	a.alerts = append(a.alerts, &stored)
	a.mu.Unlock()

	metrics.AlertsRaised.WithLabelValues(string(alert.Type)).Inc()
	a.logger.Warn("Alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("provider", alert.Provider),
		zap.String("message", alert.Message),
	)

	if a.store != nil {
		if err := a.store.SaveAlert(ctx, &alert); err != nil {
			a.logger.Warn("Failed to persist alert", zap.String("alert_id", alert.ID), zap.Error(err))
		}
	}
}

// GetAlerts returns alerts newest first.
func (a *Aggregator) GetAlerts(onlyOpen bool) []models.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.Alert, 0, len(a.alerts))
	for i := len(a.alerts) - 1; i >= 0; i-- {
		if onlyOpen && a.alerts[i].Resolved {
			continue
		}
		out = append(out, *a.alerts[i])
	}
	return out
}

func (a *Aggregator) ResolveAlert(ctx context.Context, id string) error {
	a.mu.Lock()
	var target *models.Alert
	for _, al := range a.alerts {
		if al.ID == id {
			target = al
			break
		}
	}
	if target == nil {
		a.mu.Unlock()
		return fmt.Errorf("alert %s: %w", id, apperr.ErrNotFound)
	}
	if !target.Resolved {
		now := a.now()
		target.Resolved = true
		target.ResolvedAt = &now
	}
	resolved := *target
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.SaveAlert(ctx, &resolved); err != nil {
			return fmt.Errorf("failed to resolve alert: %w", err)
		}
	}
	a.logger.Info("Alert resolved", zap.String("alert_id", id))
	return nil
}

func (a *Aggregator) hasOpenAlert(typ models.AlertType) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, al := range a.alerts {
		if al.Type == typ && !al.Resolved {
			return true
		}
	}
	return false
}

// Rollup refreshes the daily summaries of the retention window, prunes
// metrics past retention and evaluates performance alerts. It runs hourly.
func (a *Aggregator) Rollup(ctx context.Context) error {
	now := a.now()
	cutoff := a.retentionCutoff(now)

	byDay := make(map[string][]models.QueryMetric)
	for _, m := range a.since(cutoff) {
		day := m.Timestamp.Format(dayLayout)
		byDay[day] = append(byDay[day], m)
	}

	var errs []error
	for day, ms := range byDay {
		summary := a.summarize(day, ms)
		a.mu.Lock()
		a.daily[day] = &summary
		a.mu.Unlock()
		if a.store != nil {
			if err := a.store.SaveDailySummary(ctx, &summary); err != nil {
				errs = append(errs, err)
			}
		}
	}

	oldest := now.AddDate(0, 0, -summaryRetentionDays).Format(dayLayout)
	pruned := a.prune(cutoff, oldest)
	if a.store != nil {
		if _, err := a.store.DeleteMetricsBefore(ctx, cutoff); err != nil {
			errs = append(errs, err)
		}
		if _, err := a.store.DeleteDailySummariesBefore(ctx, oldest); err != nil {
			errs = append(errs, err)
		}
	}

	a.checkPerformance(ctx)
	economy := a.GetEconomyReport()
	metrics.EstimatedSavings.Set(economy.EstimatedSavings)

	a.logger.Info("Analytics rollup finished",
		zap.Int("days", len(byDay)),
		zap.Int("pruned_metrics", pruned),
		zap.Float64("estimated_savings", economy.EstimatedSavings),
	)
	return errors.Join(errs...)
}

func (a *Aggregator) prune(cutoff time.Time, oldestDay string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := sort.Search(len(a.log), func(i int) bool { return !a.log[i].Timestamp.Before(cutoff) })
	for _, m := range a.log[:i] {
		if a.byQuery[m.QueryID] == m {
			delete(a.byQuery, m.QueryID)
		}
	}
	a.log = append([]*models.QueryMetric(nil), a.log[i:]...)

	for day := range a.daily {
		if day < oldestDay {
			delete(a.daily, day)
		}
	}
	return i
}

func (a *Aggregator) summarize(day string, ms []models.QueryMetric) models.DailySummary {
	stats := computeStats(day, ms)
	s := models.DailySummary{
		Day:                 day,
		TotalQueries:        stats.TotalQueries,
		InternalQueries:     stats.BySource[models.SourceInternal],
		CacheQueries:        stats.BySource[models.SourceCache],
		PremiumQueries:      stats.BySource[models.SourcePremium],
		FallbackQueries:     stats.BySource[models.SourceFallback],
		AverageResponseTime: stats.AverageResponseTime,
		AverageConfidence:   stats.AverageConfidence,
		PremiumTokens:       stats.PremiumTokens,
	}
	for _, m := range ms {
		if !m.Success {
			s.FailedQueries++
		}
	}
	s.EstimatedSavings = a.economy(stats, 0).EstimatedSavings
	return s
}

func (a *Aggregator) checkPerformance(ctx context.Context) {
	day := a.Window("24h", 24*time.Hour)
	if day.TotalQueries < minAlertSample {
		return
	}

	if day.CacheHitRate < a.cfg.MinCacheHitRate && !a.hasOpenAlert(models.AlertLowCacheHitRate) {
		a.RaiseAlert(ctx, models.Alert{
			Type:     models.AlertLowCacheHitRate,
			Severity: models.SeverityLow,
			Message:  fmt.Sprintf("cache hit rate %.0f%% is below %.0f%%", day.CacheHitRate*100, a.cfg.MinCacheHitRate*100),
			Data:     map[string]any{"cache_hit_rate": day.CacheHitRate},
		})
	}
	if a.cfg.MaxAvgResponseTime > 0 && day.AverageResponseTime > a.cfg.MaxAvgResponseTime && !a.hasOpenAlert(models.AlertHighResponseTime) {
		a.RaiseAlert(ctx, models.Alert{
			Type:     models.AlertHighResponseTime,
			Severity: models.SeverityMedium,
			Message:  fmt.Sprintf("average response time %s exceeds %s", day.AverageResponseTime, a.cfg.MaxAvgResponseTime),
			Data:     map[string]any{"average_response_ms": day.AverageResponseTime.Milliseconds()},
		})
	}
	share := float64(day.BySource[models.SourcePremium]) / float64(day.TotalQueries)
	if share > a.cfg.MaxPremiumShare && !a.hasOpenAlert(models.AlertHighPremiumUsage) {
		a.RaiseAlert(ctx, models.Alert{
			Type:     models.AlertHighPremiumUsage,
			Severity: models.SeverityMedium,
			Message:  fmt.Sprintf("%.0f%% of queries needed a premium provider", share*100),
			Data:     map[string]any{"premium_share": share},
		})
	}
}
