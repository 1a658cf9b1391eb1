package analytics

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/config"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func testConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		RetentionDays:      30,
		PaidCostPer1K:      0.03,
		PremiumCostPer1K:   0,
		AvgTokensPerQuery:  800,
		MinCacheHitRate:    0.2,
		MaxAvgResponseTime: 10 * time.Second,
		MaxPremiumShare:    0.6,
	}
}

func setupAggregator(t *testing.T, store Store) *Aggregator {
	t.Helper()
	a := NewAggregator(testConfig(), store)
	a.SetClock(func() time.Time { return testNow })
	return a
}

func metric(id string, source models.Source, age time.Duration) models.QueryMetric {
	return models.QueryMetric{
		QueryID:      id,
		Type:         models.QueryExerciseRecommendation,
		Source:       source,
		ResponseTime: 100 * time.Millisecond,
		Confidence:   0.8,
		Success:      source != models.SourceFallback,
		Timestamp:    testNow.Add(-age),
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWindowStats(t *testing.T) {
	a := setupAggregator(t, nil)
	ctx := context.Background()

	premium := metric("q3", models.SourcePremium, 3*time.Hour)
	premium.Provider = "chatgpt"
	premium.TokensUsed = 500

	a.Record(ctx, metric("q1", models.SourceInternal, time.Hour))
	a.Record(ctx, metric("q2", models.SourceCache, 2*time.Hour))
	a.Record(ctx, premium)
	a.Record(ctx, metric("q4", models.SourceFallback, 3*24*time.Hour))
	a.Record(ctx, metric("q5", models.SourceInternal, 20*24*time.Hour))

	day := a.Window("24h", 24*time.Hour)
	if day.TotalQueries != 3 {
		t.Fatalf("expected 3 queries in 24h, got %d", day.TotalQueries)
	}
	if day.BySource[models.SourceInternal] != 1 || day.BySource[models.SourceCache] != 1 || day.BySource[models.SourcePremium] != 1 {
		t.Errorf("unexpected sources %v", day.BySource)
	}
	if day.ByProvider["chatgpt"] != 1 {
		t.Errorf("unexpected providers %v", day.ByProvider)
	}
	if !near(day.CacheHitRate, 0.5) {
		t.Errorf("expected cache hit rate 0.5, got %v", day.CacheHitRate)
	}
	if !near(day.InternalSuccessRate, 1.0/3) {
		t.Errorf("expected internal success rate 1/3, got %v", day.InternalSuccessRate)
	}
	if day.PremiumTokens != 500 {
		t.Errorf("expected 500 premium tokens, got %d", day.PremiumTokens)
	}
	if day.AverageResponseTime != 100*time.Millisecond {
		t.Errorf("unexpected average response time %v", day.AverageResponseTime)
	}

	if n := a.Window("7d", 7*24*time.Hour).TotalQueries; n != 4 {
		t.Errorf("expected 4 queries in 7d, got %d", n)
	}
	week := a.Window("7d", 7*24*time.Hour)
	if !near(week.SuccessRate, 0.75) {
		t.Errorf("fallbacks count as failures, got success rate %v", week.SuccessRate)
	}
	if n := a.Window("30d", month).TotalQueries; n != 5 {
		t.Errorf("expected 5 queries in 30d, got %d", n)
	}
}

func TestEconomyReport(t *testing.T) {
	a := setupAggregator(t, nil)
	ctx := context.Background()

	premium := metric("p", models.SourcePremium, time.Hour)
	premium.TokensUsed = 500
	a.Record(ctx, premium)
	for _, id := range []string{"a", "b", "c", "d"} {
		a.Record(ctx, metric(id, models.SourceInternal, time.Hour))
	}

	r := a.GetEconomyReport()
	if r.TotalQueries != 5 || r.FreeResolutions != 4 || r.PremiumQueries != 1 {
		t.Errorf("unexpected counts %+v", r)
	}
	// 500 actual tokens + 4 * 800 estimated tokens at 0.03 per 1K
	if !near(r.CostWithoutEngine, 3.7*0.03) {
		t.Errorf("unexpected cost without engine %v", r.CostWithoutEngine)
	}
	if !near(r.EstimatedSavings, r.CostWithoutEngine) || !near(r.SavingsPercentage, 100) {
		t.Errorf("free premium plan should save everything: %+v", r)
	}
	if r.ROI != 0 {
		t.Errorf("ROI needs a plan cost, got %v", r.ROI)
	}
}

func TestFeedbackSatisfaction(t *testing.T) {
	a := setupAggregator(t, nil)
	ctx := context.Background()
	a.Record(ctx, metric("q1", models.SourceInternal, time.Minute))
	a.Record(ctx, metric("q2", models.SourceCache, time.Minute))

	if err := a.RecordFeedback(ctx, "q1", models.Feedback{Helpful: true, Rating: 5}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if err := a.RecordFeedback(ctx, "q2", models.Feedback{Helpful: false}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}

	s := a.Window("24h", 24*time.Hour)
	if s.FeedbackCount != 2 || !near(s.Satisfaction, 0.5) {
		t.Errorf("expected satisfaction 0.5 over 2 answers, got %v over %d", s.Satisfaction, s.FeedbackCount)
	}

	if err := a.RecordFeedback(ctx, "missing", models.Feedback{Helpful: true}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := a.RecordFeedback(ctx, "q1", models.Feedback{Rating: 7}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRollupSummarizesAndPrunes(t *testing.T) {
	a := setupAggregator(t, nil)
	ctx := context.Background()

	a.Record(ctx, metric("old", models.SourceInternal, 40*24*time.Hour))
	a.Record(ctx, metric("yesterday", models.SourceFallback, 24*time.Hour))
	a.Record(ctx, metric("today-1", models.SourceInternal, 0))
	a.Record(ctx, metric("today-2", models.SourceCache, 0))

	if err := a.Rollup(ctx); err != nil {
		t.Fatalf("Rollup: %v", err)
	}

	if n := len(a.since(time.Time{})); n != 3 {
		t.Errorf("expected the 40-day-old metric pruned, %d left", n)
	}
	if err := a.RecordFeedback(ctx, "old", models.Feedback{Helpful: true}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("pruned metrics must not accept feedback, got %v", err)
	}

	report, err := a.GetDetailedReport(ctx, "week")
	if err != nil {
		t.Fatalf("GetDetailedReport: %v", err)
	}
	if len(report.Daily) != 2 {
		t.Fatalf("expected 2 daily summaries, got %d", len(report.Daily))
	}
	yesterday, today := report.Daily[0], report.Daily[1]
	if yesterday.Day != "2026-05-19" || yesterday.FallbackQueries != 1 || yesterday.FailedQueries != 1 {
		t.Errorf("unexpected summary %+v", yesterday)
	}
	if today.Day != "2026-05-20" || today.TotalQueries != 2 || today.InternalQueries != 1 || today.CacheQueries != 1 {
		t.Errorf("unexpected summary %+v", today)
	}
	if len(report.TopQueries) != 1 || report.TopQueries[0].Count != 3 {
		t.Errorf("unexpected top query types %+v", report.TopQueries)
	}
}

func TestRollupRaisesPerformanceAlertsOnce(t *testing.T) {
	a := setupAggregator(t, nil)
	ctx := context.Background()
	for i := 0; i < minAlertSample; i++ {
		m := metric("slow", models.SourcePremium, time.Hour)
		m.ResponseTime = 20 * time.Second
		a.Record(ctx, m)
	}

	_ = a.Rollup(ctx)
	_ = a.Rollup(ctx)

	open := a.GetAlerts(true)
	if len(open) != 3 {
		t.Fatalf("expected three alerts, got %d: %+v", len(open), open)
	}
	seen := map[models.AlertType]bool{}
	for _, al := range open {
		seen[al.Type] = true
	}
	for _, typ := range []models.AlertType{models.AlertLowCacheHitRate, models.AlertHighResponseTime, models.AlertHighPremiumUsage} {
		if !seen[typ] {
			t.Errorf("missing %s alert", typ)
		}
	}

	if err := a.ResolveAlert(ctx, open[0].ID); err != nil {
		t.Fatalf("ResolveAlert: %v", err)
	}
	if n := len(a.GetAlerts(true)); n != 2 {
		t.Errorf("expected two open alerts after resolving one, got %d", n)
	}
	all := a.GetAlerts(false)
	if len(all) != 3 {
		t.Errorf("resolved alerts are kept, got %d", len(all))
	}
	if err := a.ResolveAlert(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDetailedReportRejectsUnknownPeriod(t *testing.T) {
	a := setupAggregator(t, nil)
	_, err := a.GetDetailedReport(context.Background(), "fortnight")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type memStore struct {
	mu        sync.Mutex
	metrics   []models.QueryMetric
	alerts    map[string]models.Alert
	summaries map[string]models.DailySummary
}

func newMemStore() *memStore {
	return &memStore{alerts: map[string]models.Alert{}, summaries: map[string]models.DailySummary{}}
}

func (s *memStore) InsertQueryMetric(ctx context.Context, m *models.QueryMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, *m)
	return nil
}

func (s *memStore) AttachFeedback(ctx context.Context, queryID string, fb *models.Feedback) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.metrics {
		if s.metrics[i].QueryID == queryID {
			f := *fb
			s.metrics[i].UserFeedback = &f
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) QueryMetricsSince(ctx context.Context, since time.Time) ([]models.QueryMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueryMetric
	for _, m := range s.metrics {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.metrics[:0]
	for _, m := range s.metrics {
		if !m.Timestamp.Before(cutoff) {
			kept = append(kept, m)
		}
	}
	n := len(s.metrics) - len(kept)
	s.metrics = kept
	return n, nil
}

func (s *memStore) SaveAlert(ctx context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = *a
	return nil
}

func (s *memStore) ListAlerts(ctx context.Context, onlyOpen bool) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, a := range s.alerts {
		if onlyOpen && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) SaveDailySummary(ctx context.Context, sum *models.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sum.Day] = *sum
	return nil
}

func (s *memStore) DailySummaries(ctx context.Context, from, to string) ([]models.DailySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DailySummary
	for day, sum := range s.summaries {
		if day >= from && day <= to {
			out = append(out, sum)
		}
	}
	return out, nil
}

func (s *memStore) DeleteDailySummariesBefore(ctx context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for d := range s.summaries {
		if d < day {
			delete(s.summaries, d)
			n++
		}
	}
	return n, nil
}

func TestStoreMirrorsWritesAndReloads(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	a := setupAggregator(t, store)
	a.Record(ctx, metric("q1", models.SourceInternal, time.Hour))
	a.RaiseAlert(ctx, models.Alert{Type: models.AlertUsageWarning, Provider: "chatgpt", Severity: models.SeverityMedium})
	if err := a.Rollup(ctx); err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	if len(store.metrics) != 1 || len(store.alerts) != 1 || len(store.summaries) != 1 {
		t.Fatalf("writes not mirrored: %d metrics, %d alerts, %d summaries",
			len(store.metrics), len(store.alerts), len(store.summaries))
	}

	restarted := setupAggregator(t, store)
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n := restarted.Window("24h", 24*time.Hour).TotalQueries; n != 1 {
		t.Errorf("expected restored metric, got %d", n)
	}
	if err := restarted.RecordFeedback(ctx, "q1", models.Feedback{Helpful: true}); err != nil {
		t.Errorf("feedback on restored metric: %v", err)
	}
	if store.metrics[0].UserFeedback == nil {
		t.Error("feedback not mirrored to the store")
	}
	if alerts := restarted.GetAlerts(true); len(alerts) != 1 || alerts[0].Provider != "chatgpt" {
		t.Errorf("unexpected restored alerts %+v", alerts)
	}
}
