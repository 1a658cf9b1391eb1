package providers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (r *alertRecorder) RaiseAlert(ctx context.Context, alert models.Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, alert)
	r.mu.Unlock()
}

func (r *alertRecorder) count(typ models.AlertType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Type == typ {
			n++
		}
	}
	return n
}

type memUsageStore struct {
	mu    sync.Mutex
	saved map[string]models.UsageTracker
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{saved: make(map[string]models.UsageTracker)}
}

func (s *memUsageStore) SaveUsage(ctx context.Context, tr *models.UsageTracker) error {
	s.mu.Lock()
	s.saved[tr.Provider] = *tr
	s.mu.Unlock()
	return nil
}

func (s *memUsageStore) LoadUsage(ctx context.Context) ([]*models.UsageTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.UsageTracker
	for _, tr := range s.saved {
		tr := tr
		out = append(out, &tr)
	}
	return out, nil
}

var testStart = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func setupTracker(t *testing.T, th Thresholds) (*Tracker, *fakeClock, *alertRecorder, *memUsageStore) {
	t.Helper()
	clock := &fakeClock{t: testStart}
	alerts := &alertRecorder{}
	store := newMemUsageStore()
	tracker := NewTracker(th, store, alerts)
	tracker.SetClock(clock.Now)
	return tracker, clock, alerts, store
}

func TestStatusFor(t *testing.T) {
	th := Thresholds{Warning: 0.8, Critical: 0.95}
	tests := []struct {
		pct  float64
		want models.UsageStatus
	}{
		{0, models.StatusAvailable},
		{0.79, models.StatusAvailable},
		{0.8, models.StatusWarning},
		{0.949, models.StatusWarning},
		{0.95, models.StatusCritical},
		{1, models.StatusBlocked},
		{1.5, models.StatusBlocked},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.pct, th); got != tt.want {
			t.Errorf("StatusFor(%v) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}

func TestPercentageUsesFullestWindow(t *testing.T) {
	pct := Percentage(
		models.UsageWindow{Hourly: 1, Daily: 5, Monthly: 30},
		models.UsageWindow{Hourly: 10, Daily: 10, Monthly: 0},
	)
	if pct != 0.5 {
		t.Errorf("expected 0.5, got %v", pct)
	}
}

func TestTrackRaisesSingleWarningOnTransition(t *testing.T) {
	tracker, _, alerts, store := setupTracker(t, Thresholds{Warning: 0.8, Critical: 0.99})
	tracker.Register("chatgpt", models.UsageWindow{Hourly: 1000, Daily: 1000, Monthly: 20})
	ctx := context.Background()

	var last models.UsageTracker
	for i := 0; i < 19; i++ {
		var err error
		last, err = tracker.Track(ctx, "chatgpt", 100)
		if err != nil {
			t.Fatalf("Track: %v", err)
		}
	}

	if last.Percentage != 0.95 {
		t.Errorf("expected 95%% usage, got %v", last.Percentage)
	}
	if last.Status != models.StatusWarning {
		t.Errorf("expected warning status, got %s", last.Status)
	}
	if n := alerts.count(models.AlertUsageWarning); n != 1 {
		t.Errorf("expected exactly one usage_warning alert, got %d", n)
	}
	if len(alerts.alerts) != 1 {
		t.Errorf("expected no other alerts, got %d", len(alerts.alerts))
	}
	if last.TotalTokens != 1900 {
		t.Errorf("expected 1900 tokens, got %d", last.TotalTokens)
	}
	if store.saved["chatgpt"].Current.Monthly != 19 {
		t.Errorf("expected persisted monthly counter 19, got %d", store.saved["chatgpt"].Current.Monthly)
	}
}

func TestTrackRaisesOncePerLevel(t *testing.T) {
	tracker, _, alerts, _ := setupTracker(t, Thresholds{Warning: 0.5, Critical: 0.75})
	tracker.Register("gemini", models.UsageWindow{Hourly: 4})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = tracker.Track(ctx, "gemini", 0)
	}

	for _, typ := range []models.AlertType{models.AlertUsageWarning, models.AlertUsageCritical, models.AlertUsageBlocked} {
		if n := alerts.count(typ); n != 1 {
			t.Errorf("expected one %s alert, got %d", typ, n)
		}
	}
	if status := tracker.Status("gemini"); status != models.StatusBlocked {
		t.Errorf("expected blocked, got %s", status)
	}
}

func TestTrackUnknownProvider(t *testing.T) {
	tracker, _, _, _ := setupTracker(t, Thresholds{Warning: 0.8, Critical: 0.95})
	if _, err := tracker.Track(context.Background(), "missing", 1); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if status := tracker.Status("missing"); status != models.StatusBlocked {
		t.Errorf("unknown providers must look blocked, got %s", status)
	}
}

func TestHourlyResetAtBoundary(t *testing.T) {
	tracker, clock, alerts, _ := setupTracker(t, Thresholds{Warning: 0.8, Critical: 0.95})
	tracker.Register("claude", models.UsageWindow{Hourly: 3, Daily: 100, Monthly: 1000})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = tracker.Track(ctx, "claude", 10)
	}
	if status := tracker.Status("claude"); status != models.StatusBlocked {
		t.Fatalf("expected blocked before reset, got %s", status)
	}

	clock.Set(testStart.Add(20 * time.Minute))
	if n := tracker.Reset(ctx, WindowHourly); n != 0 {
		t.Errorf("reset before the boundary touched %d trackers", n)
	}

	clock.Set(time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC))
	if n := tracker.Reset(ctx, WindowHourly); n != 1 {
		t.Fatalf("expected one reset, got %d", n)
	}

	tr, _ := tracker.Get("claude")
	if tr.Current.Hourly != 0 {
		t.Errorf("expected hourly counter reset, got %d", tr.Current.Hourly)
	}
	if tr.Current.Daily != 3 || tr.Current.Monthly != 3 {
		t.Errorf("daily and monthly must survive an hourly reset: %+v", tr.Current)
	}
	if tr.Status != models.StatusAvailable {
		t.Errorf("expected available after reset, got %s", tr.Status)
	}
	if want := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC); !tr.ResetDates.Hourly.Equal(want) {
		t.Errorf("expected next hourly reset at %v, got %v", want, tr.ResetDates.Hourly)
	}

	// climbing back up is a new transition
	_, _ = tracker.Track(ctx, "claude", 0)
	_, _ = tracker.Track(ctx, "claude", 0)
	_, _ = tracker.Track(ctx, "claude", 0)
	if n := alerts.count(models.AlertUsageBlocked); n != 2 {
		t.Errorf("expected a second blocked alert after reset, got %d", n)
	}
}

func TestMonthlyResetOnlyWhenDue(t *testing.T) {
	tracker, clock, _, _ := setupTracker(t, Thresholds{Warning: 0.8, Critical: 0.95})
	tracker.Register("perplexity", models.UsageWindow{Monthly: 10})
	ctx := context.Background()
	_, _ = tracker.Track(ctx, "perplexity", 0)

	clock.Set(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC))
	if n := tracker.Reset(ctx, WindowMonthly); n != 0 {
		t.Fatalf("monthly window reset early")
	}

	clock.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	if n := tracker.Reset(ctx, WindowMonthly); n != 1 {
		t.Fatalf("expected monthly reset on the 1st")
	}
	tr, _ := tracker.Get("perplexity")
	if tr.Current.Monthly != 0 {
		t.Errorf("expected monthly counter zero, got %d", tr.Current.Monthly)
	}
	if want := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC); !tr.ResetDates.Monthly.Equal(want) {
		t.Errorf("expected next monthly reset %v, got %v", want, tr.ResetDates.Monthly)
	}
}

func TestLoadRestoresCountersAndAppliesMissedResets(t *testing.T) {
	tracker, clock, alerts, store := setupTracker(t, Thresholds{Warning: 0.8, Critical: 0.95})
	store.saved["chatgpt"] = models.UsageTracker{
		Provider: "chatgpt",
		Current:  models.UsageWindow{Hourly: 9, Daily: 9, Monthly: 90},
		ResetDates: models.ResetDates{
			Hourly:  testStart.Add(-time.Hour),
			Daily:   testStart.Add(time.Hour),
			Monthly: testStart.Add(24 * time.Hour),
		},
		TotalTokens: 4200,
	}
	store.saved["retired"] = models.UsageTracker{Provider: "retired"}

	tracker.Register("chatgpt", models.UsageWindow{Hourly: 10, Daily: 10, Monthly: 100})
	clock.Set(testStart)
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tr, _ := tracker.Get("chatgpt")
	if tr.Current.Hourly != 0 {
		t.Errorf("expected overdue hourly window reset, got %d", tr.Current.Hourly)
	}
	if tr.Current.Daily != 9 || tr.Current.Monthly != 90 || tr.TotalTokens != 4200 {
		t.Errorf("unexpected restored counters: %+v tokens=%d", tr.Current, tr.TotalTokens)
	}
	if tr.Status != models.StatusWarning {
		t.Errorf("expected warning from the daily window, got %s", tr.Status)
	}
	if len(alerts.alerts) != 0 {
		t.Errorf("loading must not raise alerts, got %d", len(alerts.alerts))
	}
	if _, ok := tracker.Get("retired"); ok {
		t.Error("unregistered providers must not be restored")
	}
}

func TestConcurrentTrackRaisesEachAlertOnce(t *testing.T) {
	tracker, _, alerts, store := setupTracker(t, Thresholds{Warning: 0.5, Critical: 0.9})
	tracker.Register("chatgpt", models.UsageWindow{Hourly: 1000, Daily: 1000, Monthly: 100})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 9; i++ {
				if _, err := tracker.Track(ctx, "chatgpt", 10); err != nil {
					t.Errorf("Track: %v", err)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			tracker.Reset(ctx, WindowHourly)
			tracker.All()
		}
	}()
	wg.Wait()

	tr, _ := tracker.Get("chatgpt")
	if tr.Current.Monthly != 90 || tr.TotalTokens != 900 {
		t.Fatalf("monthly = %d tokens = %d, want 90 and 900", tr.Current.Monthly, tr.TotalTokens)
	}
	if tr.Status != models.StatusCritical {
		t.Errorf("status = %s, want critical", tr.Status)
	}
	if n := alerts.count(models.AlertUsageWarning); n != 1 {
		t.Errorf("usage_warning alerts = %d, want 1", n)
	}
	if n := alerts.count(models.AlertUsageCritical); n != 1 {
		t.Errorf("usage_critical alerts = %d, want 1", n)
	}
	store.mu.Lock()
	saved := store.saved["chatgpt"].Current.Monthly
	store.mu.Unlock()
	if saved != 90 {
		t.Errorf("persisted monthly = %d, want 90", saved)
	}
}
