package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/metrics"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

// UsageStore persists one tracker document per provider.
type UsageStore interface {
	SaveUsage(ctx context.Context, tracker *models.UsageTracker) error
	LoadUsage(ctx context.Context) ([]*models.UsageTracker, error)
}

// AlertSink receives usage alerts. The analytics aggregator implements it.
type AlertSink interface {
	RaiseAlert(ctx context.Context, alert models.Alert)
}

type Thresholds struct {
	Warning  float64
	Critical float64
}

type Window int

const (
	WindowHourly Window = iota
	WindowDaily
	WindowMonthly
)

func (w Window) String() string {
	switch w {
	case WindowHourly:
		return "hourly"
	case WindowDaily:
		return "daily"
	default:
		return "monthly"
	}
}

// Tracker counts requests per provider over hourly, daily and monthly
// windows. Counter increments and status changes happen under one lock.
type Tracker struct {
	thresholds Thresholds
	store      UsageStore
	alerts     AlertSink
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	trackers map[string]*models.UsageTracker

	// persistMu orders writes so the store never ends on a stale snapshot.
	persistMu sync.Mutex
}

// NewTracker builds a tracker. store and alerts may be nil.
func NewTracker(thresholds Thresholds, store UsageStore, alerts AlertSink) *Tracker {
	return &Tracker{
		thresholds: thresholds,
		store:      store,
		alerts:     alerts,
		logger:     logger.Named("usage"),
		now:        time.Now,
		trackers:   make(map[string]*models.UsageTracker),
	}
}

func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Tracker) SetAlertSink(alerts AlertSink) {
	t.alerts = alerts
}

// Register adds a provider with fresh windows, or updates its limits.
func (t *Tracker) Register(provider string, limits models.UsageWindow) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tr, ok := t.trackers[provider]; ok {
		tr.Limits = limits
		t.recompute(tr)
		return
	}
	now := t.now()
	tr := &models.UsageTracker{
		Provider: provider,
		Limits:   limits,
		Status:   models.StatusAvailable,
		ResetDates: models.ResetDates{
			Hourly:  nextReset(WindowHourly, now),
			Daily:   nextReset(WindowDaily, now),
			Monthly: nextReset(WindowMonthly, now),
		},
		UpdatedAt: now,
	}
	t.trackers[provider] = tr
}

// Load restores persisted counters for registered providers. Windows whose
// reset date passed while the process was down are zeroed. Loading never
// raises alerts.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	saved, err := t.store.LoadUsage(ctx)
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}

	t.mu.Lock()
	now := t.now()
	restored := 0
	for _, s := range saved {
		tr, ok := t.trackers[s.Provider]
		if !ok {
			continue
		}
		tr.Current = s.Current
		tr.TotalTokens = s.TotalTokens
		if !s.ResetDates.Hourly.IsZero() {
			tr.ResetDates = s.ResetDates
		}
		for _, w := range []Window{WindowHourly, WindowDaily, WindowMonthly} {
			t.resetIfDue(tr, w, now)
		}
		t.recompute(tr)
		restored++
	}
	t.mu.Unlock()

	t.logger.Info("Provider usage restored", zap.Int("providers", restored))
	return nil
}

// Track records one request that used tokens. It raises an alert only when
// the provider's status moves up into warning, critical or blocked.
func (t *Tracker) Track(ctx context.Context, provider string, tokens int) (models.UsageTracker, error) {
	t.mu.Lock()
	tr, ok := t.trackers[provider]
	if !ok {
		t.mu.Unlock()
		return models.UsageTracker{}, fmt.Errorf("provider %s: %w", provider, apperr.ErrNotFound)
	}

	previous := tr.Status
	tr.Current.Hourly++
	tr.Current.Daily++
	tr.Current.Monthly++
	if tokens > 0 {
		tr.TotalTokens += int64(tokens)
	}
	tr.UpdatedAt = t.now()
	t.recompute(tr)
	snapshot := *tr
	t.mu.Unlock()

	t.persist(ctx, &snapshot)

	if snapshot.Status.Rank() > previous.Rank() {
		t.raise(ctx, snapshot)
	}
	return snapshot, nil
}

// Reset zeroes window for every provider whose reset date has passed and
// returns how many were reset.
func (t *Tracker) Reset(ctx context.Context, window Window) int {
	t.mu.Lock()
	now := t.now()
	var changed []models.UsageTracker
	for _, tr := range t.trackers {
		if t.resetIfDue(tr, window, now) {
			tr.UpdatedAt = now
			t.recompute(tr)
			changed = append(changed, *tr)
		}
	}
	t.mu.Unlock()

	for i := range changed {
		t.persist(ctx, &changed[i])
	}
	if len(changed) > 0 {
		t.logger.Info("Usage window reset",
			zap.String("window", window.String()),
			zap.Int("providers", len(changed)),
		)
	}
	return len(changed)
}

func (t *Tracker) resetIfDue(tr *models.UsageTracker, w Window, now time.Time) bool {
	switch w {
	case WindowHourly:
		if now.Before(tr.ResetDates.Hourly) {
			return false
		}
		tr.Current.Hourly = 0
		tr.ResetDates.Hourly = nextReset(w, now)
	case WindowDaily:
		if now.Before(tr.ResetDates.Daily) {
			return false
		}
		tr.Current.Daily = 0
		tr.ResetDates.Daily = nextReset(w, now)
	case WindowMonthly:
		if now.Before(tr.ResetDates.Monthly) {
			return false
		}
		tr.Current.Monthly = 0
		tr.ResetDates.Monthly = nextReset(w, now)
	}
	return true
}

func nextReset(w Window, now time.Time) time.Time {
	y, m, d := now.Date()
	switch w {
	case WindowHourly:
		return time.Date(y, m, d, now.Hour()+1, 0, 0, 0, now.Location())
	case WindowDaily:
		return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	default:
		return time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
	}
}

// recompute derives percentage and status from the counters. Callers hold mu.
func (t *Tracker) recompute(tr *models.UsageTracker) {
	tr.Percentage = Percentage(tr.Current, tr.Limits)
	tr.Status = StatusFor(tr.Percentage, t.thresholds)
	metrics.ProviderUsage.WithLabelValues(tr.Provider).Set(tr.Percentage)
}

// Percentage is the fullest window's share of its limit. Windows without a
// limit are ignored.
func Percentage(current, limits models.UsageWindow) float64 {
	pct := 0.0
	pairs := [][2]int64{
		{current.Hourly, limits.Hourly},
		{current.Daily, limits.Daily},
		{current.Monthly, limits.Monthly},
	}
	for _, p := range pairs {
		if p[1] <= 0 {
			continue
		}
		if v := float64(p[0]) / float64(p[1]); v > pct {
			pct = v
		}
	}
	return pct
}

func StatusFor(percentage float64, th Thresholds) models.UsageStatus {
	switch {
	case percentage >= 1:
		return models.StatusBlocked
	case percentage >= th.Critical:
		return models.StatusCritical
	case percentage >= th.Warning:
		return models.StatusWarning
	default:
		return models.StatusAvailable
	}
}

// persist saves the provider's current state, read under persistMu, rather
// than the caller's snapshot.
func (t *Tracker) persist(ctx context.Context, tr *models.UsageTracker) {
	if t.store == nil {
		return
	}
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	t.mu.Lock()
	if current, ok := t.trackers[tr.Provider]; ok {
		latest := *current
		tr = &latest
	}
	t.mu.Unlock()

	if err := t.store.SaveUsage(ctx, tr); err != nil {
		t.logger.Warn("Failed to persist usage", zap.String("provider", tr.Provider), zap.Error(err))
	}
}

func (t *Tracker) raise(ctx context.Context, tr models.UsageTracker) {
	alert := models.Alert{
		ID:        uuid.New().String(),
		Provider:  tr.Provider,
		CreatedAt: t.now(),
		Data: map[string]any{
			"percentage": tr.Percentage,
			"hourly":     tr.Current.Hourly,
			"daily":      tr.Current.Daily,
			"monthly":    tr.Current.Monthly,
		},
	}
	switch tr.Status {
	case models.StatusWarning:
		alert.Type, alert.Severity = models.AlertUsageWarning, models.SeverityMedium
	case models.StatusCritical:
		alert.Type, alert.Severity = models.AlertUsageCritical, models.SeverityHigh
	default:
		alert.Type, alert.Severity = models.AlertUsageBlocked, models.SeverityCritical
	}
	alert.Message = fmt.Sprintf("%s reached %.0f%% of its quota", tr.Provider, tr.Percentage*100)

	t.logger.Warn("Provider usage threshold crossed",
		zap.String("provider", tr.Provider),
		zap.String("status", string(tr.Status)),
		zap.Float64("percentage", tr.Percentage),
	)
	if t.alerts != nil {
		t.alerts.RaiseAlert(ctx, alert)
	}
}

func (t *Tracker) Get(provider string) (models.UsageTracker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.trackers[provider]
	if !ok {
		return models.UsageTracker{}, false
	}
	return *tr, true
}

func (t *Tracker) Status(provider string) models.UsageStatus {
	tr, ok := t.Get(provider)
	if !ok {
		return models.StatusBlocked
	}
	return tr.Status
}

// All returns a copy of every tracker sorted by provider.
func (t *Tracker) All() []models.UsageTracker {
	t.mu.Lock()
	out := make([]models.UsageTracker, 0, len(t.trackers))
	for _, tr := range t.trackers {
		out = append(out, *tr)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
