package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
)

const month = 30 * 24 * time.Hour

// periods accepted by GetDetailedReport.
var periods = map[string]time.Duration{
	"day":   24 * time.Hour,
	"24h":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"7d":    7 * 24 * time.Hour,
	"month": month,
	"30d":   month,
}

// economy prices the window twice: at the premium providers' effective rate
// and as if every query had gone to a pay-per-token API. planShare is the
// part of the monthly plan cost attributed to the window.
func (a *Aggregator) economy(s models.WindowStats, planShare float64) models.EconomyReport {
	premium := s.BySource[models.SourcePremium]
	r := models.EconomyReport{
		Window:          s.Window,
		TotalQueries:    s.TotalQueries,
		FreeResolutions: s.BySource[models.SourceInternal] + s.BySource[models.SourceCache],
		PremiumQueries:  premium,
		PremiumTokens:   s.PremiumTokens,
	}

	r.PremiumCost = float64(s.PremiumTokens) / 1000 * a.cfg.PremiumCostPer1K
	paidTokens := float64(s.PremiumTokens) + float64(s.TotalQueries-premium)*float64(a.cfg.AvgTokensPerQuery)
	r.CostWithoutEngine = paidTokens / 1000 * a.cfg.PaidCostPer1K
	r.EstimatedSavings = r.CostWithoutEngine - r.PremiumCost
	if r.CostWithoutEngine > 0 {
		r.SavingsPercentage = r.EstimatedSavings / r.CostWithoutEngine * 100
	}
	if planShare > 0 {
		r.ROI = (r.EstimatedSavings - planShare) / planShare
	}
	return r
}

func (a *Aggregator) planShare(d time.Duration) float64 {
	return a.cfg.MonthlyPlanCost * float64(d) / float64(month)
}

// GetEconomyReport prices the last 30 days.
func (a *Aggregator) GetEconomyReport() models.EconomyReport {
	return a.economy(a.Window("30d", month), a.cfg.MonthlyPlanCost)
}

func (a *Aggregator) GetCurrentAnalytics() models.AnalyticsSnapshot {
	snap := models.AnalyticsSnapshot{
		GeneratedAt: a.now(),
		Last24h:     a.Window("24h", 24*time.Hour),
		Last7d:      a.Window("7d", 7*24*time.Hour),
		Last30d:     a.Window("30d", month),
		OpenAlerts:  a.GetAlerts(true),
	}
	snap.Economy = a.economy(snap.Last30d, a.cfg.MonthlyPlanCost)
	if a.providerStats != nil {
		snap.Providers = a.providerStats()
	}
	return snap
}

// GetDetailedReport covers one of day, week or month (or 24h, 7d, 30d).
func (a *Aggregator) GetDetailedReport(ctx context.Context, period string) (*models.DetailedReport, error) {
	d, ok := periods[period]
	if !ok {
		return nil, &apperr.ValidationError{Field: "period", Reason: fmt.Sprintf("%q is not one of day, week, month", period)}
	}

	to := a.now()
	from := to.Add(-d)
	ms := a.since(from)
	stats := computeStats(period, ms)

	report := &models.DetailedReport{
		Period:     period,
		From:       from,
		To:         to,
		Stats:      stats,
		Economy:    a.economy(stats, a.planShare(d)),
		TopQueries: topQueryTypes(ms),
	}

	daily, err := a.dailySummaries(ctx, from.Format(dayLayout), to.Format(dayLayout))
	if err != nil {
		return nil, err
	}
	report.Daily = daily

	for _, al := range a.GetAlerts(false) {
		if !al.CreatedAt.Before(from) {
			report.Alerts = append(report.Alerts, al)
		}
	}
	return report, nil
}

// dailySummaries prefers the store, which outlives the in-memory window.
func (a *Aggregator) dailySummaries(ctx context.Context, from, to string) ([]models.DailySummary, error) {
	if a.store != nil {
		out, err := a.store.DailySummaries(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to read daily summaries: %w", err)
		}
		return out, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []models.DailySummary
	for day, s := range a.daily {
		if day >= from && day <= to {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func topQueryTypes(ms []models.QueryMetric) []models.QueryTypeRow {
	rows := make(map[models.QueryType]*models.QueryTypeRow)
	confidence := make(map[models.QueryType]float64)
	elapsed := make(map[models.QueryType]time.Duration)
	for _, m := range ms {
		r, ok := rows[m.Type]
		if !ok {
			r = &models.QueryTypeRow{Type: m.Type}
			rows[m.Type] = r
		}
		r.Count++
		confidence[m.Type] += m.Confidence
		elapsed[m.Type] += m.ResponseTime
	}

	out := make([]models.QueryTypeRow, 0, len(rows))
	for t, r := range rows {
		r.AverageConfidence = confidence[t] / float64(r.Count)
		r.AverageResponseTime = elapsed[t] / time.Duration(r.Count)
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}
