package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

func (c *Client) InsertQueryMetric(ctx context.Context, m *models.QueryMetric) error {
	query := `
		INSERT INTO query_metrics (query_id, type, source, provider, response_time_ms, tokens_used,
			confidence, success, timestamp, feedback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	success := 0
	if m.Success {
		success = 1
	}
	feedback, err := encodeFeedback(m.UserFeedback)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, query,
		m.QueryID,
		string(m.Type),
		string(m.Source),
		m.Provider,
		m.ResponseTime.Milliseconds(),
		m.TokensUsed,
		m.Confidence,
		success,
		m.Timestamp.UnixMilli(),
		feedback,
	)
	if err != nil {
		return fmt.Errorf("failed to insert query metric: %w", err)
	}
	return nil
}

// AttachFeedback sets the user feedback of a recorded query. It reports
// whether the metric exists.
func (c *Client) AttachFeedback(ctx context.Context, queryID string, fb *models.Feedback) (bool, error) {
	feedback, err := encodeFeedback(fb)
	if err != nil {
		return false, err
	}
	res, err := c.db.ExecContext(ctx, `UPDATE query_metrics SET feedback = ? WHERE query_id = ?`, feedback, queryID)
	if err != nil {
		return false, fmt.Errorf("failed to store feedback: %w", err)
	}
	n, _ := res.RowsAffected()

	logger.Info("Feedback stored", zap.String("query_id", queryID), zap.Bool("helpful", fb.Helpful))
	return n > 0, nil
}

func (c *Client) QueryMetricsSince(ctx context.Context, since time.Time) ([]models.QueryMetric, error) {
	query := `
		SELECT query_id, type, source, provider, response_time_ms, tokens_used, confidence, success, timestamp, feedback
		FROM query_metrics
		WHERE timestamp >= ?
		ORDER BY timestamp
	`
	rows, err := c.db.QueryContext(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []models.QueryMetric
	for rows.Next() {
		var m models.QueryMetric
		var typ, source string
		var provider, feedback sql.NullString
		var responseMS, ts int64
		var success int

		err := rows.Scan(&m.QueryID, &typ, &source, &provider, &responseMS, &m.TokensUsed,
			&m.Confidence, &success, &ts, &feedback)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		m.Type = models.QueryType(typ)
		m.Source = models.Source(source)
		m.Provider = provider.String
		m.ResponseTime = time.Duration(responseMS) * time.Millisecond
		m.Success = success == 1
		m.Timestamp = time.UnixMilli(ts)
		if feedback.Valid && feedback.String != "" {
			var fb models.Feedback
			if err := json.Unmarshal([]byte(feedback.String), &fb); err == nil {
				m.UserFeedback = &fb
			}
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func (c *Client) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM query_metrics WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune metrics: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *Client) SaveAlert(ctx context.Context, a *models.Alert) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal alert data: %w", err)
	}

	resolved := 0
	var resolvedAt sql.NullInt64
	if a.Resolved {
		resolved = 1
	}
	if a.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: a.ResolvedAt.UnixMilli(), Valid: true}
	}

	query := `
		INSERT INTO alerts (id, type, severity, provider, message, data, created_at, resolved, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resolved = excluded.resolved,
			resolved_at = excluded.resolved_at
	`
	_, err = c.db.ExecContext(ctx, query,
		a.ID,
		string(a.Type),
		string(a.Severity),
		a.Provider,
		a.Message,
		string(data),
		a.CreatedAt.UnixMilli(),
		resolved,
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

func (c *Client) ListAlerts(ctx context.Context, onlyOpen bool) ([]models.Alert, error) {
	query := `SELECT id, type, severity, provider, message, data, created_at, resolved, resolved_at FROM alerts`
	if onlyOpen {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var typ, severity string
		var provider, data sql.NullString
		var createdAt int64
		var resolved int
		var resolvedAt sql.NullInt64

		err := rows.Scan(&a.ID, &typ, &severity, &provider, &a.Message, &data, &createdAt, &resolved, &resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		a.Type = models.AlertType(typ)
		a.Severity = models.Severity(severity)
		a.Provider = provider.String
		a.CreatedAt = time.UnixMilli(createdAt)
		a.Resolved = resolved == 1
		if resolvedAt.Valid {
			t := time.UnixMilli(resolvedAt.Int64)
			a.ResolvedAt = &t
		}
		if data.Valid && data.String != "" && data.String != "null" {
			json.Unmarshal([]byte(data.String), &a.Data)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (c *Client) SaveDailySummary(ctx context.Context, s *models.DailySummary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal daily summary: %w", err)
	}

	query := `
		INSERT INTO daily_summaries (day, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`
	if _, err := c.db.ExecContext(ctx, query, s.Day, string(payload), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save daily summary: %w", err)
	}
	return nil
}

// DailySummaries returns the summaries for days in [from, to], formatted 2006-01-02.
func (c *Client) DailySummaries(ctx context.Context, from, to string) ([]models.DailySummary, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT payload FROM daily_summaries WHERE day >= ? AND day <= ? ORDER BY day`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.DailySummary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var s models.DailySummary
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, fmt.Errorf("failed to decode daily summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (c *Client) DeleteDailySummariesBefore(ctx context.Context, day string) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM daily_summaries WHERE day < ?`, day)
	if err != nil {
		return 0, fmt.Errorf("failed to prune daily summaries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func encodeFeedback(fb *models.Feedback) (sql.NullString, error) {
	if fb == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(fb)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal feedback: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
