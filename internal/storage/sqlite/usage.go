package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

// SaveUsage stores one tracker document per provider.
func (c *Client) SaveUsage(ctx context.Context, tracker *models.UsageTracker) error {
	payload, err := json.Marshal(tracker)
	if err != nil {
		return fmt.Errorf("failed to marshal usage tracker: %w", err)
	}

	query := `
		INSERT INTO usage_trackers (provider, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`
	if _, err := c.db.ExecContext(ctx, query, tracker.Provider, string(payload), tracker.UpdatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to save usage tracker: %w", err)
	}
	return nil
}

func (c *Client) LoadUsage(ctx context.Context) ([]*models.UsageTracker, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT payload FROM usage_trackers ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage trackers: %w", err)
	}
	defer rows.Close()

	var trackers []*models.UsageTracker
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var tracker models.UsageTracker
		if err := json.Unmarshal([]byte(payload), &tracker); err != nil {
			return nil, fmt.Errorf("failed to decode usage tracker: %w", err)
		}
		trackers = append(trackers, &tracker)
	}
	return trackers, rows.Err()
}
