package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

// SaveEntry upserts one knowledge entry as a JSON document.
func (c *Client) SaveEntry(ctx context.Context, entry *models.KnowledgeEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	query := `
		INSERT INTO knowledge_entries (id, tenant_id, type, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			type = excluded.type,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`
	_, err = c.db.ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		string(entry.Type),
		string(payload),
		entry.CreatedAt.UnixMilli(),
		entry.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	logger.Debug("Knowledge entry saved", zap.String("entry_id", entry.ID), zap.String("tenant_id", entry.TenantID))
	return nil
}

func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// LoadEntries returns every entry of tenantID, or every entry when tenantID is empty.
func (c *Client) LoadEntries(ctx context.Context, tenantID string) ([]*models.KnowledgeEntry, error) {
	query := `SELECT payload FROM knowledge_entries ORDER BY created_at, id`
	args := []any{}
	if tenantID != "" {
		query = `SELECT payload FROM knowledge_entries WHERE tenant_id = ? ORDER BY created_at, id`
		args = append(args, tenantID)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.KnowledgeEntry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var entry models.KnowledgeEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
