package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
)

// CacheStore is the large structured cache tier.
type CacheStore struct {
	client     *Client
	maxEntries int
}

func (c *Client) CacheStore(maxEntries int) *CacheStore {
	return &CacheStore{client: c, maxEntries: maxEntries}
}

func (s *CacheStore) Name() string { return "sqlite" }

func (s *CacheStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	var payload string
	err := s.client.db.QueryRowContext(ctx, `SELECT payload FROM cache_entries WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &entry, nil
}

// Set upserts entry. A new key beyond maxEntries fails with apperr.ErrStorageFull.
func (s *CacheStore) Set(ctx context.Context, entry *models.CacheEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if s.maxEntries > 0 {
		var others int
		err := s.client.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM cache_entries WHERE key != ?`, entry.Key).Scan(&others)
		if err != nil {
			return fmt.Errorf("failed to count cache entries: %w", err)
		}
		if others >= s.maxEntries {
			return fmt.Errorf("sqlite cache holds %d entries: %w", others, apperr.ErrStorageFull)
		}
	}

	query := `
		INSERT INTO cache_entries (key, payload, expires_at, last_accessed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			last_accessed = excluded.last_accessed
	`
	_, err = s.client.db.ExecContext(ctx, query,
		entry.Key,
		string(payload),
		entry.ExpiresAt.UnixMilli(),
		entry.LastAccessed.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Clear(ctx context.Context) error {
	if _, err := s.client.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (s *CacheStore) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.client.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

func (s *CacheStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.client.db.QueryContext(ctx, `SELECT key FROM cache_entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.client.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EvictOldest removes the n least recently accessed entries.
func (s *CacheStore) EvictOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := s.client.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries ORDER BY last_accessed ASC LIMIT ?
		)`, n)
	if err != nil {
		return 0, fmt.Errorf("failed to evict cache entries: %w", err)
	}
	removed, _ := res.RowsAffected()
	return int(removed), nil
}
