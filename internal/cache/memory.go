package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

// Memory is the in-process tier, bounded to a fixed number of entries with
// least-recently-accessed eviction.
type Memory struct {
	lru       *lru.Cache[string, *models.CacheEntry]
	evictions atomic.Int64
}

func NewMemory(maxEntries int) (*Memory, error) {
	l, err := lru.New[string, *models.CacheEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}
	return &Memory{lru: l}, nil
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

func (m *Memory) Set(_ context.Context, entry *models.CacheEntry) error {
	if evicted := m.lru.Add(entry.Key, entry.Clone()); evicted {
		m.evictions.Add(1)
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.lru.Purge()
	return nil
}

func (m *Memory) Size(_ context.Context) (int, error) {
	return m.lru.Len(), nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	return m.lru.Keys(), nil
}

func (m *Memory) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, key := range m.lru.Keys() {
		if e, ok := m.lru.Peek(key); ok && e.Expired(now) {
			m.lru.Remove(key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) EvictOldest(_ context.Context, n int) (int, error) {
	removed := 0
	for removed < n {
		if _, _, ok := m.lru.RemoveOldest(); !ok {
			break
		}
		removed++
	}
	return removed, nil
}

// Evictions counts entries pushed out by the size bound.
func (m *Memory) Evictions() int64 {
	return m.evictions.Load()
}
