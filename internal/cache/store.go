package cache

import (
	"context"
	"sort"
	"time"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
)

// Store is one cache tier. Get returns nil, nil on a miss.
type Store interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Set(ctx context.Context, entry *models.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)
	Keys(ctx context.Context) ([]string, error)
}

// Sweeper is implemented by tiers that can drop expired entries in bulk.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Evictor is implemented by tiers that track access order themselves.
type Evictor interface {
	EvictOldest(ctx context.Context, n int) (int, error)
}

type named interface {
	Name() string
}

func deleteExpired(ctx context.Context, s Store, now time.Time) (int, error) {
	if sw, ok := s.(Sweeper); ok {
		return sw.DeleteExpired(ctx, now)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		e, err := s.Get(ctx, key)
		if err != nil || e == nil || !e.Expired(now) {
			continue
		}
		if err := s.Delete(ctx, key); err == nil {
			removed++
		}
	}
	return removed, nil
}

func evictOldest(ctx context.Context, s Store, n int) (int, error) {
	if ev, ok := s.(Evictor); ok {
		return ev.EvictOldest(ctx, n)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	entries := make([]*models.CacheEntry, 0, len(keys))
	for _, key := range keys {
		if e, err := s.Get(ctx, key); err == nil && e != nil {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed.Before(entries[j].LastAccessed)
	})

	removed := 0
	for _, e := range entries {
		if removed >= n {
			break
		}
		if err := s.Delete(ctx, e.Key); err == nil {
			removed++
		}
	}
	return removed, nil
}
