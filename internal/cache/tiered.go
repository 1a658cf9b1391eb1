package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/metrics"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

const (
	lockStripes = 64
	// emergencyFraction of a full tier is evicted before the single retry.
	emergencyFraction = 0.25
)

type Config struct {
	DefaultTTL          time.Duration
	HighEvidenceTTL     time.Duration
	ModerateEvidenceTTL time.Duration
	LowEvidenceTTL      time.Duration
	// Tier1ItemMaxBytes is the largest serialized entry written to tier 1.
	Tier1ItemMaxBytes int
}

type tier struct {
	name   string
	store  Store
	hits   atomic.Int64
	misses atomic.Int64
}

// Tiered reads memory, then tier 1, then tier 2 and promotes hits towards
// memory. Writes land in memory and in exactly one durable tier.
type Tiered struct {
	cfg    Config
	memory *Memory
	tiers  []*tier
	tier1  *tier
	tier2  *tier
	logger *zap.Logger
	now    func() time.Time

	locks [lockStripes]sync.Mutex

	hits       atomic.Int64
	misses     atomic.Int64
	promotions atomic.Int64
	evictions  atomic.Int64
	expired    atomic.Int64
	degraded   atomic.Int64
}

// NewTiered builds the cache. tier1 and tier2 may be nil, in which case
// writes routed to them stay memory-only.
func NewTiered(cfg Config, memory *Memory, tier1, tier2 Store) *Tiered {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 7 * 24 * time.Hour
	}

	c := &Tiered{
		cfg:    cfg,
		memory: memory,
		logger: logger.Named("cache"),
		now:    time.Now,
	}
	c.tiers = append(c.tiers, &tier{name: memory.Name(), store: memory})
	if tier1 != nil {
		c.tier1 = &tier{name: storeName(tier1, "tier1"), store: tier1}
		c.tiers = append(c.tiers, c.tier1)
	}
	if tier2 != nil {
		c.tier2 = &tier{name: storeName(tier2, "tier2"), store: tier2}
		c.tiers = append(c.tiers, c.tier2)
	}
	return c
}

// SetClock replaces the time source.
func (c *Tiered) SetClock(now func() time.Time) {
	c.now = now
}

func storeName(s Store, fallback string) string {
	if n, ok := s.(named); ok {
		return n.Name()
	}
	return fallback
}

func (c *Tiered) lockFor(key string) *sync.Mutex {
	return &c.locks[xxhash.Sum64String(key)%lockStripes]
}

// lockAll takes every stripe in index order. Callers holding one stripe
// never wait for another, so the fixed order cannot deadlock.
func (c *Tiered) lockAll() {
	for i := range c.locks {
		c.locks[i].Lock()
	}
}

func (c *Tiered) unlockAll() {
	for i := range c.locks {
		c.locks[i].Unlock()
	}
}

// TTLFor picks the lifetime of a response from its evidence level.
func (c *Tiered) TTLFor(resp *models.Response) time.Duration {
	var ttl time.Duration
	switch resp.Metadata.EvidenceLevel {
	case models.EvidenceHigh:
		ttl = c.cfg.HighEvidenceTTL
	case models.EvidenceModerate:
		ttl = c.cfg.ModerateEvidenceTTL
	case models.EvidenceLow:
		ttl = c.cfg.LowEvidenceTTL
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	return ttl
}

// Get returns a copy of the cached response, or false on a miss. Expired
// entries found on the way are deleted and never returned.
func (c *Tiered) Get(ctx context.Context, key string) (*models.Response, bool) {
	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := c.now()
	for i, t := range c.tiers {
		entry, err := t.store.Get(ctx, key)
		if err != nil {
			c.logger.Warn("Cache tier read failed", zap.String("tier", t.name), zap.Error(err))
			c.tierMiss(t)
			continue
		}
		if entry == nil {
			c.tierMiss(t)
			continue
		}
		if entry.Expired(now) {
			if err := t.store.Delete(ctx, key); err != nil {
				c.logger.Warn("Failed to delete expired entry", zap.String("tier", t.name), zap.Error(err))
			}
			c.expired.Add(1)
			metrics.CacheEvictions.WithLabelValues(t.name, "expired").Inc()
			c.tierMiss(t)
			continue
		}

		t.hits.Add(1)
		metrics.CacheHits.WithLabelValues(t.name).Inc()
		entry.Touch(now)

		// refresh the tier that hit and every faster tier
		large := i > 0 && c.tier1 != nil && c.tier2 != nil && !c.fitsTier1(entry)
		for j := i; j >= 0; j-- {
			if large && c.tiers[j] == c.tier1 {
				continue
			}
			if err := c.tiers[j].store.Set(ctx, entry); err != nil {
				c.logger.Debug("Cache refresh failed", zap.String("tier", c.tiers[j].name), zap.Error(err))
			}
		}
		if i > 0 {
			c.promotions.Add(1)
			c.logger.Debug("Cache entry promoted", zap.String("key", key), zap.String("from", t.name))
		}

		c.hits.Add(1)
		return entry.Response.Clone(), true
	}

	c.misses.Add(1)
	return nil, false
}

func (c *Tiered) tierMiss(t *tier) {
	t.misses.Add(1)
	metrics.CacheMisses.WithLabelValues(t.name).Inc()
}

// Set stores resp under key. A zero ttl means TTLFor(resp). A durable tier
// that stays full after one emergency cleanup leaves the entry memory-only.
func (c *Tiered) Set(ctx context.Context, key string, resp *models.Response, ttl time.Duration) error {
	if resp == nil {
		return errors.New("cache: nil response")
	}
	if ttl <= 0 {
		ttl = c.TTLFor(resp)
	}

	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := c.now()
	entry := &models.CacheEntry{
		Key:          key,
		Response:     resp.Clone(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
	}

	if err := c.memory.Set(ctx, entry); err != nil {
		return fmt.Errorf("failed to write memory tier: %w", err)
	}

	target, err := c.durableTierFor(entry)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if other := c.otherDurable(target); other != nil {
		if err := other.store.Delete(ctx, key); err != nil {
			c.logger.Warn("Failed to drop stale durable copy", zap.String("tier", other.name), zap.String("key", key), zap.Error(err))
		}
	}

	err = target.store.Set(ctx, entry)
	if errors.Is(err, apperr.ErrStorageFull) {
		c.emergencyCleanup(ctx, target)
		err = target.store.Set(ctx, entry)
	}
	if err != nil {
		c.degraded.Add(1)
		if derr := target.store.Delete(ctx, key); derr != nil {
			c.logger.Debug("Failed to drop previous durable copy", zap.String("tier", target.name), zap.Error(derr))
		}
		c.logger.Warn("Durable cache write failed, entry kept in memory only",
			zap.String("tier", target.name),
			zap.String("key", key),
			zap.Error(err),
		)
		if errors.Is(err, apperr.ErrStorageFull) {
			return nil
		}
		return fmt.Errorf("failed to write %s tier: %w", target.name, err)
	}
	return nil
}

func (c *Tiered) durableTierFor(entry *models.CacheEntry) (*tier, error) {
	if c.tier1 == nil {
		return c.tier2, nil
	}
	if c.tier2 == nil {
		return c.tier1, nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to size cache entry: %w", err)
	}
	if c.cfg.Tier1ItemMaxBytes > 0 && len(payload) > c.cfg.Tier1ItemMaxBytes {
		return c.tier2, nil
	}
	return c.tier1, nil
}

// fitsTier1 reports whether entry is small enough for tier 1.
func (c *Tiered) fitsTier1(entry *models.CacheEntry) bool {
	if c.cfg.Tier1ItemMaxBytes <= 0 {
		return true
	}
	payload, err := json.Marshal(entry)
	return err == nil && len(payload) <= c.cfg.Tier1ItemMaxBytes
}

func (c *Tiered) otherDurable(t *tier) *tier {
	switch t {
	case c.tier1:
		return c.tier2
	case c.tier2:
		return c.tier1
	}
	return nil
}

func (c *Tiered) emergencyCleanup(ctx context.Context, t *tier) {
	size, err := t.store.Size(ctx)
	if err != nil {
		c.logger.Warn("Emergency cleanup could not size tier", zap.String("tier", t.name), zap.Error(err))
		return
	}
	n := int(math.Ceil(float64(size) * emergencyFraction))
	if n < 1 {
		n = 1
	}

	removed, err := evictOldest(ctx, t.store, n)
	if err != nil {
		c.logger.Warn("Emergency cleanup failed", zap.String("tier", t.name), zap.Error(err))
	}
	c.evictions.Add(int64(removed))
	metrics.CacheEvictions.WithLabelValues(t.name, "capacity").Add(float64(removed))
	c.logger.Info("Emergency cache cleanup",
		zap.String("tier", t.name),
		zap.Int("size", size),
		zap.Int("evicted", removed),
	)
}

func (c *Tiered) Delete(ctx context.Context, key string) error {
	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	var errs []error
	for _, t := range c.tiers {
		if err := t.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}

// Sweep deletes expired entries from every tier and returns how many went.
// Each tier is swept with every key stripe held.
func (c *Tiered) Sweep(ctx context.Context) int {
	now := c.now()
	total := 0
	for _, t := range c.tiers {
		c.lockAll()
		n, err := deleteExpired(ctx, t.store, now)
		c.unlockAll()
		if err != nil {
			c.logger.Warn("Cache sweep failed", zap.String("tier", t.name), zap.Error(err))
			continue
		}
		total += n
		if n > 0 {
			metrics.CacheEvictions.WithLabelValues(t.name, "expired").Add(float64(n))
		}
	}
	c.expired.Add(int64(total))
	c.logger.Debug("Cache sweep finished", zap.Int("removed", total))
	return total
}

func (c *Tiered) Clear(ctx context.Context) error {
	c.lockAll()
	defer c.unlockAll()

	var errs []error
	for _, t := range c.tiers {
		if err := t.store.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	c.logger.Info("Cache cleared")
	return nil
}

func (c *Tiered) Stats(ctx context.Context) models.CacheStats {
	stats := models.CacheStats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Promotions: c.promotions.Load(),
		Evictions:  c.evictions.Load() + c.memory.Evictions(),
		Expired:    c.expired.Load(),
		Degraded:   c.degraded.Load(),
	}
	for _, t := range c.tiers {
		size, err := t.store.Size(ctx)
		if err != nil {
			size = -1
		}
		stats.Tiers = append(stats.Tiers, models.TierStats{
			Name:    t.name,
			Entries: size,
			Hits:    t.hits.Load(),
			Misses:  t.misses.Load(),
		})
	}
	return stats
}
