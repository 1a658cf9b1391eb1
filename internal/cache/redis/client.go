package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/internal/storage/models"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
)

type Options struct {
	Host       string
	Port       int
	Password   string
	DB         int
	KeyPrefix  string
	MaxEntries int
	MaxBytes   int64
}

// Client is the small-object cache tier. Entries are JSON strings; an access
// index, an expiry index and a byte ledger keep the tier bounded.
type Client struct {
	client     *redis.Client
	prefix     string
	maxEntries int
	maxBytes   int64
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr))

	return NewFromClient(client, opts), nil
}

// NewFromClient wraps an existing connection.
func NewFromClient(client *redis.Client, opts Options) *Client {
	return &Client{
		client:     client,
		prefix:     opts.KeyPrefix,
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Name() string { return "redis" }

func (c *Client) entryKey(key string) string { return c.prefix + "entry:" + key }
func (c *Client) accessKey() string          { return c.prefix + "index:access" }
func (c *Client) expiryKey() string          { return c.prefix + "index:expiry" }
func (c *Client) bytesKey() string           { return c.prefix + "index:bytes" }
func (c *Client) totalKey() string           { return c.prefix + "index:total" }

func (c *Client) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	data, err := c.client.Get(ctx, c.entryKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

// Set writes entry or fails with apperr.ErrStorageFull when it would push
// the tier past its entry or byte bound.
func (c *Client) Set(ctx context.Context, entry *models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	size := int64(len(data))

	previous, err := c.client.HGet(ctx, c.bytesKey(), entry.Key).Int64()
	exists := err == nil
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read byte ledger: %w", err)
	}

	if !exists && c.maxEntries > 0 {
		count, err := c.client.ZCard(ctx, c.accessKey()).Result()
		if err != nil {
			return fmt.Errorf("failed to count cache entries: %w", err)
		}
		if count >= int64(c.maxEntries) {
			return fmt.Errorf("redis tier holds %d entries: %w", count, apperr.ErrStorageFull)
		}
	}
	if c.maxBytes > 0 {
		total, err := c.client.Get(ctx, c.totalKey()).Int64()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read byte total: %w", err)
		}
		if total-previous+size > c.maxBytes {
			return fmt.Errorf("redis tier holds %d bytes: %w", total, apperr.ErrStorageFull)
		}
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.entryKey(entry.Key), data, 0)
		pipe.ZAdd(ctx, c.accessKey(), redis.Z{Score: float64(entry.LastAccessed.UnixMilli()), Member: entry.Key})
		pipe.ZAdd(ctx, c.expiryKey(), redis.Z{Score: float64(entry.ExpiresAt.UnixMilli()), Member: entry.Key})
		pipe.HSet(ctx, c.bytesKey(), entry.Key, size)
		pipe.IncrBy(ctx, c.totalKey(), size-previous)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	logger.Debug("Cache entry stored", zap.String("key", entry.Key), zap.Int64("bytes", size))
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.deleteKeys(ctx, []string{key})
}

func (c *Client) deleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	sizes, err := c.client.HMGet(ctx, c.bytesKey(), keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to read byte ledger: %w", err)
	}
	var freed int64
	for _, v := range sizes {
		if s, ok := v.(string); ok {
			n, _ := strconv.ParseInt(s, 10, 64)
			freed += n
		}
	}

	entryKeys := make([]string, len(keys))
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		entryKeys[i] = c.entryKey(k)
		members[i] = k
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, entryKeys...)
		pipe.ZRem(ctx, c.accessKey(), members...)
		pipe.ZRem(ctx, c.expiryKey(), members...)
		pipe.HDel(ctx, c.bytesKey(), keys...)
		pipe.DecrBy(ctx, c.totalKey(), freed)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

func (c *Client) Clear(ctx context.Context) error {
	keys, err := c.Keys(ctx)
	if err != nil {
		return err
	}

	iter := c.client.Scan(ctx, 0, c.prefix+"entry:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	if err := c.client.Del(ctx, c.accessKey(), c.expiryKey(), c.bytesKey(), c.totalKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear cache indexes: %w", err)
	}

	logger.Info("Redis cache tier cleared", zap.Int("entries", len(keys)))
	return nil
}

func (c *Client) Size(ctx context.Context) (int, error) {
	n, err := c.client.ZCard(ctx, c.accessKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return int(n), nil
}

func (c *Client) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.client.ZRange(ctx, c.accessKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

// Bytes reports the serialized size held by the tier.
func (c *Client) Bytes(ctx context.Context) (int64, error) {
	total, err := c.client.Get(ctx, c.totalKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return total, err
}

func (c *Client) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	keys, err := c.client.ZRangeByScore(ctx, c.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find expired entries: %w", err)
	}
	if err := c.deleteKeys(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// EvictOldest removes the n least recently accessed entries.
func (c *Client) EvictOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	keys, err := c.client.ZRange(ctx, c.accessKey(), 0, int64(n-1)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find oldest entries: %w", err)
	}
	if err := c.deleteKeys(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
