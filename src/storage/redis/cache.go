package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobboard/src/infrastructure/log"
)

const (
	// ImpressionDedupTTL mirrors the ledger's one-hour dedup window.
	ImpressionDedupTTL = 1 * time.Hour

	// ViewRateWindowTTL is the sliding window for the per-IP view limiter.
	ViewRateWindowTTL = 1 * time.Minute
)

// Cache is a keyed TTL cache in front of the impression dedup query,
// plus the per-IP view rate limiter.
type Cache struct {
	client *redis.Client
}

func New(addr, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// check connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("connected to redis", "addr", addr)

	return &Cache{client: client}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SeenImpression reports whether the dedup key exists.
func (c *Cache) SeenImpression(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	return n > 0, nil
}

// MarkImpression sets the dedup key with the given TTL.
func (c *Cache) MarkImpression(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set dedup key: %w", err)
	}
	return nil
}

// ViewRateKey is the per-IP rate limit key.
func ViewRateKey(ip string) string {
	return fmt.Sprintf("viewrate:ip:%s", ip)
}

// IncrementViewRate bumps the per-IP counter and returns the count in
// the current window. The expiry is set on first increment.
func (c *Cache) IncrementViewRate(ctx context.Context, ip string) (int64, error) {
	key := ViewRateKey(ip)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ViewRateWindowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment view rate: %w", err)
	}

	return incr.Val(), nil
}
