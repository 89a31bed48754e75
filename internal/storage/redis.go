package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwaldner/atmscreen/internal/greeks"
	"github.com/jwaldner/atmscreen/internal/models"
)

// OpenRedis parses a redis:// URL and checks the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisGreeksCache is a greeks.Cache shared by every instance. Entries carry
// their own created_at and also expire server side after ttl.
type RedisGreeksCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisGreeksCache creates a cache whose keys expire after ttl.
func NewRedisGreeksCache(client *redis.Client, ttl time.Duration) *RedisGreeksCache {
	if ttl <= 0 {
		ttl = greeks.DefaultCacheTTL
	}
	return &RedisGreeksCache{client: client, ttl: ttl, prefix: "greeks:"}
}

func (c *RedisGreeksCache) Get(ctx context.Context, key greeks.Key, ttl time.Duration) (models.GreeksCacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.GreeksCacheEntry{}, false, nil
	}
	if err != nil {
		return models.GreeksCacheEntry{}, false, fmt.Errorf("redis get greeks %s: %w", key.Symbol, err)
	}

	var entry models.GreeksCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.GreeksCacheEntry{}, false, fmt.Errorf("decode greeks %s: %w", key.Symbol, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if time.Since(entry.CreatedAt) > ttl {
		return models.GreeksCacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *RedisGreeksCache) Upsert(ctx context.Context, key greeks.Key, g models.Greeks) error {
	raw, err := json.Marshal(models.GreeksCacheEntry{Greeks: g, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key.String(), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set greeks %s: %w", key.Symbol, err)
	}
	return nil
}
