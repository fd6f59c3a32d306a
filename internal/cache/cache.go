// Package cache holds the Redis cache-aside layer for hierarchy reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"loanops/internal/config"
	"loanops/internal/domain"
)

const (
	treeKey    = "hierarchy:tree"
	treeGenKey = "hierarchy:tree:gen"
	defaultTTL = 5 * time.Minute
)

// Redis stores JSON values under a key prefix with a fixed TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// FromConfig connects to the configured Redis. It returns nil, nil when no
// address is configured so callers can run without a cache.
func FromConfig(ctx context.Context, cfg config.CacheConfig) (*Redis, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	return New(client, cfg.Prefix, time.Duration(cfg.TTLSeconds)*time.Second), nil
}

func (c *Redis) get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

// GetTree returns the cached forest. The bool is false on a miss.
func (c *Redis) GetTree(ctx context.Context) ([]domain.HierarchyNode, bool, error) {
	var forest []domain.HierarchyNode
	ok, err := c.get(ctx, treeKey, &forest)
	return forest, ok, err
}

// TreeGeneration returns the invalidation counter. A missing counter is 0.
func (c *Redis) TreeGeneration(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.prefix+treeGenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache get %s: %w", treeGenKey, err)
	}
	return gen, nil
}

// SetTree stores forest only while the generation still equals gen, so a
// forest built before an invalidation is never written after it. The bool
// reports whether the value was stored.
func (c *Redis) SetTree(ctx context.Context, gen int64, forest []domain.HierarchyNode) (bool, error) {
	if forest == nil {
		forest = []domain.HierarchyNode{}
	}
	data, err := json.Marshal(forest)
	if err != nil {
		return false, fmt.Errorf("cache encode %s: %w", treeKey, err)
	}
	stored := false
	genKey := c.prefix + treeGenKey
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.prefix+treeKey, data, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache set %s: %w", treeKey, err)
	}
	return stored, nil
}

// InvalidateTree bumps the generation and drops the cached forest in one
// transaction.
func (c *Redis) InvalidateTree(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.prefix+treeGenKey)
		pipe.Del(ctx, c.prefix+treeKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache invalidate %s: %w", treeKey, err)
	}
	return nil
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}
