package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	scanCount   = 200
	deleteBatch = 500
)

// RedisInvalidator deletes cached responses from the read-through cache.
type RedisInvalidator struct {
	client *redis.Client
}

func NewRedisInvalidator(client *redis.Client) *RedisInvalidator {
	return &RedisInvalidator{client: client}
}

// Purge deletes every key matching any of the glob patterns and reports how
// many were removed. SCAN is used instead of KEYS so a large keyspace never
// blocks the server.
func (r *RedisInvalidator) Purge(ctx context.Context, patterns []string) (int, error) {
	removed := 0
	for _, pattern := range patterns {
		batch := make([]string, 0, deleteBatch)
		iter := r.client.Scan(ctx, 0, pattern, scanCount).Iterator()
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == deleteBatch {
				n, err := r.delete(ctx, batch)
				removed += n
				if err != nil {
					return removed, err
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("redis scan %q failed: %w", pattern, err)
		}
		n, err := r.delete(ctx, batch)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (r *RedisInvalidator) delete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Unlink(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete failed: %w", err)
	}
	return int(n), nil
}
