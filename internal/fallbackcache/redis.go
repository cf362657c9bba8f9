package fallbackcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisCache struct {
	client *redis.Client
}

// NewRedis wraps a Redis client as the fallback store. Entries carry a
// TTL slightly past their expiry so stale keys clean themselves up even
// without a read.
func NewRedis(client *redis.Client) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, userEmail string) (*Entry, error) {
	raw, err := c.client.Get(ctx, Key(userEmail)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *redisCache) Set(ctx context.Context, userEmail string, entry Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	ttl := time.Until(entry.DataVencimento) + 24*time.Hour
	if ttl <= 0 {
		ttl = time.Hour
	}
	return c.client.Set(ctx, Key(userEmail), encoded, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, userEmail string) error {
	return c.client.Del(ctx, Key(userEmail)).Err()
}
