package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tutupkas/backend/internal/wizard"
)

const draftKeyPrefix = "tutupkas:wizard:"

// RedisDraftCache lets wizard sessions survive a restart and be shared by
// several API replicas.
type RedisDraftCache struct {
	client *redis.Client
}

func NewRedisDraftCache(addr string, password string, db int) *RedisDraftCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisDraftCache{client: client}
}

func (c *RedisDraftCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisDraftCache) Close() error {
	return c.client.Close()
}

func (c *RedisDraftCache) Get(ctx context.Context, id string) (*wizard.State, bool, error) {
	val, err := c.client.Get(ctx, draftKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var state wizard.State
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, false, err
	}
	return &state, true, nil
}

func (c *RedisDraftCache) Set(ctx context.Context, id string, state wizard.State, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, draftKeyPrefix+id, payload, ttl).Err()
}

func (c *RedisDraftCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, draftKeyPrefix+id).Err()
}
