package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeeper/internal/models"
)

// RedisCounterStore is a CounterStore backed by a shared Redis instance or
// cluster, for deployments running more than one gate replica. Atomicity
// comes from Redis INCR; expiry is delegated to key TTLs, so SweepExpired is
// a no-op here.
//
// Keys embed the credential ID in a hash tag so that a credential's windows
// land on the same cluster slot.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore connects to Redis and verifies the connection.
func NewRedisCounterStore(cfg models.RedisConfig) (*RedisCounterStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisCounterStore{client: client}, nil
}

func (r *RedisCounterStore) key(credentialID string, w Window) string {
	return fmt.Sprintf("gatekeeper:counter:{%s}:%s", credentialID, w)
}

// Get reads the pair's count and remaining TTL without mutating anything.
func (r *RedisCounterStore) Get(ctx context.Context, credentialID string, w Window, now time.Time) (CounterState, error) {
	key := r.key(credentialID, w)

	var getCmd *redis.StringCmd
	var pttlCmd *redis.DurationCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		pttlCmd = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return CounterState{}, fmt.Errorf("redis get %s: %w", key, err)
	}

	count, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return CounterState{Count: 0, ResetAt: now.Add(w.Duration())}, nil
	}
	if err != nil {
		return CounterState{}, fmt.Errorf("redis get %s: %w", key, err)
	}

	ttl := pttlCmd.Val()
	if ttl <= 0 {
		// Key exists but has no TTL; treat as a fresh window.
		return CounterState{Count: count, ResetAt: now.Add(w.Duration())}, nil
	}
	return CounterState{Count: count, ResetAt: now.Add(ttl)}, nil
}

// Increment atomically adds one via INCR, attaching the window TTL on first
// touch (ExpireNX leaves an existing TTL alone).
func (r *RedisCounterStore) Increment(ctx context.Context, credentialID string, w Window, now time.Time) (CounterState, error) {
	key := r.key(credentialID, w)

	var incrCmd *redis.IntCmd
	var pttlCmd *redis.DurationCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incrCmd = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, w.Duration())
		pttlCmd = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return CounterState{}, fmt.Errorf("redis incr %s: %w", key, err)
	}

	ttl := pttlCmd.Val()
	if ttl <= 0 {
		ttl = w.Duration()
	}
	return CounterState{Count: incrCmd.Val(), ResetAt: now.Add(ttl)}, nil
}

// SweepExpired is a no-op: Redis TTLs garbage-collect expired windows.
func (r *RedisCounterStore) SweepExpired(ctx context.Context, now time.Time) int {
	return 0
}

// Close closes the Redis client.
func (r *RedisCounterStore) Close() {
	r.client.Close()
}
