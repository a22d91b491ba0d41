// Copyright (c) 2026 Sentra Labs. All rights reserved.
// Author: eng@sentra.dev

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// # Lua Scripts
//
// Each script executes atomically inside Redis, which is what makes the
// check-then-act sequences below safe under concurrent load across instances.

// reserveScript checks every windowed counter plus the concurrency slot
// BEFORE incrementing any of them. KEYS = window keys then the concurrency
// key; ARGV = (limit, ttl_ms) per window, then the concurrency limit.
// Returns {allowed, window counts..., concurrent count}.
var reserveScript = redis.NewScript(`
local n = #KEYS - 1
local counts = {}
for i = 1, n do
	counts[i] = tonumber(redis.call('GET', KEYS[i]) or '0')
end
local concurrent = tonumber(redis.call('GET', KEYS[n+1]) or '0')

local allowed = 1
for i = 1, n do
	if counts[i] >= tonumber(ARGV[2*i-1]) then
		allowed = 0
	end
end
if concurrent >= tonumber(ARGV[2*n+1]) then
	allowed = 0
end

if allowed == 0 then
	local result = {0}
	for i = 1, n do
		result[i+1] = counts[i]
	end
	result[n+2] = concurrent
	return result
end

local result = {1}
for i = 1, n do
	local value = redis.call('INCR', KEYS[i])
	if value == 1 then
		redis.call('PEXPIRE', KEYS[i], tonumber(ARGV[2*i]))
	end
	result[i+1] = value
end
result[n+2] = redis.call('INCR', KEYS[n+1])
return result
`)

// casScript swaps the value only if it still equals the expected one.
var casScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

// decrFloorScript decrements without ever going below zero. Release paths can
// run twice under retries; the floor keeps the counter honest.
var decrFloorScript = redis.NewScript(`
local value = redis.call('DECR', KEYS[1])
if value < 0 then
	redis.call('SET', KEYS[1], '0', 'KEEPTTL')
	return 0
end
return value
`)

// incrTTLScript increments by ARGV[2] and stamps the TTL only on first touch,
// so the window boundary is anchored to the first request in the bucket.
var incrTTLScript = redis.NewScript(`
local delta = tonumber(ARGV[2])
local value = redis.call('INCRBY', KEYS[1], delta)
if value == delta and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[1]))
end
return value
`)

// # Redis Implementation

// RedisStore implements [Store] on top of a shared Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an established Redis client as a [Store].
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the value for key, mapping redis.Nil to [ErrNotFound].
func (store *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := store.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("kvstore_redis_get_failed: %w", err)
	}
	return value, nil
}

// GetMulti fetches all keys in a single MGET round trip.
func (store *RedisStore) GetMulti(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	raw, err := store.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore_redis_mget_failed: %w", err)
	}

	values := make([]string, len(raw))
	for i, item := range raw {
		if s, ok := item.(string); ok {
			values[i] = s
		}
	}
	return values, nil
}

// SetWithTTL stores value under key with the given expiry.
func (store *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := store.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore_redis_set_failed: %w", err)
	}
	return nil
}

// SetIfAbsentWithTTL stores value only if key does not already exist.
func (store *RedisStore) SetIfAbsentWithTTL(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	stored, err := store.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore_redis_setnx_failed: %w", err)
	}
	return stored, nil
}

// IncrWithTTL atomically increments the counter, stamping the TTL on first touch.
func (store *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return store.IncrByWithTTL(ctx, key, 1, ttl)
}

// IncrByWithTTL atomically adds delta to the counter, stamping the TTL on
// first touch.
func (store *RedisStore) IncrByWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	value, err := incrTTLScript.Run(ctx, store.client, []string{key}, ttl.Milliseconds(), delta).Int64()
	if err != nil {
		return 0, fmt.Errorf("kvstore_redis_incr_failed: %w", err)
	}
	return value, nil
}

// Decr atomically decrements the counter, floored at zero.
func (store *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	value, err := decrFloorScript.Run(ctx, store.client, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("kvstore_redis_decr_failed: %w", err)
	}
	return value, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (store *RedisStore) Delete(ctx context.Context, key string) error {
	if err := store.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kvstore_redis_del_failed: %w", err)
	}
	return nil
}

// CompareAndSwap atomically replaces the value if it still equals expected.
func (store *RedisStore) CompareAndSwap(ctx context.Context, key, expected, replacement string, ttl time.Duration) (bool, error) {
	swapped, err := casScript.Run(ctx, store.client,
		[]string{key},
		expected, replacement, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("kvstore_redis_cas_failed: %w", err)
	}
	return swapped == 1, nil
}

// Reserve executes the atomic multi-window check-then-increment script.
func (store *RedisStore) Reserve(ctx context.Context, request ReserveRequest) (*ReserveResult, error) {
	keys := make([]string, 0, len(request.Windows)+1)
	args := make([]interface{}, 0, len(request.Windows)*2+1)

	for _, window := range request.Windows {
		keys = append(keys, window.Key)
		args = append(args, window.Limit, window.TTL.Milliseconds())
	}
	keys = append(keys, request.ConcurrencyKey)
	args = append(args, request.ConcurrencyLimit)

	raw, err := reserveScript.Run(ctx, store.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("kvstore_redis_reserve_failed: %w", err)
	}

	if len(raw) != len(request.Windows)+2 {
		return nil, fmt.Errorf("kvstore_redis_reserve_failed: unexpected reply length %d", len(raw))
	}

	result := &ReserveResult{
		Allowed:      toInt64(raw[0]) == 1,
		WindowCounts: make([]int64, len(request.Windows)),
	}
	for i := range request.Windows {
		result.WindowCounts[i] = toInt64(raw[i+1])
	}
	result.ConcurrentCount = toInt64(raw[len(raw)-1])

	return result, nil
}

// toInt64 normalizes a Lua script reply element.
func toInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case string:
		parsed, _ := strconv.ParseInt(v, 10, 64)
		return parsed
	default:
		return 0
	}
}
