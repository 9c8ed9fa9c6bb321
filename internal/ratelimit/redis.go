package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript runs the sliding-window step atomically.  State lives in a hash
// {count, reset_ms}; the key expires with its window.
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'count', 'reset_ms')
local count = tonumber(state[1])
local reset = tonumber(state[2])

if count == nil or reset == nil or now_ms >= reset then
    count = 1
    reset = now_ms + window_ms
    redis.call('HSET', key, 'count', count, 'reset_ms', reset)
    redis.call('PEXPIRE', key, window_ms)
    return { 1, count, reset }
end

if count >= max then
    return { 0, count, reset }
end

count = redis.call('HINCRBY', key, 'count', 1)
return { 1, count, reset }
`)

// RedisStore keeps limiter state in Redis so several instances share one
// budget per key.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore returns a RedisStore namespacing keys under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(key), "count", "reset_ms").Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit get: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return Entry{}, false, nil
	}
	count, err1 := strconv.Atoi(fmt.Sprint(vals[0]))
	reset, err2 := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return Entry{}, false, nil
	}
	return Entry{Count: count, ResetAt: time.UnixMilli(reset)}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry) error {
	k := s.key(key)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, "count", e.Count, "reset_ms", e.ResetAt.UnixMilli())
		p.PExpireAt(ctx, k, e.ResetAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ratelimit set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit delete: %w", err)
	}
	return nil
}

// Hit implements AtomicStore.
func (s *RedisStore) Hit(ctx context.Context, key string, p Policy, now time.Time) (Entry, bool, error) {
	res, err := hitScript.Run(ctx, s.rdb, []string{s.key(key)},
		now.UnixMilli(), p.Max, p.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Entry{}, false, fmt.Errorf("ratelimit hit: %w", err)
	}
	if len(res) != 3 {
		return Entry{}, false, errors.New("ratelimit hit: unexpected script result")
	}
	return Entry{Count: int(res[1]), ResetAt: time.UnixMilli(res[2])}, res[0] == 1, nil
}
