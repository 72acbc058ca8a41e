// Package redis stores quota counters in Redis hashes. Every mutation runs as
// a Lua script so the read-decide-write step is atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"nova/internal/ratelimit/config"
	"nova/internal/ratelimit/models"
	"nova/internal/ratelimit/window"
	"nova/pkg/platform/sentinel"
)

const (
	fieldCount = "count"
	fieldReset = "reset" // unix milliseconds
	fieldVer   = "ver"
)

// applyScript decides one request using the Redis server clock, so replicas
// with skewed clocks still agree on window boundaries.
//
// KEYS[1] counter key
// ARGV[1] max requests, ARGV[2] window ms, ARGV[3] grace ms
// Returns {allowed, count, reset_ms, now_ms}.
var applyScript = goredis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local grace = tonumber(ARGV[3])

local v = redis.call('HMGET', KEYS[1], 'count', 'reset', 'ver')
local count = tonumber(v[1])
local reset = tonumber(v[2])
local ver = tonumber(v[3]) or 0

if count == nil or reset == nil or reset <= now then
	count = 0
	reset = now + window
end

if count >= max then
	return {0, count, reset, now}
end

count = count + 1
redis.call('HSET', KEYS[1], 'count', count, 'reset', reset, 'ver', ver + 1)
redis.call('PEXPIRE', KEYS[1], reset + grace - now)
return {1, count, reset, now}
`)

// peekScript reads the counter and the server clock in one round trip so a
// preview uses the same clock as applyScript.
//
// KEYS[1] counter key
// Returns {exists, count, reset_ms, now_ms}.
var peekScript = goredis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local v = redis.call('HMGET', KEYS[1], 'count', 'reset')
local count = tonumber(v[1])
local reset = tonumber(v[2])
if count == nil or reset == nil then
	return {0, 0, 0, now}
end
return {1, count, reset, now}
`)

// casScript writes only when the stored version matches.
//
// KEYS[1] counter key
// ARGV[1] expected version (0 = absent), ARGV[2] count, ARGV[3] reset ms, ARGV[4] ttl ms
var casScript = goredis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'ver')) or 0
local expected = tonumber(ARGV[1])
if cur ~= expected then
	return 0
end
redis.call('HSET', KEYS[1], 'count', ARGV[2], 'reset', ARGV[3], 'ver', expected + 1)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// RedisQuotaStore implements ports.QuotaStore, ports.AtomicStore and
// ports.Peeker.
type RedisQuotaStore struct {
	client goredis.UniversalClient
	grace  time.Duration
}

type Option func(*RedisQuotaStore)

func WithGrace(grace time.Duration) Option {
	return func(s *RedisQuotaStore) {
		s.grace = grace
	}
}

func New(client goredis.UniversalClient, opts ...Option) *RedisQuotaStore {
	s := &RedisQuotaStore{
		client: client,
		grace:  config.DefaultGrace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisQuotaStore) Get(ctx context.Context, key string) (*models.VersionedEntry, error) {
	vals, err := s.client.HMGet(ctx, key, fieldCount, fieldReset, fieldVer).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return nil, nil
	}

	count, err := parseInt(vals[0])
	if err != nil {
		return nil, fmt.Errorf("decode %s count: %w", key, sentinel.ErrInvalidState)
	}
	reset, err := parseInt(vals[1])
	if err != nil {
		return nil, fmt.Errorf("decode %s reset: %w", key, sentinel.ErrInvalidState)
	}
	var ver int64
	if vals[2] != nil {
		if ver, err = parseInt(vals[2]); err != nil {
			return nil, fmt.Errorf("decode %s version: %w", key, sentinel.ErrInvalidState)
		}
	}

	return &models.VersionedEntry{
		Entry: models.RateLimitEntry{
			Count:         int(count),
			WindowResetAt: time.UnixMilli(reset),
		},
		Version: ver,
	}, nil
}

func (s *RedisQuotaStore) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, entry models.RateLimitEntry, ttl time.Duration) (bool, error) {
	ttlMs := max(ttl.Milliseconds(), 1)
	res, err := casScript.Run(ctx, s.client, []string{key},
		expectedVersion, entry.Count, entry.WindowResetAt.UnixMilli(), ttlMs).Int()
	if err != nil {
		return false, unavailable("compare-and-swap", err)
	}
	return res == 1, nil
}

// Apply ignores now and uses the server clock instead.
func (s *RedisQuotaStore) Apply(ctx context.Context, key string, cfg models.RateLimitConfig, _ time.Time) (*models.RateLimitResult, error) {
	raw, err := applyScript.Run(ctx, s.client, []string{key},
		cfg.MaxRequests, cfg.WindowMs(), s.grace.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, unavailable("apply", err)
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("apply %s: unexpected script reply: %w", key, sentinel.ErrInvalidState)
	}

	allowed := raw[0] == 1
	count := int(raw[1])
	reset := time.UnixMilli(raw[2])
	serverNow := time.UnixMilli(raw[3])

	result := &models.RateLimitResult{
		Allowed: allowed,
		Limit:   cfg.MaxRequests,
		ResetAt: reset,
	}
	if allowed {
		result.Remaining = cfg.MaxRequests - count
	} else {
		result.RetryAfter = window.RetryAfterSeconds(serverNow, reset)
	}
	return result, nil
}

// Peek previews the next Apply on the server clock without writing.
func (s *RedisQuotaStore) Peek(ctx context.Context, key string, cfg models.RateLimitConfig) (*models.RateLimitResult, error) {
	raw, err := peekScript.Run(ctx, s.client, []string{key}).Int64Slice()
	if err != nil {
		return nil, unavailable("peek", err)
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("peek %s: unexpected script reply: %w", key, sentinel.ErrInvalidState)
	}

	var entry *models.RateLimitEntry
	if raw[0] == 1 {
		entry = &models.RateLimitEntry{
			Count:         int(raw[1]),
			WindowResetAt: time.UnixMilli(raw[2]),
		}
	}
	result := window.Peek(time.UnixMilli(raw[3]), entry, cfg)
	return &result, nil
}

func (s *RedisQuotaStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *RedisQuotaStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func parseInt(v any) (int64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, errors.New("not a string")
	}
	return strconv.ParseInt(str, 10, 64)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, sentinel.ErrUnavailable, err)
}
