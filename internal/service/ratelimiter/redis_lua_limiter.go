// Package ratelimiter enforces the per-caller generation quota with a token
// bucket evaluated atomically in Redis.
package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether subject may spend cost tokens now.
type Limiter interface {
	Allow(ctx context.Context, subject string, cost int64) (Decision, error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	Limit      int64
	RetryAfter time.Duration
}

// BucketConfig shapes a token bucket.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// NewBucketConfigFromPerMinute builds a bucket that allows perMinute
// requests in a burst and refills at the same rate.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// Enabled reports whether the bucket limits anything.
func (c BucketConfig) Enabled() bool { return c.Capacity > 0 && c.RefillRate > 0 }

// RedisLuaLimiter keeps one bucket per subject under prefix. Bucket keys
// expire once they would have refilled completely.
type RedisLuaLimiter struct {
	redis  redis.Cmdable
	cfg    BucketConfig
	prefix string
	script *redis.Script
	now    func() time.Time
}

// NewRedisLuaLimiter returns nil when rdb is nil; a nil limiter allows
// everything.
func NewRedisLuaLimiter(rdb redis.Cmdable, cfg BucketConfig, prefix string) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	if prefix == "" {
		prefix = "quota"
	}
	return &RedisLuaLimiter{
		redis:  rdb,
		cfg:    cfg,
		prefix: prefix,
		script: redis.NewScript(luaTokenBucketScript),
		now:    time.Now,
	}
}

// Numbers leave Lua as integers, so tokens are returned as a string and the
// retry delay in whole milliseconds.
const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] then
  tokens = tonumber(data[1])
end
if data[2] then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)

local allowed = 0
local retry_after_ms = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry_after_ms = math.ceil((cost - tokens) / refill_rate * 1000)
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_refill", tostring(now))
redis.call("EXPIRE", key, math.ceil(capacity / refill_rate) + 1)

return { allowed, tostring(tokens), retry_after_ms }
`

// Allow spends cost tokens from subject's bucket. Redis failures fail open:
// the call is allowed and the error returned for logging.
func (l *RedisLuaLimiter) Allow(ctx context.Context, subject string, cost int64) (Decision, error) {
	if l == nil || l.redis == nil || !l.cfg.Enabled() {
		return Decision{Allowed: true}, nil
	}
	if cost <= 0 {
		cost = 1
	}
	nowSec := float64(l.now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.redis, []string{l.prefix + ":" + subject},
		l.cfg.Capacity, l.cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("quota limiter script error", slog.Any("error", err))
		return Decision{Allowed: true, Limit: l.cfg.Capacity}, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		slog.Error("quota limiter unexpected script result", slog.Any("result", res))
		return Decision{Allowed: true, Limit: l.cfg.Capacity}, nil
	}
	tokens := toFloat64(vals[1])
	if math.IsNaN(tokens) {
		tokens = 0
	}
	return Decision{
		Allowed:    toInt64(vals[0]) == 1,
		Remaining:  int64(math.Floor(tokens)),
		Limit:      l.cfg.Capacity,
		RetryAfter: time.Duration(toInt64(vals[2])) * time.Millisecond,
	}, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
