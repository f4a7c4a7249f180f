package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

// Redis stores web context entries as JSON strings under prefix.
type Redis struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedis builds a Redis-backed cache.
func NewRedis(rdb redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = "webctx"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// Get returns the cached entry for key. A miss is (zero, false, nil).
func (r *Redis) Get(ctx domain.Context, key string) (domain.WebContext, bool, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+":"+keyFor(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.WebContext{}, false, nil
	}
	if err != nil {
		return domain.WebContext{}, false, fmt.Errorf("op=cache.Redis.Get: %w", err)
	}
	var wc domain.WebContext
	if err := json.Unmarshal(raw, &wc); err != nil {
		return domain.WebContext{}, false, fmt.Errorf("op=cache.Redis.Get: decode: %w", err)
	}
	return wc, true, nil
}

// Set stores wc under key for ttl.
func (r *Redis) Set(ctx domain.Context, key string, wc domain.WebContext, ttl time.Duration) error {
	raw, err := json.Marshal(wc)
	if err != nil {
		return fmt.Errorf("op=cache.Redis.Set: encode: %w", err)
	}
	if err := r.rdb.Set(ctx, r.prefix+":"+keyFor(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.Redis.Set: %w", err)
	}
	return nil
}
