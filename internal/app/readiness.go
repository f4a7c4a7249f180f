package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/ai-gen-gateway/internal/adapter/httpserver"
)

// Pinger is the minimal interface for a database pool or Kafka client
// capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPinger is the part of a go-redis client readiness needs.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// BuildReadinessChecks returns one check per configured dependency. A nil
// dependency is optional and is left out.
func BuildReadinessChecks(pool Pinger, rdb RedisPinger, kafka Pinger) []httpserver.ReadinessCheck {
	var checks []httpserver.ReadinessCheck
	if pool != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "db", Check: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			return nil
		}})
	}
	if rdb != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			return nil
		}})
	}
	if kafka != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "kafka", Check: func(ctx context.Context) error {
			if err := kafka.Ping(ctx); err != nil {
				return fmt.Errorf("kafka ping: %w", err)
			}
			return nil
		}})
	}
	return checks
}
