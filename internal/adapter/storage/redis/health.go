package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const healthKey = "tkl:health"

// HealthCheck implements ports.HealthChecker for Redis. It writes a short-lived key
// rather than just pinging: the replay guard and rate limiter both depend on
// SET NX / INCR, so a read-only replica counts as unhealthy.
type HealthCheck struct {
	client *goredis.Client
}

// NewHealthCheck creates a Redis health checker.
func NewHealthCheck(client *goredis.Client) *HealthCheck {
	return &HealthCheck{client: client}
}

// Ping writes and expires the health key.
func (h *HealthCheck) Ping(ctx context.Context) error {
	if err := h.client.Set(ctx, healthKey, time.Now().Unix(), 30*time.Second).Err(); err != nil {
		return fmt.Errorf("redis not writable: %w", err)
	}
	return nil
}

// Name returns the dependency name.
func (h *HealthCheck) Name() string {
	return "redis"
}
