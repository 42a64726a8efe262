package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisTracker shares view throttling state between replicas. A view counts
// when SET NX succeeds; the key expires after the cooldown.
type RedisTracker struct {
	client    *redis.Client
	cooldown  time.Duration
	keyPrefix string
}

func NewRedisTracker(client *redis.Client, cooldown time.Duration, keyPrefix string) *RedisTracker {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if keyPrefix == "" {
		keyPrefix = "view_throttle"
	}
	return &RedisTracker{
		client:    client,
		cooldown:  cooldown,
		keyPrefix: keyPrefix,
	}
}

func (t *RedisTracker) ShouldCount(ctx context.Context, clientID string, productID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("%s:%s", t.keyPrefix, viewKey(clientID, productID))

	ok, err := t.client.SetNX(ctx, key, 1, t.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record view: %w", err)
	}
	return ok, nil
}
