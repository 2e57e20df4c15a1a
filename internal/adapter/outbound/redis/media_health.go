package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/module/media/provider"
)

const (
	mediaHealthKeyPrefix = "media:health:"
	mediaHealthTTL       = 5 * time.Minute
	mediaHealthTimeout   = 2 * time.Second
)

// HealthStore is the subset of redis commands the health cache uses.
type HealthStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// MediaHealthCache shares provider breaker states across instances.
type MediaHealthCache struct {
	client HealthStore
	logger *zap.Logger
}

// NewMediaHealthCache creates a new media health cache.
func NewMediaHealthCache(client HealthStore, logger *zap.Logger) *MediaHealthCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaHealthCache{client: client, logger: logger.Named("media-health-cache")}
}

// GetHealth returns the last published status. Unknown providers are healthy.
func (c *MediaHealthCache) GetHealth(ctx context.Context, id provider.ID) (provider.HealthStatus, error) {
	val, err := c.client.Get(ctx, mediaHealthKeyPrefix+string(id)).Result()
	if err == redis.Nil {
		return provider.HealthStatusHealthy, nil
	}
	if err != nil {
		return "", fmt.Errorf("get health: %w", err)
	}
	return provider.HealthStatus(val), nil
}

// SetHealth publishes a provider status.
func (c *MediaHealthCache) SetHealth(ctx context.Context, id provider.ID, status provider.HealthStatus) error {
	if err := c.client.Set(ctx, mediaHealthKeyPrefix+string(id), string(status), mediaHealthTTL).Err(); err != nil {
		return fmt.Errorf("set health: %w", err)
	}
	return nil
}

// OnStateChange matches provider.HealthMonitorConfig.OnStateChange.
// Failures are logged.
func (c *MediaHealthCache) OnStateChange(id provider.ID, status provider.HealthStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), mediaHealthTimeout)
	defer cancel()

	if err := c.SetHealth(ctx, id, status); err != nil {
		c.logger.Warn("failed to publish provider health",
			zap.String("provider", string(id)),
			zap.Error(err))
	}
}
