package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/module/media/progress"
)

const (
	progressKeyPrefix = "media:progress:"
	publishTimeout    = 2 * time.Second
)

// ProgressStore is the subset of redis commands the progress publisher uses.
type ProgressStore interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// ProgressPublisher fans progress events out over pub/sub and keeps the
// latest event per job as a snapshot for polling clients.
type ProgressPublisher struct {
	client  ProgressStore
	channel string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewProgressPublisher creates a new progress publisher.
func NewProgressPublisher(client ProgressStore, channel string, ttl time.Duration, logger *zap.Logger) *ProgressPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "media:progress"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProgressPublisher{
		client:  client,
		channel: channel,
		ttl:     ttl,
		logger:  logger.Named("redis-progress"),
	}
}

// OnProgress implements progress.Sink. Publish failures never reach the
// pipeline that reported the event.
func (p *ProgressPublisher) OnProgress(e progress.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("failed to encode progress event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish progress",
			zap.String("job_id", e.JobID),
			zap.Error(err))
	}
	if e.JobID == "" {
		return
	}
	if err := p.client.Set(ctx, progressKeyPrefix+e.JobID, payload, p.ttl).Err(); err != nil {
		p.logger.Warn("failed to store progress snapshot",
			zap.String("job_id", e.JobID),
			zap.Error(err))
	}
}

// Snapshot returns the latest event for a job, or nil when none is stored.
func (p *ProgressPublisher) Snapshot(ctx context.Context, jobID string) (*progress.Event, error) {
	raw, err := p.client.Get(ctx, progressKeyPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress snapshot: %w", err)
	}

	var e progress.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode progress snapshot: %w", err)
	}
	return &e, nil
}

// Compile-time interface check
var _ progress.Sink = (*ProgressPublisher)(nil)
