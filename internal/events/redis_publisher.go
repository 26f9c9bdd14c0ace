package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher publishes lifecycle events to a redis Pub/Sub channel.
// Publishing is bounded by a timeout so a slow broker cannot stall the
// pipeline; delivery remains best-effort.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRedisPublisher creates a publisher for the given channel. A zero
// timeout defaults to two seconds.
func NewRedisPublisher(client *redis.Client, channel string, timeout time.Duration, logger *zap.Logger) *RedisPublisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish serializes the event to JSON and publishes it. Failures are
// logged and returned, but callers treat them as non-fatal.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to serialize event", zap.Error(err),
			zap.String("event_type", string(event.Type)))
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Publish(publishCtx, p.channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("event_type", string(event.Type)),
			zap.String("execution_id", event.ExecutionID),
			zap.Error(err))
		return err
	}
	return nil
}
