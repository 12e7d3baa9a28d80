// Package messaging forwards domain events to external consumers
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/garyjia/b2b-provisioning/internal/application/dispatcher"
	"github.com/garyjia/b2b-provisioning/internal/domain/event"
)

// StreamConfig holds the Redis stream settings
type StreamConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen caps the stream length approximately; 0 keeps everything
	MaxLen int64
}

// NewRedisClient creates the Redis client for cfg
func NewRedisClient(cfg StreamConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// StreamPublisher appends every dispatched event to a Redis stream
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamPublisher creates a publisher writing to cfg.Stream
func NewStreamPublisher(client *redis.Client, cfg StreamConfig, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: logger,
	}
}

// Register subscribes the publisher to every event type
func (p *StreamPublisher) Register(d dispatcher.Dispatcher) {
	d.SubscribeAll("redis_stream", p.Publish)
}

// Publish appends evt to the stream
func (p *StreamPublisher) Publish(ctx context.Context, evt *event.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload of event %s: %w", evt.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_id":       evt.ID,
			"type":           evt.Type.String(),
			"request_id":     strconv.FormatInt(evt.RequestID, 10),
			"case_id":        strconv.FormatInt(evt.CaseID, 10),
			"correlation_id": evt.CorrelationID,
			"timestamp":      evt.Timestamp.UTC().Format(time.RFC3339Nano),
			"payload":        string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.logger.Error("Failed to publish event to stream",
			zap.String("stream", p.stream),
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.Error(err))
		return fmt.Errorf("publish event %s: %w", evt.ID, err)
	}

	p.logger.Debug("Event published to stream",
		zap.String("stream", p.stream),
		zap.String("message_id", id),
		zap.String("event_type", evt.Type.String()))
	return nil
}

// Ping checks the Redis connection
func (p *StreamPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (p *StreamPublisher) Close() error {
	return p.client.Close()
}
