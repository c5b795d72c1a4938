package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/piwi3910/webapp/internal/observability"
)

const (
	// DefaultStream is the Redis stream key events are appended to.
	DefaultStream = "events:users"

	// MetricEventsPublished counts publish attempts by type and outcome.
	MetricEventsPublished = "events_published_total"
)

// Publisher appends domain events to a stream.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// StreamConfig configures the Redis stream publisher.
type StreamConfig struct {
	// Stream is the stream key. Defaults to DefaultStream.
	Stream string

	// MaxLength caps the stream length approximately. Zero keeps all entries.
	MaxLength int64
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client   redis.UniversalClient
	logger   *zap.Logger
	registry *observability.Registry
	config   StreamConfig
}

// NewRedisPublisher creates a new RedisPublisher. When registry is non-nil
// the publisher registers its counter there.
func NewRedisPublisher(client redis.UniversalClient, cfg StreamConfig, registry *observability.Registry, logger *zap.Logger) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}

	if registry != nil {
		err := registry.Register(observability.MetricDefinition{
			Name:       MetricEventsPublished,
			Kind:       observability.KindCounter,
			Help:       "Domain events appended to the event stream",
			LabelNames: []string{"type", "status"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register publisher metrics: %w", err)
		}
	}

	return &RedisPublisher{
		client:   client,
		logger:   logger.Named("events"),
		registry: registry,
		config:   cfg,
	}, nil
}

// Publish adds an event to the Redis stream.
func (p *RedisPublisher) Publish(ctx context.Context, event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		return errors.New("event ID cannot be empty")
	}

	// Serialize event to JSON
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.config.Stream,
		Values: []any{
			"type", event.Type.String(),
			"event", string(eventJSON),
		},
	}
	if p.config.MaxLength > 0 {
		args.MaxLen = p.config.MaxLength
		args.Approx = true
	}

	streamID, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.record(event.Type, "error")
		return fmt.Errorf("failed to add event to stream: %w", err)
	}
	p.record(event.Type, "success")

	p.logger.Debug("event published to stream",
		zap.String("event_id", event.ID),
		zap.String("stream_id", streamID),
		zap.String("event_type", event.Type.String()),
	)
	return nil
}

// Ping checks if the stream backend is reachable.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close is a no-op; the Redis client may be shared with other components.
func (p *RedisPublisher) Close() error {
	return nil
}

func (p *RedisPublisher) record(eventType Type, status string) {
	if p.registry == nil {
		return
	}
	labels := observability.Labels{"type": eventType.String(), "status": status}
	if err := p.registry.Observe(MetricEventsPublished, labels, 1); err != nil {
		p.logger.Warn("failed to record publish metric", zap.Error(err))
	}
}
