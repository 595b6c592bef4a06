package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/veridianhq/veridian/pkg/events"
)

// redisEnvelope wraps a payload with the metadata a subscriber needs to
// decode it, since Redis pub/sub carries no message headers.
type redisEnvelope struct {
	Key       string          `json:"key"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// RedisEventBus publishes lifecycle events over Redis pub/sub. It is a
// lightweight alternative to Kafka for deployments that already run Redis
// and only need fan-out notifications, not a durable log.
type RedisEventBus struct {
	client        *redis.Client
	subscriptions map[events.EventType]EventHandler
}

func NewRedisEventBus(redisURL string) (*RedisEventBus, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisEventBus{
		client:        redis.NewClient(options),
		subscriptions: make(map[events.EventType]EventHandler),
	}, nil
}

func (eb *RedisEventBus) GenerateID() string {
	return eb.client.Options().Addr
}

func (eb *RedisEventBus) Publish(ctx context.Context, key string, eventType events.EventType, payload []byte) error {
	envelope, err := json.Marshal(redisEnvelope{
		Key:       key,
		EventType: string(eventType),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	err = eb.client.Publish(ctx, events.Topic, envelope).Err()
	if err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}

	return nil
}

func (eb *RedisEventBus) Subscribe(ctx context.Context) error {
	pubsub := eb.client.Subscribe(ctx, events.Topic)

	go func() {
		defer func() { _ = pubsub.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}

				var envelope redisEnvelope

				err := json.Unmarshal([]byte(msg.Payload), &envelope)
				if err != nil {
					continue
				}

				handler, exists := eb.subscriptions[events.EventType(envelope.EventType)]
				if !exists {
					continue
				}

				var event map[string]any

				err = json.Unmarshal(envelope.Payload, &event)
				if err != nil {
					continue
				}

				_ = handler(ctx, event)
			}
		}
	}()

	return nil
}

func (eb *RedisEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *RedisEventBus) Close() error {
	return eb.client.Close()
}
