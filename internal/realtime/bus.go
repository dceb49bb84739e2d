package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/domain"
	"github.com/civicworks/civic-issues/internal/notification"
)

// Bus carries routed deliveries to the channels that should receive them.
type Bus interface {
	Publish(ctx context.Context, deliveries []notification.Delivery) error
}

// LocalBus delivers straight into this instance's registry.
type LocalBus struct {
	registry *Registry
}

// NewLocalBus wraps registry.
func NewLocalBus(registry *Registry) *LocalBus {
	return &LocalBus{registry: registry}
}

// Publish delivers synchronously. It never fails.
func (b *LocalBus) Publish(_ context.Context, deliveries []notification.Delivery) error {
	b.registry.Deliver(deliveries)
	return nil
}

type envelope struct {
	Deliveries []wireDelivery `json:"deliveries"`
}

type wireDelivery struct {
	UserID  string               `json:"userId,omitempty"`
	Role    domain.Role          `json:"role,omitempty"`
	Exclude []string             `json:"exclude,omitempty"`
	Payload notification.Payload `json:"payload"`
}

func encodeEnvelope(deliveries []notification.Delivery) ([]byte, error) {
	env := envelope{Deliveries: make([]wireDelivery, 0, len(deliveries))}
	for _, d := range deliveries {
		env.Deliveries = append(env.Deliveries, wireDelivery{
			UserID:  d.Target.UserID,
			Role:    d.Target.Role,
			Exclude: d.Exclude,
			Payload: d.Payload,
		})
	}
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) ([]notification.Delivery, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	out := make([]notification.Delivery, 0, len(env.Deliveries))
	for _, w := range env.Deliveries {
		out = append(out, notification.Delivery{
			Target:  notification.Target{UserID: w.UserID, Role: w.Role},
			Payload: w.Payload,
			Exclude: w.Exclude,
		})
	}
	return out, nil
}

// RedisBus fans deliveries out to every instance through Redis pub/sub. Each
// instance runs Run to feed its own registry.
type RedisBus struct {
	client   *redis.Client
	channel  string
	registry *Registry
	logger   *zap.Logger
}

// NewRedisBus creates a bus publishing on channel.
func NewRedisBus(client *redis.Client, channel string, registry *Registry, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, channel: channel, registry: registry, logger: logger}
}

// Publish sends one envelope for the batch.
func (b *RedisBus) Publish(ctx context.Context, deliveries []notification.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	data, err := encodeEnvelope(deliveries)
	if err != nil {
		return fmt.Errorf("encode deliveries: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish deliveries: %w", err)
	}
	return nil
}

// Run subscribes and delivers incoming envelopes locally until ctx ends.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("notification bus subscribed", zap.String("channel", b.channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			deliveries, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("discarding malformed envelope", zap.Error(err))
				continue
			}
			b.registry.Deliver(deliveries)
		}
	}
}
