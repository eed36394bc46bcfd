package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tOgg1/courier/internal/logging"
)

// RedisPublisher fans changes out across processes through a Redis pub/sub
// channel. Local subscribers are served by an embedded InMemoryPublisher;
// changes from other instances are replayed into it as they arrive.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	origin  string
	local   *InMemoryPublisher
	pubsub  *redis.PubSub
	logger  zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisPublisher subscribes to channel and starts relaying remote changes.
// The subscription is confirmed before returning.
func NewRedisPublisher(ctx context.Context, client *redis.Client, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("redis channel is required")
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	p := &RedisPublisher{
		client:  client,
		channel: channel,
		origin:  uuid.New().String(),
		local:   NewInMemoryPublisher(),
		pubsub:  pubsub,
		logger:  logging.Component("events.redis"),
		done:    make(chan struct{}),
	}
	go p.relay()
	return p, nil
}

// Origin identifies this process on the channel.
func (p *RedisPublisher) Origin() string {
	return p.origin
}

// Publish delivers the change to local subscribers, then broadcasts it.
// The local delivery happens even if the broadcast fails.
func (p *RedisPublisher) Publish(ctx context.Context, change *Change) error {
	if change == nil {
		return nil
	}
	if change.Origin == "" {
		change.Origin = p.origin
	}
	_ = p.local.Publish(ctx, change)

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

func (p *RedisPublisher) relay() {
	defer close(p.done)
	for msg := range p.pubsub.Channel() {
		change, err := decodeChange(msg.Payload)
		if err != nil {
			p.logger.Warn().Err(err).Msg("dropping malformed change")
			continue
		}
		if change.Origin == p.origin {
			continue
		}
		_ = p.local.Publish(context.Background(), change)
	}
}

func decodeChange(payload string) (*Change, error) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return nil, fmt.Errorf("failed to decode change: %w", err)
	}
	if change.Collection == "" {
		return nil, fmt.Errorf("change has no collection")
	}
	return &change, nil
}

// Subscribe registers a local handler.
func (p *RedisPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	return p.local.Subscribe(id, filter, handler)
}

// Unsubscribe removes a local handler.
func (p *RedisPublisher) Unsubscribe(id string) error {
	return p.local.Unsubscribe(id)
}

// SubscriberCount returns the number of local subscribers.
func (p *RedisPublisher) SubscriberCount() int {
	return p.local.SubscriberCount()
}

// Close stops relaying and drops local subscribers. The Redis client is
// owned by the caller.
func (p *RedisPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pubsub.Close()
		<-p.done
		_ = p.local.Close()
	})
	return err
}
