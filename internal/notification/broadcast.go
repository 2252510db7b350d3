package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chatflow_backend/internal/notification/sse"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "agent-notifications:"

// Channel is the Redis pub/sub channel carrying a tenant's agent events.
func Channel(tenantID uuid.UUID) string {
	return channelPrefix + tenantID.String()
}

// Broadcaster fans agent events out across processes over Redis pub/sub.
// The worker publishes; the API process relays into its SSE hub.
type Broadcaster struct {
	rdb redis.UniversalClient
	log *logger.Logger
}

func NewBroadcaster(rdb redis.UniversalClient, log *logger.Logger) *Broadcaster {
	return &Broadcaster{rdb: rdb, log: log}
}

func (b *Broadcaster) Publish(ctx context.Context, event sse.Event) error {
	if b == nil || b.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal agent event: %w", err)
	}
	if err := b.rdb.Publish(ctx, Channel(event.TenantID), payload).Err(); err != nil {
		return fmt.Errorf("publish agent event: %w", err)
	}
	return nil
}

// Relay pushes every tenant channel message into the hub until ctx is done.
func (b *Broadcaster) Relay(ctx context.Context, hub *sse.Service) error {
	pubsub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer func() {
		_ = pubsub.Close()
	}()

	// Wait for the subscription confirmation so publishes after Relay starts are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe agent notifications: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relayOne(hub, msg)
		}
	}
}

func (b *Broadcaster) relayOne(hub *sse.Service, msg *redis.Message) {
	var event sse.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		b.log.Warn("notification: dropping malformed agent event", "channel", msg.Channel, "error", err)
		return
	}
	tenantID, err := uuid.Parse(strings.TrimPrefix(msg.Channel, channelPrefix))
	if err != nil || tenantID != event.TenantID {
		b.log.Warn("notification: agent event on foreign channel", "channel", msg.Channel)
		return
	}
	hub.PublishToTenant(tenantID, event)
}
