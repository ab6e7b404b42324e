package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventChannelPrefix = "stores:events:"
	dedupeKeyPrefix    = "stores:delivered:"
	dedupeTTL          = 24 * time.Hour
)

// RedisPublisher pushes events onto per-type Redis channels for dashboards
// and notification consumers. A SETNX dedupe key absorbs redeliveries from
// the at-least-once outbox.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	fresh, err := p.client.SetNX(ctx, dedupeKeyPrefix+event.ID.String(), 1, dedupeTTL).Result()
	if err != nil {
		return fmt.Errorf("dedupe check: %w", err)
	}
	if !fresh {
		return nil
	}

	envelope, err := json.Marshal(map[string]any{
		"id":         event.ID.String(),
		"type":       event.Type,
		"payload":    json.RawMessage(event.Payload),
		"created_at": event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	if err := p.client.Publish(ctx, eventChannelPrefix+event.Type, envelope).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// LogPublisher writes events to the process log. It is the fallback when no
// Redis address is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event Event) error {
	log.Printf("event %s %s %s", event.Type, event.ID, event.Payload)
	return nil
}
