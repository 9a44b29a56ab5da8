package events

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskhub/domain"
)

// Publisher delivers committed task changes toward the owner's live sessions.
// Delivery is best-effort; a failed publish never rolls back the mutation it
// describes.
type Publisher interface {
	TaskChanged(ctx context.Context, ev domain.TaskEvent) error
}

// RedisPublisher publishes task events to a single Redis channel. The payload
// carries the owning user id; the subscriber side routes it to that user's
// sessions only.
type RedisPublisher struct {
	rc      *redis.Client
	channel string
}

func NewRedisPublisher(rc *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rc: rc, channel: channel}
}

func (p *RedisPublisher) TaskChanged(ctx context.Context, ev domain.TaskEvent) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rc.Publish(ctx, p.channel, payload).Err(); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"channel": p.channel,
			"kind":    ev.Kind,
		}).Error("publish task event failed")
		return err
	}
	return nil
}

// HubPublisher skips the broker and feeds the local hub directly. Used when
// a single process serves both the API and the stream.
type HubPublisher struct {
	hub *Hub
}

func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) TaskChanged(_ context.Context, ev domain.TaskEvent) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	p.hub.Broadcast(ev.UserID, payload)
	return nil
}
