package events

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// SubscribeUpdates consumes the task event channel and routes each payload to
// the owning user's sessions through the hub. It reconnects on a dropped
// subscription and returns only when ctx is cancelled.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, hub *Hub) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev struct {
					UserID string `json:"userId"`
				}
				if err := sonic.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.WithError(err).Error("unable to parse task event")
					continue
				}
				if ev.UserID == "" {
					continue
				}
				hub.Broadcast(ev.UserID, []byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("task event subscription closed, reconnecting")
		time.Sleep(time.Second)
	}
}
