package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NotificationChannel is the Redis channel the delivery service listens on.
const NotificationChannel = "EVENT_NOTIFICATION_REQUESTED"

// RedisPublisher hands notifications to the out-of-process delivery service
// over Redis pub/sub. Email and SMS are routed here.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: NotificationChannel}
}

type notificationEvent struct {
	Type    string  `json:"type"`
	Channel Channel `json:"channel"`
	Content any     `json:"content"`
}

func (p *RedisPublisher) Dispatch(ctx context.Context, channels []Channel, payload Payload) error {
	for _, ch := range channels {
		content, err := section(ch, payload)
		if err != nil {
			return err
		}
		msg, err := json.Marshal(notificationEvent{Type: NotificationChannel, Channel: ch, Content: content})
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		if err := p.rdb.Publish(ctx, p.channel, msg).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", p.channel, err)
		}
	}
	return nil
}
