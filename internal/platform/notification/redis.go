package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher is the part of a redis client the pub/sub sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes each message on notifications:<userID> so connected
// clients subscribed to their own channel receive it in real time.
type RedisSink struct {
	client Publisher
	now    func() time.Time
}

func NewRedisSink(client Publisher) *RedisSink {
	return &RedisSink{client: client, now: time.Now}
}

func Channel(userID string) string {
	return "notifications:" + userID
}

// Push is the JSON body published for each message.
type Push struct {
	UserID  string    `json:"user_id"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

func (s *RedisSink) Notify(ctx context.Context, userID, message string) error {
	body, err := json.Marshal(Push{UserID: userID, Message: message, SentAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("%w: encode push: %w", ErrNotificationFailed, err)
	}
	if err := s.client.Publish(ctx, Channel(userID), body).Err(); err != nil {
		return fmt.Errorf("%w: redis publish: %w", ErrNotificationFailed, err)
	}
	return nil
}
