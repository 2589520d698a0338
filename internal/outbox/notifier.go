package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/store"
)

// LogNotifier records notifications in the log. It is the notifier used
// when no push channel is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n store.Notification) error {
	l.Logger.Info("notification",
		zap.String("user_id", n.RecipientID),
		zap.Int64("case_id", n.CaseID),
		zap.Int64("msg_id", n.MessageID),
		zap.String("kind", n.Kind),
		zap.String("title", n.Title))
	return nil
}

// Publisher is the subset of a redis client RedisNotifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes each notification as JSON on
// "<prefix>:<recipient_id>" so per-user push workers can subscribe.
type RedisNotifier struct {
	rdb    Publisher
	prefix string
}

// NewRedisNotifier creates a notifier publishing under prefix.
func NewRedisNotifier(rdb Publisher, prefix string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, prefix: prefix}
}

type pushPayload struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	CaseID    int64  `json:"case_id"`
	MessageID int64  `json:"message_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
}

// Channel returns the channel a recipient's notifications are published on.
func (r *RedisNotifier) Channel(recipientID string) string {
	return r.prefix + ":" + recipientID
}

// Notify implements Notifier.
func (r *RedisNotifier) Notify(ctx context.Context, n store.Notification) error {
	data, err := json.Marshal(pushPayload{
		ID:        n.ID,
		Kind:      n.Kind,
		CaseID:    n.CaseID,
		MessageID: n.MessageID,
		Title:     n.Title,
		Body:      n.Body,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.Channel(n.RecipientID), data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
