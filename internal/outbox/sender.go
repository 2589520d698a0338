package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/store"
)

// DefaultInterval is the drain period when none is configured.
const DefaultInterval = 500 * time.Millisecond

const batchSize = 100

// Notifier delivers one notification to its recipient.
type Notifier interface {
	Notify(ctx context.Context, n store.Notification) error
}

// Store is the notification queue.
type Store interface {
	PendingNotifications(ctx context.Context, limit int) ([]store.Notification, error)
	MarkNotificationSending(ctx context.Context, id int64) error
	MarkNotificationSent(ctx context.Context, id int64) error
	MarkNotificationFailed(ctx context.Context, id int64, errMsg string) error
}

// Sender drains queued notifications through a Notifier.
type Sender struct {
	db       Store
	notifier Notifier
	bus      *bus.Bus
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db Store, notifier Notifier, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Sender {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		notifier: notifier,
		bus:      b,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling the outbox for pending notifications.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for the current batch.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Drain delivers one batch of queued notifications and returns how many
// were sent.
func (s *Sender) Drain(ctx context.Context) int {
	pending, err := s.db.PendingNotifications(ctx, batchSize)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return 0
	}

	sent := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return sent
		}
		fields := []zap.Field{zap.Int64("notification_id", n.ID), zap.String("user_id", n.RecipientID), zap.Int64("case_id", n.CaseID)}
		if err := s.db.MarkNotificationSending(ctx, n.ID); err != nil {
			s.logger.Error("failed to mark sending", append(fields, zap.Error(err))...)
			continue
		}

		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("notification failed", append(fields, zap.Error(err))...)
			if err := s.db.MarkNotificationFailed(ctx, n.ID, err.Error()); err != nil {
				s.logger.Error("failed to mark failed", append(fields, zap.Error(err))...)
			}
			s.bus.Emit(bus.KindNotificationFailed, map[string]any{
				"notification_id": n.ID,
				"recipient_id":    n.RecipientID,
				"error":           err.Error(),
			})
			continue
		}

		if err := s.db.MarkNotificationSent(ctx, n.ID); err != nil {
			s.logger.Error("failed to mark sent", append(fields, zap.Error(err))...)
		}
		sent++
		s.logger.Debug("notification sent", fields...)
		s.bus.Emit(bus.KindNotificationSent, map[string]any{
			"notification_id": n.ID,
			"recipient_id":    n.RecipientID,
			"case_id":         n.CaseID,
		})
	}
	return sent
}
