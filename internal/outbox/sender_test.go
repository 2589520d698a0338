package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/store"
)

// mockNotifier records calls and returns a configurable error.
type mockNotifier struct {
	mu    sync.Mutex
	calls []store.Notification
	err   error
}

func (m *mockNotifier) Notify(_ context.Context, n store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, n)
	return m.err
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, u := range []store.User{{ID: "a", Role: "client"}, {ID: "b", Role: "lawyer"}} {
		if err := db.UpsertUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.CreateCase(ctx, store.NewCase{Title: "Estate", ClientID: "a", LawyerID: "b"}); err != nil {
		t.Fatal(err)
	}
	return db
}

func queue(t *testing.T, db *store.DB, recipient string) int64 {
	t.Helper()
	id, err := db.QueueNotification(context.Background(), store.Notification{
		RecipientID: recipient, CaseID: 1, MessageID: 1, Title: "New message", Body: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestDrainDeliversQueued(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindNotificationSent, 10)
	defer unsub()

	mock := &mockNotifier{}
	s := NewSender(db, mock, b, 0, zap.NewNop())
	queue(t, db, "b")
	queue(t, db, "a")

	if n := s.Drain(context.Background()); n != 2 {
		t.Fatalf("Drain() = %d, want 2", n)
	}
	if mock.calls[0].RecipientID != "b" || mock.calls[1].RecipientID != "a" {
		t.Errorf("calls out of order: %+v", mock.calls)
	}

	pending, err := db.PendingNotifications(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after drain", len(pending))
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindNotificationSent {
			t.Errorf("event kind = %q", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification.sent")
	}

	// A second drain finds nothing.
	if n := s.Drain(context.Background()); n != 0 {
		t.Errorf("second Drain() = %d, want 0", n)
	}
}

func TestDrainMarksFailures(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindNotificationFailed, 10)
	defer unsub()

	s := NewSender(db, &mockNotifier{err: fmt.Errorf("push gateway down")}, b, 0, nil)
	queue(t, db, "b")

	if n := s.Drain(context.Background()); n != 0 {
		t.Fatalf("Drain() = %d, want 0", n)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification.failed")
	}

	list, err := db.NotificationsFor(context.Background(), "b", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Status != "failed" || list[0].ErrorMessage != "push gateway down" {
		t.Errorf("notification = %+v, want failed with message", list)
	}
}

func TestSenderLoopDrainsInBackground(t *testing.T) {
	db := testDB(t)
	mock := &mockNotifier{}
	s := NewSender(db, mock, nil, 20*time.Millisecond, nil)
	queue(t, db, "b")

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for mock.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sender never delivered the notification")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type capturePublisher struct {
	channel string
	message []byte
}

func (c *capturePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	c.channel = channel
	c.message = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func TestRedisNotifierPublishesPerRecipient(t *testing.T) {
	pub := &capturePublisher{}
	n := NewRedisNotifier(pub, "casechat:notify")
	err := n.Notify(context.Background(), store.Notification{ID: 7, RecipientID: "b", CaseID: 42, Kind: store.NotificationNewMessage, Body: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if pub.channel != "casechat:notify:b" {
		t.Errorf("channel = %q", pub.channel)
	}
	var got pushPayload
	if err := json.Unmarshal(pub.message, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 || got.CaseID != 42 || got.Body != "hi" {
		t.Errorf("payload = %+v", got)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{Logger: zap.NewNop()}).Notify(context.Background(), store.Notification{}); err != nil {
		t.Fatal(err)
	}
}
