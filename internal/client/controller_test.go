package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/casechat/internal/protocol"
)

type fakeConn struct {
	mu      sync.Mutex
	offline bool
	sent    []protocol.Envelope
}

func (f *fakeConn) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return ErrDisconnected
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeConn) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, e := range f.sent {
		out = append(out, e.Type)
	}
	return out
}

func (f *fakeConn) last(t *testing.T, typ string, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == typ {
			require.NoError(t, f.sent[i].Decode(v))
			return
		}
	}
	t.Fatalf("no %s event sent", typ)
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

type fakeHistory struct {
	mu    sync.Mutex
	byID  map[int64][]protocol.Message
	calls []int64 // since ids
	err   error
}

func (f *fakeHistory) History(_ context.Context, caseID, sinceID int64) ([]protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinceID)
	if f.err != nil {
		return nil, f.err
	}
	var out []protocol.Message
	for _, m := range f.byID[caseID] {
		if m.ID > sinceID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func msg(caseID, id int64, sender string) protocol.Message {
	return protocol.Message{ID: id, CaseID: caseID, SenderID: sender, Body: "m", ReadBy: []string{}}
}

func event(t *testing.T, typ string, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, "", payload)
	require.NoError(t, err)
	return env
}

func ids(msgs []protocol.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func newController(t *testing.T) (*Controller, *fakeConn, *fakeHistory, *fakeClock) {
	t.Helper()
	conn := &fakeConn{}
	hist := &fakeHistory{byID: map[int64][]protocol.Message{}}
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := New("a", conn, hist, WithClock(clock.Now))
	require.NoError(t, c.Reconnected(context.Background()))
	return c, conn, hist, clock
}

func TestFocusJoinsAndReconciles(t *testing.T) {
	c, conn, hist, _ := newController(t)
	hist.byID[42] = []protocol.Message{msg(42, 1, "b"), msg(42, 2, "b")}

	require.NoError(t, c.Focus(context.Background(), 42))
	assert.Equal(t, int64(42), c.Focused())
	assert.Equal(t, []string{protocol.TypeJoin}, conn.types())
	assert.Equal(t, []int64{1, 2}, ids(c.Messages(42)))
	assert.Equal(t, int64(2), c.LastKnown(42))
}

func TestFocusSwitchLeavesOldCase(t *testing.T) {
	c, conn, hist, _ := newController(t)
	ctx := context.Background()
	hist.byID[1] = []protocol.Message{msg(1, 1, "b"), msg(1, 2, "b")}

	require.NoError(t, c.Focus(ctx, 1))
	require.NoError(t, c.Focus(ctx, 2))
	assert.Equal(t, []string{protocol.TypeJoin, protocol.TypeLeave, protocol.TypeJoin}, conn.types())

	var left protocol.CasePayload
	conn.last(t, protocol.TypeLeave, &left)
	assert.Equal(t, int64(1), left.CaseID)

	// Returning fetches only what came after the last known id.
	hist.byID[1] = append(hist.byID[1], msg(1, 3, "b"))
	require.NoError(t, c.Focus(ctx, 1))
	assert.Equal(t, int64(2), hist.calls[len(hist.calls)-1])
	assert.Equal(t, []int64{1, 2, 3}, ids(c.Messages(1)))
}

func TestFocusSameCaseIsNoop(t *testing.T) {
	c, conn, _, _ := newController(t)
	require.NoError(t, c.Focus(context.Background(), 5))
	require.NoError(t, c.Focus(context.Background(), 5))
	assert.Equal(t, []string{protocol.TypeJoin}, conn.types())
}

func TestMessagesDedupedAndOrdered(t *testing.T) {
	c, _, _, _ := newController(t)
	for _, id := range []int64{3, 1, 2, 3, 1} {
		c.HandleEvent(event(t, protocol.TypeMessage, msg(7, id, "b")))
	}
	assert.Equal(t, []int64{1, 2, 3}, ids(c.Messages(7)))
}

func TestUnreadCountsUnfocusedOnly(t *testing.T) {
	c, _, _, _ := newController(t)
	require.NoError(t, c.Focus(context.Background(), 1))

	c.HandleEvent(event(t, protocol.TypeMessage, msg(1, 1, "b")))
	c.HandleEvent(event(t, protocol.TypeMessage, msg(2, 1, "b")))
	c.HandleEvent(event(t, protocol.TypeMessage, msg(2, 1, "b")))
	c.HandleEvent(event(t, protocol.TypeMessage, msg(2, 2, "a")))

	assert.Equal(t, 0, c.Unread(1))
	assert.Equal(t, 1, c.Unread(2))
}

func TestTypingDebounced(t *testing.T) {
	c, conn, _, clock := newController(t)
	require.NoError(t, c.Focus(context.Background(), 1))
	conn.reset()

	assert.True(t, c.Typing())
	clock.Advance(200 * time.Millisecond)
	assert.False(t, c.Typing())
	clock.Advance(299 * time.Millisecond)
	assert.False(t, c.Typing())
	clock.Advance(time.Millisecond)
	assert.True(t, c.Typing())

	assert.Equal(t, []string{protocol.TypeTyping, protocol.TypeTyping}, conn.types())
}

func TestTypingIdleIsNoop(t *testing.T) {
	c, conn, _, _ := newController(t)
	assert.False(t, c.Typing())
	assert.Empty(t, conn.types())
}

func TestRemoteTypingExpires(t *testing.T) {
	c, _, _, clock := newController(t)
	c.HandleEvent(event(t, protocol.TypeTyping, protocol.TypingPayload{CaseID: 1, UserID: "b"}))
	c.HandleEvent(event(t, protocol.TypeTyping, protocol.TypingPayload{CaseID: 1, UserID: "a"}))
	assert.Equal(t, []string{"b"}, c.Typers(1))

	clock.Advance(DefaultTypingTTL)
	assert.Equal(t, []string{"b"}, c.Typers(1))
	clock.Advance(time.Millisecond)
	assert.Empty(t, c.Typers(1))
}

func TestStopTypingAndMessageClearTyper(t *testing.T) {
	c, _, _, _ := newController(t)
	c.HandleEvent(event(t, protocol.TypeTyping, protocol.TypingPayload{CaseID: 1, UserID: "b"}))
	c.HandleEvent(event(t, protocol.TypeStopTyping, protocol.TypingPayload{CaseID: 1, UserID: "b"}))
	assert.Empty(t, c.Typers(1))

	c.HandleEvent(event(t, protocol.TypeTyping, protocol.TypingPayload{CaseID: 1, UserID: "b"}))
	c.HandleEvent(event(t, protocol.TypeMessage, msg(1, 1, "b")))
	assert.Empty(t, c.Typers(1))
}

func TestReadReceiptUpdatesReadBy(t *testing.T) {
	c, _, _, _ := newController(t)
	for id := int64(1); id <= 3; id++ {
		c.HandleEvent(event(t, protocol.TypeMessage, msg(1, id, "a")))
	}
	c.HandleEvent(event(t, protocol.TypeReadReceipt, protocol.ReadReceiptPayload{CaseID: 1, UserID: "b", UpToID: 2}))
	c.HandleEvent(event(t, protocol.TypeReadReceipt, protocol.ReadReceiptPayload{CaseID: 1, UserID: "b", UpToID: 2}))

	got := c.Messages(1)
	assert.Equal(t, []string{"b"}, got[0].ReadBy)
	assert.Equal(t, []string{"b"}, got[1].ReadBy)
	assert.Empty(t, got[2].ReadBy)
}

func TestMessagesSnapshotUnaffectedByReceipts(t *testing.T) {
	c, _, _, _ := newController(t)
	m := msg(1, 1, "a")
	m.ReadBy = []string{"z"}
	c.HandleEvent(event(t, protocol.TypeMessage, m))
	c.HandleEvent(event(t, protocol.TypeReadReceipt, protocol.ReadReceiptPayload{CaseID: 1, UserID: "y", UpToID: 1}))

	snap := c.Messages(1)
	require.Equal(t, []string{"y", "z"}, snap[0].ReadBy)

	for _, user := range []string{"x", "b"} {
		c.HandleEvent(event(t, protocol.TypeReadReceipt, protocol.ReadReceiptPayload{CaseID: 1, UserID: user, UpToID: 1}))
	}
	assert.Equal(t, []string{"y", "z"}, snap[0].ReadBy)
	assert.Equal(t, []string{"b", "x", "y", "z"}, c.Messages(1)[0].ReadBy)

	snap[0].ReadBy[0] = "changed"
	assert.Equal(t, "b", c.Messages(1)[0].ReadBy[0])
}

func TestMarkReadSendsNewestID(t *testing.T) {
	c, conn, hist, _ := newController(t)
	hist.byID[1] = []protocol.Message{msg(1, 1, "b"), msg(1, 4, "b")}
	require.NoError(t, c.Focus(context.Background(), 1))

	c.MarkRead()
	var p protocol.ReadPayload
	conn.last(t, protocol.TypeRead, &p)
	assert.Equal(t, protocol.ReadPayload{CaseID: 1, UpToID: 4}, p)
}

func TestSendRequiresFocus(t *testing.T) {
	c, _, _, _ := newController(t)
	assert.ErrorIs(t, c.Send("hi", ""), ErrNotFocused)
}

func TestOfflineSendsQueuedAndFlushed(t *testing.T) {
	c, conn, hist, _ := newController(t)
	ctx := context.Background()
	require.NoError(t, c.Focus(ctx, 1))

	c.Disconnected()
	conn.offline = true
	require.NoError(t, c.Send("one", ""))
	require.NoError(t, c.Send("two", ""))
	assert.Equal(t, 2, c.Pending())

	hist.byID[1] = []protocol.Message{msg(1, 1, "b")}
	conn.offline = false
	conn.reset()
	require.NoError(t, c.Reconnected(ctx))

	assert.Equal(t, []string{protocol.TypeJoin, protocol.TypeSend, protocol.TypeSend}, conn.types())
	var last protocol.SendPayload
	conn.last(t, protocol.TypeSend, &last)
	assert.Equal(t, "two", last.Body)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, []int64{1}, ids(c.Messages(1)))
}

func TestSendFailureFallsBackToQueue(t *testing.T) {
	c, conn, _, _ := newController(t)
	require.NoError(t, c.Focus(context.Background(), 1))
	conn.offline = true

	require.NoError(t, c.Send("late", ""))
	assert.Equal(t, 1, c.Pending())
}

func TestPendingBoundedAndClearedOnFocus(t *testing.T) {
	conn := &fakeConn{}
	c := New("a", conn, nil, WithMaxPending(2))
	ctx := context.Background()
	require.NoError(t, c.Focus(ctx, 1))

	require.NoError(t, c.Send("1", ""))
	require.NoError(t, c.Send("2", ""))
	assert.ErrorIs(t, c.Send("3", ""), ErrPendingFull)

	require.NoError(t, c.Focus(ctx, 2))
	assert.Equal(t, 0, c.Pending())
}

func TestReconcileErrorReturned(t *testing.T) {
	c, _, hist, _ := newController(t)
	hist.err = errors.New("boom")
	assert.Error(t, c.Focus(context.Background(), 1))
}

func TestJoinedSeedsTypersAndUnread(t *testing.T) {
	var updates []Update
	conn := &fakeConn{}
	c := New("a", conn, nil, OnUpdate(func(u Update) { updates = append(updates, u) }))

	c.HandleEvent(event(t, protocol.TypeJoined, protocol.JoinedPayload{CaseID: 9, Typers: []string{"b"}, Unread: 4, LatestID: 10}))
	assert.Equal(t, []string{"b"}, c.Typers(9))
	assert.Equal(t, 4, c.Unread(9))
	require.Len(t, updates, 1)
	assert.Equal(t, protocol.TypeJoined, updates[0].Type)
}

func TestErrorEventSurfaced(t *testing.T) {
	var got *protocol.ErrorPayload
	c := New("a", &fakeConn{}, nil, OnUpdate(func(u Update) { got = u.Err }))
	c.HandleEvent(event(t, protocol.TypeError, protocol.ErrorPayload{Code: "forbidden", Message: "no"}))
	require.NotNil(t, got)
	assert.Equal(t, "forbidden", got.Code)
}
