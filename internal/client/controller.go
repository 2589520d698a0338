// Package client holds the per-user session logic a chat front end runs:
// one focused case at a time, debounced typing, ordered de-duplicated
// message lists and reconciliation after case switches and reconnects.
package client

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/protocol"
)

// Defaults for controller timing.
const (
	DefaultTypingDebounce = 500 * time.Millisecond
	DefaultTypingTTL      = 1500 * time.Millisecond
	DefaultMaxPending     = 32
)

var (
	// ErrNotFocused is returned by case-scoped actions while idle.
	ErrNotFocused = errors.New("no case focused")
	// ErrPendingFull is returned when too many sends are queued offline.
	ErrPendingFull = errors.New("pending send queue full")
	// ErrDisconnected is returned by a Conn that has no live connection.
	ErrDisconnected = errors.New("disconnected")
)

// Conn sends events to the gateway.
type Conn interface {
	Send(env protocol.Envelope) error
}

// HistoryFetcher loads messages after sinceID.
type HistoryFetcher interface {
	History(ctx context.Context, caseID, sinceID int64) ([]protocol.Message, error)
}

// Update describes a change the UI should render.
type Update struct {
	CaseID int64
	Type   string // protocol event type, or "reconciled"
	Err    *protocol.ErrorPayload
}

// UpdateReconciled is the Update type emitted after a history merge.
const UpdateReconciled = "reconciled"

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTiming overrides the typing debounce and local typing TTL.
func WithTiming(debounce, ttl time.Duration) Option {
	return func(c *Controller) {
		if debounce > 0 {
			c.debounce = debounce
		}
		if ttl > 0 {
			c.typingTTL = ttl
		}
	}
}

// WithMaxPending bounds the offline send queue.
func WithMaxPending(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxPending = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// OnUpdate registers a callback invoked after every state change. It runs
// without the controller lock held.
func OnUpdate(fn func(Update)) Option {
	return func(c *Controller) { c.onUpdate = fn }
}

type caseView struct {
	messages []protocol.Message // ordered by id, unique
	typers   map[string]time.Time
	unread   int
}

// Controller is the client-side state for one user.
type Controller struct {
	userID    string
	conn      Conn
	history   HistoryFetcher
	logger    *zap.Logger
	now       func() time.Time
	debounce  time.Duration
	typingTTL time.Duration
	onUpdate  func(Update)

	mu         sync.Mutex
	focused    int64 // 0 when idle
	connected  bool
	lastTyping time.Time
	maxPending int
	pending    []protocol.SendPayload
	cases      map[int64]*caseView
}

// New creates an idle, disconnected controller for userID.
func New(userID string, conn Conn, history HistoryFetcher, opts ...Option) *Controller {
	c := &Controller{
		userID:     userID,
		conn:       conn,
		history:    history,
		logger:     zap.NewNop(),
		now:        time.Now,
		debounce:   DefaultTypingDebounce,
		typingTTL:  DefaultTypingTTL,
		maxPending: DefaultMaxPending,
		cases:      make(map[int64]*caseView),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Focused returns the focused case, or 0 when idle.
func (c *Controller) Focused() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

// Connected reports whether the transport last reported a live connection.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Focus switches the controller to caseID: leave the old case, join the new
// one and fetch whatever arrived since the last known message.
func (c *Controller) Focus(ctx context.Context, caseID int64) error {
	if caseID <= 0 {
		return c.Blur()
	}
	c.mu.Lock()
	if c.focused == caseID {
		c.mu.Unlock()
		return nil
	}
	old := c.focused
	c.focused = caseID
	c.pending = nil
	c.lastTyping = time.Time{}
	c.view(caseID)
	connected := c.connected
	c.mu.Unlock()

	if old != 0 {
		c.send(protocol.TypeLeave, protocol.CasePayload{CaseID: old})
	}
	if connected {
		c.send(protocol.TypeJoin, protocol.CasePayload{CaseID: caseID})
	}
	return c.reconcile(ctx, caseID)
}

// Blur leaves the focused case and returns to idle.
func (c *Controller) Blur() error {
	c.mu.Lock()
	old := c.focused
	c.focused = 0
	c.pending = nil
	c.mu.Unlock()
	if old != 0 {
		c.send(protocol.TypeLeave, protocol.CasePayload{CaseID: old})
	}
	return nil
}

// Send posts a message to the focused case. While disconnected the send is
// queued and flushed by Reconnected.
func (c *Controller) Send(body, attachmentRef string) error {
	c.mu.Lock()
	if c.focused == 0 {
		c.mu.Unlock()
		return ErrNotFocused
	}
	p := protocol.SendPayload{CaseID: c.focused, Body: body, AttachmentRef: attachmentRef}
	if !c.connected {
		defer c.mu.Unlock()
		if len(c.pending) >= c.maxPending {
			return ErrPendingFull
		}
		c.pending = append(c.pending, p)
		return nil
	}
	c.lastTyping = time.Time{}
	c.mu.Unlock()

	if err := c.conn.Send(protocol.MustEnvelope(protocol.TypeSend, "", p)); err != nil {
		if errors.Is(err, ErrDisconnected) {
			return c.queue(p)
		}
		return err
	}
	return nil
}

func (c *Controller) queue(p protocol.SendPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if len(c.pending) >= c.maxPending {
		return ErrPendingFull
	}
	c.pending = append(c.pending, p)
	return nil
}

// Pending returns the number of queued offline sends.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Typing reports a keystroke. At most one typing event is sent per debounce
// window; it returns whether one was sent.
func (c *Controller) Typing() bool {
	c.mu.Lock()
	now := c.now()
	if c.focused == 0 || !c.connected || (!c.lastTyping.IsZero() && now.Sub(c.lastTyping) < c.debounce) {
		c.mu.Unlock()
		return false
	}
	c.lastTyping = now
	caseID := c.focused
	c.mu.Unlock()

	c.send(protocol.TypeTyping, protocol.CasePayload{CaseID: caseID})
	return true
}

// StopTyping tells the room the user stopped typing.
func (c *Controller) StopTyping() {
	c.mu.Lock()
	caseID := c.focused
	c.lastTyping = time.Time{}
	c.mu.Unlock()
	if caseID != 0 {
		c.send(protocol.TypeStopTyping, protocol.CasePayload{CaseID: caseID})
	}
}

// MarkRead marks everything up to the newest known message as read.
func (c *Controller) MarkRead() {
	c.mu.Lock()
	caseID := c.focused
	var upTo int64
	if v, ok := c.cases[caseID]; ok && len(v.messages) > 0 {
		upTo = v.messages[len(v.messages)-1].ID
		v.unread = 0
	}
	c.mu.Unlock()
	if caseID != 0 && upTo > 0 {
		c.send(protocol.TypeRead, protocol.ReadPayload{CaseID: caseID, UpToID: upTo})
	}
}

// Disconnected records that the transport lost its connection.
func (c *Controller) Disconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Reconnected rejoins the focused case, reconciles it and flushes queued
// sends.
func (c *Controller) Reconnected(ctx context.Context) error {
	c.mu.Lock()
	c.connected = true
	caseID := c.focused
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if caseID == 0 {
		return nil
	}
	c.send(protocol.TypeJoin, protocol.CasePayload{CaseID: caseID})
	err := c.reconcile(ctx, caseID)
	for _, p := range pending {
		c.send(protocol.TypeSend, p)
	}
	return err
}

// Messages returns a copy of the known messages of caseID in id order.
func (c *Controller) Messages(caseID int64) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cases[caseID]
	if !ok {
		return nil
	}
	out := append([]protocol.Message(nil), v.messages...)
	for i := range out {
		out[i].ReadBy = slices.Clone(out[i].ReadBy)
	}
	return out
}

// LastKnown returns the highest message id seen for caseID.
func (c *Controller) LastKnown(caseID int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastKnownLocked(caseID)
}

// Typers returns the other users currently typing in caseID.
func (c *Controller) Typers(caseID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cases[caseID]
	if !ok {
		return nil
	}
	now := c.now()
	var out []string
	for user, expires := range v.typers {
		if now.After(expires) {
			delete(v.typers, user)
			continue
		}
		out = append(out, user)
	}
	sort.Strings(out)
	return out
}

// Unread returns the locally tracked unread count of caseID.
func (c *Controller) Unread(caseID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cases[caseID]; ok {
		return v.unread
	}
	return 0
}

// HandleEvent applies an inbound gateway event.
func (c *Controller) HandleEvent(env protocol.Envelope) {
	var caseID int64
	var errPayload *protocol.ErrorPayload

	switch env.Type {
	case protocol.TypeMessage:
		var m protocol.Message
		if !c.decode(env, &m) {
			return
		}
		caseID = m.CaseID
		c.mu.Lock()
		v := c.view(caseID)
		if c.merge(v, m) && m.SenderID != c.userID && caseID != c.focused {
			v.unread++
		}
		delete(v.typers, m.SenderID)
		c.mu.Unlock()
	case protocol.TypeTyping, protocol.TypeStopTyping:
		var p protocol.TypingPayload
		if !c.decode(env, &p) || p.UserID == c.userID {
			return
		}
		caseID = p.CaseID
		c.mu.Lock()
		v := c.view(caseID)
		if env.Type == protocol.TypeTyping {
			v.typers[p.UserID] = c.now().Add(c.typingTTL)
		} else {
			delete(v.typers, p.UserID)
		}
		c.mu.Unlock()
	case protocol.TypeReadReceipt:
		var p protocol.ReadReceiptPayload
		if !c.decode(env, &p) {
			return
		}
		caseID = p.CaseID
		c.mu.Lock()
		applyReceipt(c.view(caseID), p)
		c.mu.Unlock()
	case protocol.TypeJoined:
		var p protocol.JoinedPayload
		if !c.decode(env, &p) {
			return
		}
		caseID = p.CaseID
		c.mu.Lock()
		v := c.view(caseID)
		expires := c.now().Add(c.typingTTL)
		for _, user := range p.Typers {
			v.typers[user] = expires
		}
		v.unread = p.Unread
		c.mu.Unlock()
	case protocol.TypeError:
		var p protocol.ErrorPayload
		if !c.decode(env, &p) {
			return
		}
		errPayload = &p
		c.logger.Warn("gateway error", zap.String("code", p.Code), zap.String("message", p.Message))
	case protocol.TypeLeft, protocol.TypePong:
	default:
		c.logger.Debug("ignoring event", zap.String("type", env.Type))
		return
	}
	c.notify(Update{CaseID: caseID, Type: env.Type, Err: errPayload})
}

func (c *Controller) reconcile(ctx context.Context, caseID int64) error {
	if c.history == nil {
		return nil
	}
	since := c.LastKnown(caseID)
	msgs, err := c.history.History(ctx, caseID, since)
	if err != nil {
		return err
	}
	c.mu.Lock()
	v := c.view(caseID)
	for _, m := range msgs {
		c.merge(v, m)
	}
	c.mu.Unlock()
	c.notify(Update{CaseID: caseID, Type: UpdateReconciled})
	return nil
}

// merge inserts m in id order and reports whether it was new. A duplicate
// replaces the stored copy, which may carry a newer read_by.
func (c *Controller) merge(v *caseView, m protocol.Message) bool {
	i := sort.Search(len(v.messages), func(i int) bool { return v.messages[i].ID >= m.ID })
	if i < len(v.messages) && v.messages[i].ID == m.ID {
		v.messages[i] = m
		return false
	}
	v.messages = append(v.messages, protocol.Message{})
	copy(v.messages[i+1:], v.messages[i:])
	v.messages[i] = m
	return true
}

// applyReceipt never edits a ReadBy slice in place; a new slice replaces it.
func applyReceipt(v *caseView, p protocol.ReadReceiptPayload) {
	for i := range v.messages {
		m := &v.messages[i]
		if m.ID > p.UpToID {
			break
		}
		if m.SenderID == p.UserID || slices.Contains(m.ReadBy, p.UserID) {
			continue
		}
		readBy := append(slices.Clone(m.ReadBy), p.UserID)
		slices.Sort(readBy)
		m.ReadBy = readBy
	}
}

func (c *Controller) view(caseID int64) *caseView {
	v, ok := c.cases[caseID]
	if !ok {
		v = &caseView{typers: make(map[string]time.Time)}
		c.cases[caseID] = v
	}
	return v
}

func (c *Controller) lastKnownLocked(caseID int64) int64 {
	v, ok := c.cases[caseID]
	if !ok || len(v.messages) == 0 {
		return 0
	}
	return v.messages[len(v.messages)-1].ID
}

func (c *Controller) send(typ string, payload any) {
	if err := c.conn.Send(protocol.MustEnvelope(typ, "", payload)); err != nil {
		c.logger.Debug("send failed", zap.String("type", typ), zap.Error(err))
	}
}

func (c *Controller) decode(env protocol.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		c.logger.Warn("malformed event", zap.String("type", env.Type), zap.Error(err))
		return false
	}
	return true
}

func (c *Controller) notify(u Update) {
	if c.onUpdate != nil {
		c.onUpdate(u)
	}
}
