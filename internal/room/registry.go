// Package room maps case ids to the live sessions subscribed to them.
// Rooms exist only while they have members; nothing here is persisted.
package room

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/apperr"
	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/protocol"
)

// Member is a joined session as seen by the registry.
type Member interface {
	Handle() string
	UserID() string
	// Deliver hands an event to the session's transport. It must not block.
	Deliver(env protocol.Envelope) error
}

// MembershipChecker answers case membership questions for Join.
type MembershipChecker interface {
	CaseExists(ctx context.Context, caseID int64) (bool, error)
	IsParticipant(ctx context.Context, caseID int64, userID string) (bool, error)
}

// Relay forwards broadcasts to other processes serving the same cases.
type Relay interface {
	Publish(ctx context.Context, caseID int64, env protocol.Envelope) error
}

// Change is the bus payload for join and leave events.
type Change struct {
	CaseID  int64
	Handle  string
	UserID  string
	Members int
}

type room struct {
	mu      sync.Mutex
	members map[string]Member
}

func (r *room) snapshot() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

// Registry holds every live room of this process.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int64]*room

	membership MembershipChecker
	relay      Relay
	logger     *zap.Logger
	bus        *bus.Bus
}

// New creates an empty registry. logger and b may be nil.
func New(membership MembershipChecker, logger *zap.Logger, b *bus.Bus) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:      make(map[int64]*room),
		membership: membership,
		logger:     logger,
		bus:        b,
	}
}

// SetRelay installs the cross-process relay used by Broadcast.
func (r *Registry) SetRelay(relay Relay) {
	r.mu.Lock()
	r.relay = relay
	r.mu.Unlock()
}

// Join adds m to the case's room after checking that its user participates
// in the case. Joining twice with the same handle is a no-op.
func (r *Registry) Join(ctx context.Context, caseID int64, m Member) error {
	exists, err := r.membership.CaseExists(ctx, caseID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("case %d not found", caseID)
	}
	ok, err := r.membership.IsParticipant(ctx, caseID, m.UserID())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("user %s is not a participant of case %d", m.UserID(), caseID)
	}

	r.mu.Lock()
	rm, found := r.rooms[caseID]
	if !found {
		rm = &room{members: make(map[string]Member)}
		r.rooms[caseID] = rm
	}
	rm.mu.Lock()
	_, already := rm.members[m.Handle()]
	rm.members[m.Handle()] = m
	size := len(rm.members)
	rm.mu.Unlock()
	r.mu.Unlock()

	if !already {
		r.logger.Debug("room joined",
			zap.Int64("case_id", caseID),
			zap.String("handle", m.Handle()),
			zap.String("user_id", m.UserID()),
			zap.Int("members", size))
		r.emit(bus.KindRoomJoined, Change{CaseID: caseID, Handle: m.Handle(), UserID: m.UserID(), Members: size})
	}
	return nil
}

// Leave removes a handle from the room and drops the room when it empties.
// It reports whether the handle was a member.
func (r *Registry) Leave(caseID int64, handle string) bool {
	r.mu.Lock()
	rm, ok := r.rooms[caseID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	rm.mu.Lock()
	m, member := rm.members[handle]
	delete(rm.members, handle)
	size := len(rm.members)
	rm.mu.Unlock()
	if size == 0 {
		delete(r.rooms, caseID)
	}
	r.mu.Unlock()

	if member {
		r.logger.Debug("room left",
			zap.Int64("case_id", caseID),
			zap.String("handle", handle),
			zap.Int("members", size))
		r.emit(bus.KindRoomLeft, Change{CaseID: caseID, Handle: handle, UserID: m.UserID(), Members: size})
	}
	return member
}

// Broadcast delivers env to every local member of the room, then forwards it
// through the relay when one is installed. Delivery failures are logged and
// never stop the fan-out. Returns the number of local deliveries.
func (r *Registry) Broadcast(ctx context.Context, caseID int64, env protocol.Envelope) int {
	delivered := r.DeliverLocal(caseID, env)

	r.mu.RLock()
	relay := r.relay
	r.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(ctx, caseID, env); err != nil {
			r.logger.Warn("relay publish failed",
				zap.Int64("case_id", caseID),
				zap.String("type", env.Type),
				zap.Error(err))
		}
	}
	return delivered
}

// DeliverLocal delivers env to this process's members of the room only.
func (r *Registry) DeliverLocal(caseID int64, env protocol.Envelope) int {
	members := r.Members(caseID)
	delivered := 0
	for _, m := range members {
		if err := m.Deliver(env); err != nil {
			r.logger.Warn("deliver failed",
				zap.Int64("case_id", caseID),
				zap.String("handle", m.Handle()),
				zap.String("type", env.Type),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Members returns a snapshot of the room's members.
func (r *Registry) Members(caseID int64) []Member {
	r.mu.RLock()
	rm, ok := r.rooms[caseID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return rm.snapshot()
}

// JoinedUsers returns the distinct user ids present in the room, sorted.
func (r *Registry) JoinedUsers(caseID int64) []string {
	seen := make(map[string]struct{})
	for _, m := range r.Members(caseID) {
		seen[m.UserID()] = struct{}{}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Rooms returns the member count of every live room.
func (r *Registry) Rooms() map[int64]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]int, len(r.rooms))
	for id, rm := range r.rooms {
		rm.mu.Lock()
		out[id] = len(rm.members)
		rm.mu.Unlock()
	}
	return out
}

func (r *Registry) emit(kind string, c Change) {
	if r.bus != nil {
		r.bus.Emit(kind, c)
	}
}
