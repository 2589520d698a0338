// Package chat orchestrates message persistence, room fan-out, typing
// presence and the direct chat bootstrap on behalf of authenticated sessions.
package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/lock"
	"github.com/matheus3301/casechat/internal/presence"
	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/store"
)

// Session is the authenticated caller of a chat operation.
type Session interface {
	UserID() string
	Role() protocol.Role
	IsJoined(caseID int64) bool
}

// MessageStore persists messages and read positions.
type MessageStore interface {
	Append(ctx context.Context, m store.NewMessage) (store.Message, error)
	List(ctx context.Context, caseID, sinceID int64, limit int) ([]store.Message, error)
	LatestID(ctx context.Context, caseID int64) (int64, error)
	MarkRead(ctx context.Context, caseID int64, userID string, upToID int64) (store.ReadPosition, bool, error)
	UnreadCount(ctx context.Context, caseID int64, userID string) (int, error)
	UnreadCounts(ctx context.Context, userID string) (map[int64]int, error)
}

// CaseDirectory is the case membership and creation collaborator.
type CaseDirectory interface {
	CaseExists(ctx context.Context, caseID int64) (bool, error)
	IsParticipant(ctx context.Context, caseID int64, userID string) (bool, error)
	Participants(ctx context.Context, caseID int64) ([]store.Participant, error)
	CreateCaseForPair(ctx context.Context, nc store.NewCase) (store.Case, bool, error)
	UserRole(ctx context.Context, userID string) (string, error)
	CasesForUser(ctx context.Context, userID string) ([]store.Case, error)
}

// AttachmentResolver checks that an attachment reference was uploaded.
type AttachmentResolver interface {
	AttachmentExists(ctx context.Context, ref string) (bool, error)
}

// Outbox queues notifications for participants who are not in the room.
type Outbox interface {
	QueueNotification(ctx context.Context, n store.Notification) (int64, error)
}

// Broadcaster fans events out to a case's room.
type Broadcaster interface {
	Broadcast(ctx context.Context, caseID int64, env protocol.Envelope) int
	JoinedUsers(caseID int64) []string
}

// Deps are the collaborators of a Service. Bus and Logger may be nil.
type Deps struct {
	Messages    MessageStore
	Cases       CaseDirectory
	Attachments AttachmentResolver
	Outbox      Outbox
	Rooms       Broadcaster
	Typing      *presence.Tracker
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// Service implements the chat operations.
type Service struct {
	messages    MessageStore
	cases       CaseDirectory
	attachments AttachmentResolver
	outbox      Outbox
	rooms       Broadcaster
	typing      *presence.Tracker
	bus         *bus.Bus
	logger      *zap.Logger
	pairLocks   *lock.Keyed
	caseLocks   *lock.Keyed
}

// New creates a chat service.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		messages:    d.Messages,
		cases:       d.Cases,
		attachments: d.Attachments,
		outbox:      d.Outbox,
		rooms:       d.Rooms,
		typing:      d.Typing,
		bus:         d.Bus,
		logger:      logger,
		pairLocks:   lock.NewKeyed(),
		caseLocks:   lock.NewKeyed(),
	}
}

func (s *Service) emit(kind string, payload any) {
	if s.bus != nil {
		s.bus.Emit(kind, payload)
	}
}

// ToWire converts a stored message to its wire form.
func ToWire(m store.Message) protocol.Message {
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return protocol.Message{
		ID:            m.ID,
		CaseID:        m.CaseID,
		SenderID:      m.SenderID,
		SenderRole:    protocol.Role(m.SenderRole),
		Body:          m.Body,
		AttachmentRef: m.AttachmentRef,
		CreatedAt:     m.CreatedAt,
		ReadBy:        readBy,
	}
}

// detached is a session that has joined nothing, used by REST and admin
// callers.
type detached struct {
	userID string
	role   protocol.Role
}

func (d detached) UserID() string      { return d.userID }
func (d detached) Role() protocol.Role { return d.role }
func (d detached) IsJoined(int64) bool { return false }

// Detached returns a Session for a caller without a realtime connection.
func Detached(userID string, role protocol.Role) Session {
	return detached{userID: userID, role: role}
}
