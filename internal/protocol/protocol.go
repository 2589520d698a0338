package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound event types (session to server).
const (
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypeSend       = "send"
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypeRead       = "read"
	TypePing       = "ping"
)

// Outbound event types (server to session). TypeTyping and TypeStopTyping
// are reused in this direction with a TypingPayload.
const (
	TypeMessage     = "message"
	TypeReadReceipt = "read_receipt"
	TypeJoined      = "joined"
	TypeLeft        = "left"
	TypeError       = "error"
	TypePong        = "pong"
)

// Role of an authenticated user.
type Role string

const (
	RoleClient Role = "client"
	RoleLawyer Role = "lawyer"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleLawyer, RoleAdmin:
		return true
	}
	return false
}

// Envelope is the JSON frame exchanged over the realtime connection in both
// directions. Ref is an opaque client-chosen value echoed back on the reply
// or error for that request.
type Envelope struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ, ref string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, Ref: ref}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Payload = raw
	return env, nil
}

// MustEnvelope is NewEnvelope for payload types that always marshal.
func MustEnvelope(typ, ref string, payload any) Envelope {
	env, err := NewEnvelope(typ, ref, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", e.Type, err)
	}
	return nil
}

// CasePayload carries join, leave, typing and stop_typing.
type CasePayload struct {
	CaseID int64 `json:"case_id"`
}

// SendPayload carries a send request.
type SendPayload struct {
	CaseID        int64  `json:"case_id"`
	Body          string `json:"body,omitempty"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
}

// ReadPayload carries a read acknowledgement.
type ReadPayload struct {
	CaseID int64 `json:"case_id"`
	UpToID int64 `json:"up_to_id"`
}

// Message is the persisted chat message as seen on the wire.
type Message struct {
	ID            int64    `json:"id"`
	CaseID        int64    `json:"case_id"`
	SenderID      string   `json:"sender_id"`
	SenderRole    Role     `json:"sender_role"`
	Body          string   `json:"body"`
	AttachmentRef string   `json:"attachment_ref,omitempty"`
	CreatedAt     int64    `json:"created_at"`
	ReadBy        []string `json:"read_by"`
}

// TypingPayload announces that a user started or stopped typing.
type TypingPayload struct {
	CaseID int64  `json:"case_id"`
	UserID string `json:"user_id"`
}

// ReadReceiptPayload announces a user's new read position.
type ReadReceiptPayload struct {
	CaseID int64  `json:"case_id"`
	UserID string `json:"user_id"`
	UpToID int64  `json:"up_to_id"`
}

// JoinedPayload confirms a join and reports who is typing right now.
type JoinedPayload struct {
	CaseID   int64    `json:"case_id"`
	Typers   []string `json:"typers"`
	Unread   int      `json:"unread"`
	LatestID int64    `json:"latest_id"`
}

// ErrorPayload reports a rejected request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CaseSummary is one entry of a user's case list.
type CaseSummary struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	CaseNumber string `json:"case_number"`
	ClientID   string `json:"client_id"`
	LawyerID   string `json:"lawyer_id"`
	Status     string `json:"status"`
	Unread     int    `json:"unread"`
}
