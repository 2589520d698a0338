package chat

import (
	"context"

	"github.com/matheus3301/casechat/internal/apperr"
	"github.com/matheus3301/casechat/internal/protocol"
)

// Typing records a typing signal and announces it to the room.
func (s *Service) Typing(ctx context.Context, sess Session, caseID int64) error {
	if !sess.IsJoined(caseID) {
		return apperr.Forbidden("join case %d before typing", caseID)
	}
	s.typing.SetTyping(caseID, sess.UserID())
	s.broadcastTyping(ctx, protocol.TypeTyping, caseID, sess.UserID())
	return nil
}

// StopTyping clears the user's typing entry and announces it if one was
// active.
func (s *Service) StopTyping(ctx context.Context, sess Session, caseID int64) error {
	if !sess.IsJoined(caseID) {
		return apperr.Forbidden("join case %d before typing", caseID)
	}
	if s.typing.ClearTyping(caseID, sess.UserID()) {
		s.broadcastTyping(ctx, protocol.TypeStopTyping, caseID, sess.UserID())
	}
	return nil
}

// SessionClosed clears every typing entry of a disconnected user and tells
// the affected rooms immediately instead of waiting for the TTL.
func (s *Service) SessionClosed(ctx context.Context, userID string) {
	for _, caseID := range s.typing.ClearUser(userID) {
		s.broadcastTyping(ctx, protocol.TypeStopTyping, caseID, userID)
	}
}

func (s *Service) broadcastTyping(ctx context.Context, typ string, caseID int64, userID string) {
	s.rooms.Broadcast(ctx, caseID, protocol.MustEnvelope(typ, "", protocol.TypingPayload{CaseID: caseID, UserID: userID}))
}
