package chat

import (
	"context"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/apperr"
	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/store"
)

const previewRunes = 140

// SendMessage persists a message from a joined session and broadcasts the
// stored record to the case's room. Nothing is broadcast unless the append
// succeeded. Append and broadcast share a per-case lock so rooms receive
// messages in id order.
func (s *Service) SendMessage(ctx context.Context, sess Session, caseID int64, body, attachmentRef string) (protocol.Message, error) {
	if !sess.IsJoined(caseID) {
		return protocol.Message{}, apperr.Forbidden("join case %d before sending", caseID)
	}
	if attachmentRef != "" {
		ok, err := s.attachments.AttachmentExists(ctx, attachmentRef)
		if err != nil {
			return protocol.Message{}, err
		}
		if !ok {
			return protocol.Message{}, apperr.Validation("attachment %q not found", attachmentRef)
		}
	}

	unlock := s.caseLocks.Lock(strconv.FormatInt(caseID, 10))
	stored, err := s.messages.Append(ctx, store.NewMessage{
		CaseID:        caseID,
		SenderID:      sess.UserID(),
		SenderRole:    string(sess.Role()),
		Body:          body,
		AttachmentRef: attachmentRef,
	})
	if err != nil {
		unlock()
		return protocol.Message{}, err
	}
	msg := ToWire(stored)
	s.rooms.Broadcast(ctx, caseID, protocol.MustEnvelope(protocol.TypeMessage, "", msg))
	unlock()

	if s.typing.ClearTyping(caseID, sess.UserID()) {
		s.broadcastTyping(ctx, protocol.TypeStopTyping, caseID, sess.UserID())
	}
	s.emit(bus.KindMessageAppended, msg)
	s.logger.Info("message appended",
		zap.Int64("case_id", caseID),
		zap.Int64("msg_id", msg.ID),
		zap.String("user_id", sess.UserID()))

	s.notifyAbsent(ctx, stored)
	return msg, nil
}

// notifyAbsent queues a new_message notification for every participant
// who is neither the sender nor currently in the room. Failures are logged;
// the message is already persisted and delivered.
func (s *Service) notifyAbsent(ctx context.Context, m store.Message) {
	if s.outbox == nil {
		return
	}
	participants, err := s.cases.Participants(ctx, m.CaseID)
	if err != nil {
		s.logger.Warn("participants lookup failed", zap.Int64("case_id", m.CaseID), zap.Error(err))
		return
	}
	present := make(map[string]bool)
	for _, u := range s.rooms.JoinedUsers(m.CaseID) {
		present[u] = true
	}
	for _, p := range participants {
		if p.UserID == m.SenderID || present[p.UserID] {
			continue
		}
		_, err := s.outbox.QueueNotification(ctx, store.Notification{
			RecipientID: p.UserID,
			CaseID:      m.CaseID,
			MessageID:   m.ID,
			Kind:        store.NotificationNewMessage,
			Title:       "New message",
			Body:        preview(m),
		})
		if err != nil {
			s.logger.Warn("queue notification failed",
				zap.Int64("case_id", m.CaseID),
				zap.String("user_id", p.UserID),
				zap.Error(err))
		}
	}
}

func preview(m store.Message) string {
	if m.Body == "" {
		return "Sent an attachment"
	}
	if utf8.RuneCountInString(m.Body) <= previewRunes {
		return m.Body
	}
	runes := []rune(m.Body)
	return string(runes[:previewRunes]) + "..."
}

// MarkRead advances the session user's read position. A read_receipt is
// broadcast only when the position actually moved.
func (s *Service) MarkRead(ctx context.Context, sess Session, caseID, upToID int64) (store.ReadPosition, error) {
	if !sess.IsJoined(caseID) {
		return store.ReadPosition{}, apperr.Forbidden("join case %d before marking it read", caseID)
	}
	pos, advanced, err := s.messages.MarkRead(ctx, caseID, sess.UserID(), upToID)
	if err != nil {
		return store.ReadPosition{}, err
	}
	if advanced {
		receipt := protocol.ReadReceiptPayload{CaseID: caseID, UserID: sess.UserID(), UpToID: pos.UpToID}
		s.rooms.Broadcast(ctx, caseID, protocol.MustEnvelope(protocol.TypeReadReceipt, "", receipt))
		s.emit(bus.KindReadAdvanced, receipt)
	}
	return pos, nil
}

// History returns messages after sinceID for a participant of the case.
func (s *Service) History(ctx context.Context, sess Session, caseID, sinceID int64, limit int) ([]protocol.Message, error) {
	if err := s.requireParticipant(ctx, sess, caseID); err != nil {
		return nil, err
	}
	stored, err := s.messages.List(ctx, caseID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, ToWire(m))
	}
	return out, nil
}

// UnreadCount returns the session user's unread count in a case.
func (s *Service) UnreadCount(ctx context.Context, sess Session, caseID int64) (int, error) {
	if err := s.requireParticipant(ctx, sess, caseID); err != nil {
		return 0, err
	}
	return s.messages.UnreadCount(ctx, caseID, sess.UserID())
}

// UnreadCounts returns the session user's unread count for every case.
func (s *Service) UnreadCounts(ctx context.Context, sess Session) (map[int64]int, error) {
	return s.messages.UnreadCounts(ctx, sess.UserID())
}

// Cases lists the session user's cases with their unread counts.
func (s *Service) Cases(ctx context.Context, sess Session) ([]protocol.CaseSummary, error) {
	cases, err := s.cases.CasesForUser(ctx, sess.UserID())
	if err != nil {
		return nil, err
	}
	unread, err := s.messages.UnreadCounts(ctx, sess.UserID())
	if err != nil {
		return nil, err
	}
	out := make([]protocol.CaseSummary, 0, len(cases))
	for _, c := range cases {
		out = append(out, protocol.CaseSummary{
			ID:         c.ID,
			Title:      c.Title,
			CaseNumber: c.CaseNumber,
			ClientID:   c.ClientID,
			LawyerID:   c.LawyerID,
			Status:     c.Status,
			Unread:     unread[c.ID],
		})
	}
	return out, nil
}

// JoinInfo builds the confirmation sent after a successful join.
func (s *Service) JoinInfo(ctx context.Context, sess Session, caseID int64) (protocol.JoinedPayload, error) {
	unread, err := s.messages.UnreadCount(ctx, caseID, sess.UserID())
	if err != nil {
		return protocol.JoinedPayload{}, err
	}
	latest, err := s.messages.LatestID(ctx, caseID)
	if err != nil {
		return protocol.JoinedPayload{}, err
	}
	typers := s.typing.ActiveTypers(caseID, sess.UserID())
	if typers == nil {
		typers = []string{}
	}
	return protocol.JoinedPayload{CaseID: caseID, Typers: typers, Unread: unread, LatestID: latest}, nil
}

func (s *Service) requireParticipant(ctx context.Context, sess Session, caseID int64) error {
	exists, err := s.cases.CaseExists(ctx, caseID)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("case %d not found", caseID)
	}
	ok, err := s.cases.IsParticipant(ctx, caseID, sess.UserID())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("user %s is not a participant of case %d", sess.UserID(), caseID)
	}
	return nil
}
