package chat

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/apperr"
	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/lock"
	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/store"
)

// CaseCreated is the bus payload for a bootstrapped direct chat.
type CaseCreated struct {
	CaseID   int64
	LawyerID string
	ClientID string
}

// Priorities accepted for a new case.
var priorities = []string{"low", "medium", "high", "urgent"}

// DirectChat describes the case a lawyer wants with a client. Empty fields
// take the direct chat defaults.
type DirectChat struct {
	CounterpartyID string
	Title          string
	LegalService   string
	Priority       string
}

// BootstrapDirectChat returns the case linking the initiating lawyer and the
// counterparty client, creating it when none exists. Lookup and creation
// run under a lock keyed by the sorted pair, so concurrent calls for the
// same pair observe a single case; the store repeats the lookup inside the
// insert transaction for processes sharing the database. An existing case
// is returned unchanged.
func (s *Service) BootstrapDirectChat(ctx context.Context, sess Session, req DirectChat) (store.Case, bool, error) {
	if sess.Role() != protocol.RoleLawyer {
		return store.Case{}, false, apperr.Forbidden("only lawyers can start a direct chat")
	}
	counterpartyID := strings.TrimSpace(req.CounterpartyID)
	if counterpartyID == "" {
		return store.Case{}, false, apperr.Validation("counterparty is required")
	}
	if counterpartyID == sess.UserID() {
		return store.Case{}, false, apperr.Validation("cannot start a direct chat with yourself")
	}
	priority := strings.ToLower(strings.TrimSpace(req.Priority))
	if priority != "" && !slices.Contains(priorities, priority) {
		return store.Case{}, false, apperr.Validation("invalid priority %q", req.Priority)
	}

	role, err := s.cases.UserRole(ctx, counterpartyID)
	if err != nil {
		return store.Case{}, false, err
	}
	if protocol.Role(role) != protocol.RoleClient {
		return store.Case{}, false, apperr.NotFound("client %s not found", counterpartyID)
	}

	unlock := s.pairLocks.Lock(lock.PairKey(sess.UserID(), counterpartyID))
	defer unlock()

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = store.DirectChatTitle
	}
	service := strings.TrimSpace(req.LegalService)
	if service == "" {
		service = store.DirectChatLegalService
	}
	c, created, err := s.cases.CreateCaseForPair(ctx, store.NewCase{
		Title:        title,
		ClientID:     counterpartyID,
		LawyerID:     sess.UserID(),
		LegalService: service,
		Priority:     priority,
	})
	if err != nil || !created {
		return c, false, err
	}
	s.logger.Info("direct chat created",
		zap.Int64("case_id", c.ID),
		zap.String("case_number", c.CaseNumber),
		zap.String("user_id", sess.UserID()))
	s.emit(bus.KindCaseCreated, CaseCreated{CaseID: c.ID, LawyerID: sess.UserID(), ClientID: counterpartyID})
	return c, true, nil
}
