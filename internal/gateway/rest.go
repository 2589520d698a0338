package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/matheus3301/casechat/internal/apperr"
	"github.com/matheus3301/casechat/internal/auth"
	"github.com/matheus3301/casechat/internal/chat"
	"github.com/matheus3301/casechat/internal/protocol"
)

type identityKey struct{}

// authenticate rejects requests without a valid bearer token and stores
// the identity on the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.validator.Validate(auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) chat.Session {
	identity, _ := r.Context().Value(identityKey{}).(auth.Identity)
	return chat.Detached(identity.UserID, identity.Role)
}

// CasesResponse is the body of GET /api/cases.
type CasesResponse struct {
	Cases []protocol.CaseSummary `json:"cases"`
}

// HistoryResponse is the body of GET /api/cases/{case_id}/messages.
type HistoryResponse struct {
	CaseID   int64              `json:"case_id"`
	Messages []protocol.Message `json:"messages"`
}

// UnreadResponse is the body of GET /api/cases/{case_id}/unread.
type UnreadResponse struct {
	CaseID int64 `json:"case_id"`
	Unread int   `json:"unread"`
}

// UnreadAllResponse is the body of GET /api/unread. Keys are case ids.
type UnreadAllResponse struct {
	Unread map[string]int `json:"unread"`
}

// DirectChatRequest is the body of POST /api/direct-chat.
// legal_service defaults to "Direct Consultation" and priority to medium.
type DirectChatRequest struct {
	CounterpartyID string `json:"counterparty_id"`
	Title          string `json:"title,omitempty"`
	LegalService   string `json:"legal_service,omitempty"`
	Priority       string `json:"priority,omitempty"`
}

// DirectChatResponse reports the bootstrapped case.
type DirectChatResponse struct {
	Success      bool   `json:"success"`
	CaseID       int64  `json:"case_id"`
	Created      bool   `json:"created"`
	Title        string `json:"title"`
	CaseNumber   string `json:"case_number"`
	LegalService string `json:"legal_service"`
	Priority     string `json:"priority"`
	Status       string `json:"status"`
	ClientID     string `json:"client_id"`
	LawyerID     string `json:"lawyer_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.Connections(),
	})
}

func (s *Server) handleCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.chat.Cases(r.Context(), sessionFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CasesResponse{Cases: cases})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sinceID, err := queryInt(r, "since_id")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}

	msgs, err := s.chat.History(r.Context(), sessionFrom(r), caseID, sinceID, int(limit))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{CaseID: caseID, Messages: msgs})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDVar(r)
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := s.chat.UnreadCount(r.Context(), sessionFrom(r), caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UnreadResponse{CaseID: caseID, Unread: n})
}

func (s *Server) handleUnreadAll(w http.ResponseWriter, r *http.Request) {
	counts, err := s.chat.UnreadCounts(r.Context(), sessionFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]int, len(counts))
	for caseID, n := range counts {
		out[strconv.FormatInt(caseID, 10)] = n
	}
	writeJSON(w, http.StatusOK, UnreadAllResponse{Unread: out})
}

func (s *Server) handleDirectChat(w http.ResponseWriter, r *http.Request) {
	var req DirectChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	c, created, err := s.chat.BootstrapDirectChat(r.Context(), sessionFrom(r), chat.DirectChat{
		CounterpartyID: req.CounterpartyID,
		Title:          req.Title,
		LegalService:   req.LegalService,
		Priority:       req.Priority,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, DirectChatResponse{
		Success:      true,
		CaseID:       c.ID,
		Created:      created,
		Title:        c.Title,
		CaseNumber:   c.CaseNumber,
		LegalService: c.LegalService,
		Priority:     c.Priority,
		Status:       c.Status,
		ClientID:     c.ClientID,
		LawyerID:     c.LawyerID,
	})
}

func caseIDVar(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["case_id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid case id %q", mux.Vars(r)["case_id"])
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, apperr.Validation("invalid %s %q", name, raw)
	}
	return v, nil
}
