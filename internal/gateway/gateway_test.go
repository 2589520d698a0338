package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/casechat/internal/auth"
	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/chat"
	"github.com/matheus3301/casechat/internal/presence"
	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/room"
	"github.com/matheus3301/casechat/internal/store"
)

type harness struct {
	srv       *httptest.Server
	gw        *Server
	validator *auth.Validator
	caseID    int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.UpsertUser(ctx, store.User{ID: "a", Role: "client"}))
	require.NoError(t, db.UpsertUser(ctx, store.User{ID: "b", Role: "lawyer"}))
	require.NoError(t, db.UpsertUser(ctx, store.User{ID: "c", Role: "client"}))
	require.NoError(t, db.UpsertUser(ctx, store.User{ID: "d", Role: "client"}))
	c, err := db.CreateCase(ctx, store.NewCase{Title: "Lease dispute", ClientID: "a", LawyerID: "b"})
	require.NoError(t, err)

	validator, err := auth.NewValidator("test-secret", "casechat")
	require.NoError(t, err)

	b := bus.New()
	rooms := room.New(db, nil, b)
	svc := chat.New(chat.Deps{
		Messages:    db,
		Cases:       db,
		Attachments: db,
		Outbox:      db,
		Rooms:       rooms,
		Typing:      presence.New(presence.DefaultTTL),
		Bus:         b,
	})
	gw := New(Options{PingPeriod: time.Second}, validator, svc, rooms, b, nil)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})
	return &harness{srv: srv, gw: gw, validator: validator, caseID: c.ID}
}

func (h *harness) token(t *testing.T, user string, role protocol.Role) string {
	t.Helper()
	tok, err := h.validator.Issue(user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, typ, ref string, payload any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(protocol.MustEnvelope(typ, ref, payload)))
}

// await reads until an event of the given type arrives.
func await(t *testing.T, ws *websocket.Conn, typ string) protocol.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env protocol.Envelope
		require.NoError(t, ws.ReadJSON(&env), "waiting for %s", typ)
		if env.Type == typ {
			return env
		}
	}
}

func (h *harness) join(t *testing.T, ws *websocket.Conn) protocol.JoinedPayload {
	t.Helper()
	send(t, ws, protocol.TypeJoin, "j", protocol.CasePayload{CaseID: h.caseID})
	var joined protocol.JoinedPayload
	require.NoError(t, await(t, ws, protocol.TypeJoined).Decode(&joined))
	return joined
}

func TestRejectsInvalidToken(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, "garbage")

	env := await(t, ws, protocol.TypeError)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "auth_error", p.Code)

	var next protocol.Envelope
	err := ws.ReadJSON(&next)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "err = %v", err)
}

func TestPingPong(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.token(t, "a", protocol.RoleClient))
	send(t, ws, protocol.TypePing, "p1", nil)
	assert.Equal(t, "p1", await(t, ws, protocol.TypePong).Ref)
}

func TestUnknownEventIsValidationError(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.token(t, "a", protocol.RoleClient))
	send(t, ws, "shout", "x1", nil)

	env := await(t, ws, protocol.TypeError)
	assert.Equal(t, "x1", env.Ref)
	var p protocol.ErrorPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "validation_error", p.Code)
}

func TestJoinRejectsNonParticipant(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.token(t, "c", protocol.RoleClient))
	send(t, ws, protocol.TypeJoin, "j", protocol.CasePayload{CaseID: h.caseID})

	var p protocol.ErrorPayload
	require.NoError(t, await(t, ws, protocol.TypeError).Decode(&p))
	assert.Equal(t, "forbidden", p.Code)
}

func TestSendWithoutJoinIsForbidden(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.token(t, "a", protocol.RoleClient))
	send(t, ws, protocol.TypeSend, "s", protocol.SendPayload{CaseID: h.caseID, Body: "Hello"})

	var p protocol.ErrorPayload
	require.NoError(t, await(t, ws, protocol.TypeError).Decode(&p))
	assert.Equal(t, "forbidden", p.Code)
}

func TestMessageAndReadReceiptFlow(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, h.token(t, "a", protocol.RoleClient))
	lawyer := h.dial(t, h.token(t, "b", protocol.RoleLawyer))
	h.join(t, client)
	h.join(t, lawyer)

	send(t, client, protocol.TypeSend, "s1", protocol.SendPayload{CaseID: h.caseID, Body: "Hello"})

	var fromClient, atLawyer protocol.Message
	require.NoError(t, await(t, client, protocol.TypeMessage).Decode(&fromClient))
	require.NoError(t, await(t, lawyer, protocol.TypeMessage).Decode(&atLawyer))
	assert.Equal(t, int64(1), atLawyer.ID)
	assert.Equal(t, "a", atLawyer.SenderID)
	assert.Equal(t, "Hello", atLawyer.Body)
	assert.Equal(t, fromClient, atLawyer)

	send(t, lawyer, protocol.TypeRead, "r1", protocol.ReadPayload{CaseID: h.caseID, UpToID: 1})
	var receipt protocol.ReadReceiptPayload
	require.NoError(t, await(t, client, protocol.TypeReadReceipt).Decode(&receipt))
	assert.Equal(t, protocol.ReadReceiptPayload{CaseID: h.caseID, UserID: "b", UpToID: 1}, receipt)
}

func TestJoinedReportsUnread(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, h.token(t, "a", protocol.RoleClient))
	h.join(t, client)
	for i := 0; i < 3; i++ {
		send(t, client, protocol.TypeSend, "", protocol.SendPayload{CaseID: h.caseID, Body: fmt.Sprintf("m%d", i)})
		await(t, client, protocol.TypeMessage)
	}

	lawyer := h.dial(t, h.token(t, "b", protocol.RoleLawyer))
	joined := h.join(t, lawyer)
	assert.Equal(t, 3, joined.Unread)
	assert.Equal(t, int64(3), joined.LatestID)
	assert.Empty(t, joined.Typers)
}

func TestDisconnectClearsTyping(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, h.token(t, "a", protocol.RoleClient))
	lawyer := h.dial(t, h.token(t, "b", protocol.RoleLawyer))
	h.join(t, client)
	h.join(t, lawyer)

	send(t, client, protocol.TypeTyping, "", protocol.CasePayload{CaseID: h.caseID})
	var typing protocol.TypingPayload
	require.NoError(t, await(t, lawyer, protocol.TypeTyping).Decode(&typing))
	assert.Equal(t, "a", typing.UserID)

	require.NoError(t, client.Close())
	require.NoError(t, await(t, lawyer, protocol.TypeStopTyping).Decode(&typing))
	assert.Equal(t, "a", typing.UserID)
}

func TestLeaveUnjoinedCase(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.token(t, "a", protocol.RoleClient))
	send(t, ws, protocol.TypeLeave, "l", protocol.CasePayload{CaseID: h.caseID})

	var p protocol.ErrorPayload
	require.NoError(t, await(t, ws, protocol.TypeError).Decode(&p))
	assert.Equal(t, "validation_error", p.Code)

	h.join(t, ws)
	send(t, ws, protocol.TypeLeave, "l2", protocol.CasePayload{CaseID: h.caseID})
	assert.Equal(t, "l2", await(t, ws, protocol.TypeLeft).Ref)
}

func (h *harness) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRESTRequiresToken(t *testing.T) {
	h := newHarness(t)
	resp := h.request(t, http.MethodGet, fmt.Sprintf("/api/cases/%d/messages", h.caseID), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "auth_error", body.Code)
}

func TestRESTHistoryAndUnread(t *testing.T) {
	h := newHarness(t)
	client := h.dial(t, h.token(t, "a", protocol.RoleClient))
	h.join(t, client)
	for _, body := range []string{"one", "two"} {
		send(t, client, protocol.TypeSend, "", protocol.SendPayload{CaseID: h.caseID, Body: body})
		await(t, client, protocol.TypeMessage)
	}

	lawyerTok := h.token(t, "b", protocol.RoleLawyer)
	resp := h.request(t, http.MethodGet, fmt.Sprintf("/api/cases/%d/messages?since_id=1", h.caseID), lawyerTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "two", hist.Messages[0].Body)

	resp = h.request(t, http.MethodGet, fmt.Sprintf("/api/cases/%d/unread", h.caseID), lawyerTok, nil)
	var unread UnreadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&unread))
	assert.Equal(t, 2, unread.Unread)

	resp = h.request(t, http.MethodGet, "/api/cases", lawyerTok, nil)
	var cases CasesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cases))
	require.Len(t, cases.Cases, 1)
	assert.Equal(t, h.caseID, cases.Cases[0].ID)
	assert.Equal(t, 2, cases.Cases[0].Unread)

	resp = h.request(t, http.MethodGet, "/api/unread", lawyerTok, nil)
	var all UnreadAllResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	assert.Equal(t, 2, all.Unread[fmt.Sprint(h.caseID)])

	outsider := h.token(t, "c", protocol.RoleClient)
	resp = h.request(t, http.MethodGet, fmt.Sprintf("/api/cases/%d/messages", h.caseID), outsider, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.request(t, http.MethodGet, "/api/cases/999/messages", lawyerTok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRESTDirectChat(t *testing.T) {
	h := newHarness(t)
	lawyerTok := h.token(t, "b", protocol.RoleLawyer)

	resp := h.request(t, http.MethodPost, "/api/direct-chat", lawyerTok, DirectChatRequest{CounterpartyID: "d"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first DirectChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	assert.True(t, first.Created)
	assert.Equal(t, "Direct Consultation", first.LegalService)
	assert.Equal(t, "medium", first.Priority)
	assert.NotEmpty(t, first.CaseNumber)

	resp = h.request(t, http.MethodPost, "/api/direct-chat", lawyerTok, DirectChatRequest{CounterpartyID: "d"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second DirectChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))
	assert.Equal(t, first.CaseID, second.CaseID)
	assert.Equal(t, first.CaseNumber, second.CaseNumber)
	assert.False(t, second.Created)

	clientTok := h.token(t, "d", protocol.RoleClient)
	resp = h.request(t, http.MethodPost, "/api/direct-chat", clientTok, DirectChatRequest{CounterpartyID: "c"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRESTDirectChatCaseFields(t *testing.T) {
	h := newHarness(t)
	lawyerTok := h.token(t, "b", protocol.RoleLawyer)

	resp := h.request(t, http.MethodPost, "/api/direct-chat", lawyerTok, DirectChatRequest{
		CounterpartyID: "d",
		Title:          "Estate planning",
		LegalService:   "Family Law",
		Priority:       "high",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out DirectChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Estate planning", out.Title)
	assert.Equal(t, "Family Law", out.LegalService)
	assert.Equal(t, "high", out.Priority)
	assert.Equal(t, "d", out.ClientID)
	assert.Equal(t, "b", out.LawyerID)

	resp = h.request(t, http.MethodPost, "/api/direct-chat", lawyerTok, DirectChatRequest{CounterpartyID: "c", Priority: "asap"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	h.dial(t, h.token(t, "a", protocol.RoleClient))
	resp := h.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
