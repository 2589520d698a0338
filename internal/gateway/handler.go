package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/apperr"
	"github.com/matheus3301/casechat/internal/auth"
	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/status"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	handle := uuid.NewString()
	machine := status.NewMachine(handle, s.bus)
	logger := s.logger.With(zap.String("handle", handle))

	identity, err := s.validator.Validate(auth.TokenFromRequest(r))
	if err == nil {
		err = machine.Authenticate(identity.UserID)
	}
	if err != nil {
		logger.Info("websocket auth rejected", zap.Error(err))
		s.rejectAuth(ws, machine, err)
		return
	}

	c := &conn{
		handle:   handle,
		identity: identity,
		ws:       ws,
		machine:  machine,
		opts:     s.opts,
		logger:   logger.With(zap.String("user_id", identity.UserID)),
		send:     make(chan protocol.Envelope, s.opts.SendQueue),
		done:     make(chan struct{}),
	}
	s.track(c)
	c.logger.Info("session connected", zap.String("role", string(identity.Role)))

	go c.writeLoop()
	s.readLoop(r.Context(), c)
	s.finish(c)
}

// rejectAuth writes an auth error and closes the socket. The connection
// never leaves CONNECTING except into CLOSED.
func (s *Server) rejectAuth(ws *websocket.Conn, machine *status.Machine, err error) {
	if apperr.KindOf(err) != apperr.KindAuth {
		err = apperr.Auth("%s", apperr.MessageOf(err))
	}
	deadline := time.Now().Add(s.opts.WriteTimeout)
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.WriteJSON(errorEnvelope("", err))
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth_error"), deadline)
	_ = ws.Close()
	machine.Close()
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(s.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.ReadDeadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.opts.ReadDeadline))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.ReadDeadline))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reply(errorEnvelope("", apperr.Validation("malformed event: %v", err)))
			continue
		}
		s.dispatch(ctx, c, env)
	}
}

// finish runs the CLOSED transition: leave every room, clear typing, drop
// the session.
func (s *Server) finish(c *conn) {
	ctx := context.Background()
	for _, caseID := range c.machine.Close() {
		s.rooms.Leave(caseID, c.handle)
	}
	s.chat.SessionClosed(ctx, c.UserID())
	c.stop()
	s.untrack(c)
	c.logger.Info("session closed", zap.Int64("dropped", c.dropped.Load()))
}

func (s *Server) dispatch(ctx context.Context, c *conn, env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.TypePing:
		c.reply(protocol.MustEnvelope(protocol.TypePong, env.Ref, nil))
		return
	case protocol.TypeJoin:
		err = s.onJoin(ctx, c, env)
	case protocol.TypeLeave:
		err = s.onLeave(ctx, c, env)
	case protocol.TypeSend:
		var p protocol.SendPayload
		if err = decode(env, &p); err == nil {
			_, err = s.chat.SendMessage(ctx, c, p.CaseID, p.Body, p.AttachmentRef)
		}
	case protocol.TypeTyping:
		var p protocol.CasePayload
		if err = decode(env, &p); err == nil {
			err = s.chat.Typing(ctx, c, p.CaseID)
		}
	case protocol.TypeStopTyping:
		var p protocol.CasePayload
		if err = decode(env, &p); err == nil {
			err = s.chat.StopTyping(ctx, c, p.CaseID)
		}
	case protocol.TypeRead:
		var p protocol.ReadPayload
		if err = decode(env, &p); err == nil {
			_, err = s.chat.MarkRead(ctx, c, p.CaseID, p.UpToID)
		}
	default:
		err = apperr.Validation("unknown event type %q", env.Type)
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			c.logger.Error("event failed", zap.String("type", env.Type), zap.Error(err))
		}
		c.reply(errorEnvelope(env.Ref, err))
	}
}

func (s *Server) onJoin(ctx context.Context, c *conn, env protocol.Envelope) error {
	var p protocol.CasePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if err := s.rooms.Join(ctx, p.CaseID, c); err != nil {
		return err
	}
	if err := c.machine.Join(p.CaseID); err != nil {
		s.rooms.Leave(p.CaseID, c.handle)
		return err
	}
	info, err := s.chat.JoinInfo(ctx, c, p.CaseID)
	if err != nil {
		_, _ = c.machine.Leave(p.CaseID)
		s.rooms.Leave(p.CaseID, c.handle)
		return err
	}
	c.reply(protocol.MustEnvelope(protocol.TypeJoined, env.Ref, info))
	return nil
}

func (s *Server) onLeave(ctx context.Context, c *conn, env protocol.Envelope) error {
	var p protocol.CasePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if !c.machine.IsJoined(p.CaseID) {
		return apperr.Validation("not joined to case %d", p.CaseID)
	}
	_ = s.chat.StopTyping(ctx, c, p.CaseID)
	if _, err := c.machine.Leave(p.CaseID); err != nil {
		return err
	}
	s.rooms.Leave(p.CaseID, c.handle)
	c.reply(protocol.MustEnvelope(protocol.TypeLeft, env.Ref, protocol.CasePayload{CaseID: p.CaseID}))
	return nil
}

func decode(env protocol.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return apperr.Validation("%v", err)
	}
	return nil
}
