package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/protocol"
)

const (
	minBackoff    = 500 * time.Millisecond
	maxBackoff    = 10 * time.Second
	clientPing    = 30 * time.Second
	clientTimeout = 10 * time.Second
	outboundQueue = 64
)

// Handler receives transport callbacks. *Controller implements it.
type Handler interface {
	HandleEvent(env protocol.Envelope)
	Reconnected(ctx context.Context) error
	Disconnected()
}

// Transport is a websocket Conn that redials with exponential backoff.
type Transport struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger

	mu  sync.Mutex
	out chan protocol.Envelope // nil while disconnected
}

// NewTransport creates a transport for the gateway at baseURL
// (http://host:port or ws://host:port).
func NewTransport(baseURL, token string, logger *zap.Logger) (*Transport, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		url:    u.String(),
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: clientTimeout},
		logger: logger,
	}, nil
}

// Send enqueues env for the live connection.
func (t *Transport) Send(env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return ErrDisconnected
	}
	select {
	case t.out <- env:
		return nil
	default:
		return fmt.Errorf("outbound queue full")
	}
}

// Run dials, serves the connection and redials until ctx is done.
func (t *Transport) Run(ctx context.Context, h Handler) {
	backoff := minBackoff
	for {
		ws, err := t.dial(ctx)
		if err == nil {
			backoff = minBackoff
			t.serve(ctx, ws, h)
		} else {
			t.logger.Debug("dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if err != nil {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.token)
	ws, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return ws, err
}

func (t *Transport) serve(ctx context.Context, ws *websocket.Conn, h Handler) {
	out := make(chan protocol.Envelope, outboundQueue)
	done := make(chan struct{})
	t.mu.Lock()
	t.out = out
	t.mu.Unlock()
	t.logger.Info("connected", zap.String("url", t.url))

	go t.writeLoop(ws, out, done)
	if err := h.Reconnected(ctx); err != nil {
		t.logger.Warn("reconcile after connect failed", zap.Error(err))
	}

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	_ = ws.SetReadDeadline(time.Now().Add(3 * clientPing))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(3 * clientPing))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(clientTimeout))
	})
	for {
		var env protocol.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			t.logger.Info("disconnected", zap.Error(err))
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(3 * clientPing))
		h.HandleEvent(env)
	}

	t.mu.Lock()
	t.out = nil
	t.mu.Unlock()
	close(done)
	h.Disconnected()
}

func (t *Transport) writeLoop(ws *websocket.Conn, out <-chan protocol.Envelope, done <-chan struct{}) {
	defer func() { _ = ws.Close() }()
	for {
		select {
		case env := <-out:
			_ = ws.SetWriteDeadline(time.Now().Add(clientTimeout))
			if err := ws.WriteJSON(env); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
