// Package gateway is the realtime entry point: it upgrades HTTP requests to
// websockets, authenticates them, and dispatches session events to the chat
// service. The same router serves the REST endpoints.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/auth"
	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/chat"
	"github.com/matheus3301/casechat/internal/room"
)

const (
	readDeadline = 90 * time.Second // three missed pings
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
	readLimit    = int64(16 << 10)
)

// Options tunes per-connection behavior.
type Options struct {
	SendQueue    int
	ReadLimit    int64
	ReadDeadline time.Duration
	PingPeriod   time.Duration
	WriteTimeout time.Duration
}

// DefaultOptions returns the production connection settings.
func DefaultOptions() Options {
	return Options{
		SendQueue:    64,
		ReadLimit:    readLimit,
		ReadDeadline: readDeadline,
		PingPeriod:   pingPeriod,
		WriteTimeout: writeTimeout,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendQueue <= 0 {
		o.SendQueue = d.SendQueue
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.ReadDeadline <= 0 {
		o.ReadDeadline = d.ReadDeadline
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = d.PingPeriod
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	return o
}

// TokenValidator is the authentication collaborator.
type TokenValidator interface {
	Validate(token string) (auth.Identity, error)
}

// Server owns the HTTP router and every live realtime connection.
type Server struct {
	opts      Options
	validator TokenValidator
	chat      *chat.Service
	rooms     *room.Registry
	bus       *bus.Bus
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	router    *mux.Router

	mu      sync.Mutex
	conns   map[string]*conn
	httpSrv *http.Server
}

// New creates a gateway. b and logger may be nil.
func New(opts Options, validator TokenValidator, svc *chat.Service, rooms *room.Registry, b *bus.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:      opts.withDefaults(),
		validator: validator,
		chat:      svc,
		rooms:     rooms,
		bus:       b,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/cases", s.handleCases).Methods(http.MethodGet)
	api.HandleFunc("/cases/{case_id:[0-9]+}/messages", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/cases/{case_id:[0-9]+}/unread", s.handleUnread).Methods(http.MethodGet)
	api.HandleFunc("/unread", s.handleUnreadAll).Methods(http.MethodGet)
	api.HandleFunc("/direct-chat", s.handleDirectChat).Methods(http.MethodPost)
	return r
}

// Handler returns the HTTP handler serving websockets and REST.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	s.logger.Info("gateway listening", zap.String("addr", l.Addr().String()))
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every realtime connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	live := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		live = append(live, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, c := range live {
		c.stop()
	}
	return err
}

// Connections returns the number of live realtime connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(c *conn) {
	s.mu.Lock()
	s.conns[c.handle] = c
	s.mu.Unlock()
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.handle)
	s.mu.Unlock()
}
