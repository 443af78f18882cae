// Package wsserver implements the Connection Handler: one goroutine per
// client WebSocket, owning the optional token handshake, the main
// read/dispatch/event-forwarding loop, and clean teardown on disconnect or
// server shutdown.
package wsserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ianremillard/ptybridge/internal/manager"
)

// Config configures the listener and auth gate.
type Config struct {
	Bind  string
	Port  int
	Token string
}

const authDeadline = 30 * time.Second

// Server owns the TCP listener and hands each accepted connection to its own
// Connection Handler goroutine.
type Server struct {
	config Config
	mgr    *manager.Manager
	log    *slog.Logger

	serverID string

	mu       sync.Mutex
	shutdown chan struct{}
	closed   bool

	httpSrv *http.Server
}

// New constructs a Server bound to mgr.
func New(config Config, mgr *manager.Manager, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		config:   config,
		mgr:      mgr,
		log:      log,
		serverID: uuid.NewString(),
		shutdown: make(chan struct{}),
	}
}

// Addr returns the bind address the server listens on.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Bind, s.config.Port)
}

// Run listens and serves until the context is cancelled or Shutdown is
// called. Every path is accepted; the server advertises /ws in logs only.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHTTP)

	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("wsserver: listen on %s: %w", s.Addr(), err)
	}

	s.httpSrv = &http.Server{Handler: mux}
	s.log.Info("listening", "addr", s.Addr(), "url", "ws://"+s.Addr()+"/ws")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
		return nil
	case <-s.shutdown:
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown triggers every live connection's shutdown path and stops
// accepting new ones.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.shutdown)
	s.mgr.ShutdownAll()
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(ctx)
	}
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	h := &connHandler{
		server: s,
		conn:   conn,
		log:    s.log.With("remote", r.RemoteAddr),
	}
	h.run(r.Context())
}
