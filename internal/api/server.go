// Package api serves the transfer HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pgmirror/pgmirror/internal/engine"
	"github.com/pgmirror/pgmirror/internal/ws"
)

// Server is the HTTP API server.
type Server struct {
	engine  *engine.Engine
	hub     *ws.Hub
	logger  *slog.Logger
	host    string
	port    int
	server  *http.Server
	devMode bool
}

// Option configures the API server.
type Option func(*Server)

// WithDevMode enables CORS for development.
func WithDevMode(dev bool) Option {
	return func(s *Server) {
		s.devMode = dev
	}
}

// WithHub streams engine events to WebSocket clients through hub.
func WithHub(hub *ws.Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithHost sets the listen host. The default listens on all interfaces.
func WithHost(host string) Option {
	return func(s *Server) {
		s.host = host
	}
}

// New creates a new API server.
func New(eng *engine.Engine, logger *slog.Logger, port int, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: eng,
		logger: logger,
		port:   port,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub != nil {
		s.hub.AllowAnyOrigin = s.devMode
		s.connectHub()
	}
	return s
}

// connectHub forwards engine events to the hub and serves the run list as
// the hub's full state.
func (s *Server) connectHub() {
	prev := s.engine.OnEvent
	s.engine.OnEvent = func(ev engine.Event) {
		if prev != nil {
			prev(ev)
		}
		s.hub.BroadcastRun(ev.RunID, ws.MessageType(ev.Type), ev)
		if ev.Type == engine.EventRunFinished && ev.Status != nil && ev.Status.Error != "" {
			s.hub.BroadcastError(ev.RunID, ev.Status.Error)
		}
	}
	s.hub.SetStateProvider(func() ([]byte, error) {
		return json.Marshal(RunListResponse{Runs: s.engine.List()})
	})
}

// Handler returns the API routes wrapped in the server's middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := requestLogger(s.logger, mux)
	if s.devMode {
		handler = corsMiddleware(handler)
	}
	return handler
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.host, strconv.Itoa(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting api server", "addr", s.server.Addr, "dev_mode", s.devMode)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /transfer", s.handleTransfer)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/transfers", s.handleListTransfers)
	mux.HandleFunc("GET /api/transfers/{id}", s.handleGetTransfer)
	mux.HandleFunc("POST /api/transfers/{id}/cancel", s.handleCancelTransfer)

	if s.hub != nil {
		mux.HandleFunc("GET /api/ws", s.hub.HandleWebSocket)
	}
}
