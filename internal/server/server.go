// Package server exposes the assistant over HTTP: a streaming chat endpoint
// plus health and metrics surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/auth"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/orchestrator"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/ratelimit"
)

// Options configures the HTTP listener.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server routes HTTP requests to the orchestrator.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	authService  *auth.Service
	limiter      *ratelimit.Limiter
	registry     *prometheus.Registry
	options      Options
	logger       *slog.Logger

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
}

// New creates a server. authService, limiter, and registry may be nil; the
// corresponding surface is skipped.
func New(orch *orchestrator.Orchestrator, authService *auth.Service, limiter *ratelimit.Limiter, registry *prometheus.Registry, options Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orchestrator: orch,
		authService:  authService,
		limiter:      limiter,
		registry:     registry,
		options:      options,
		logger:       logger.With("component", "server"),
		startTime:    time.Now(),
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/assistant/chat", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start begins serving and returns once the listener is bound.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.options.Host, s.options.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.options.ReadTimeout,
		WriteTimeout:      s.options.WriteTimeout,
		IdleTimeout:       s.options.IdleTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", addr)
	return nil
}

// Shutdown stops accepting new requests and waits for in-flight turns up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime":%q}`, time.Since(s.startTime).Round(time.Second))
}
