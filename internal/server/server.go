// Package server exposes session-scoped document Q&A over HTTP: create a
// chat by uploading a document, add documents, ask questions and read back
// a chat's history. Health, readiness and Prometheus endpoints sit alongside.
// The server is started by the `yac serve` CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thatsimo/yet-another-chatbot/internal/logging"
)

const defaultMaxUploadBytes = 32 << 20

// New constructs a Server. engine answers questions, pipeline ingests
// uploads and sessions is the metadata store.
func New(engine asker, pipeline ingester, sessions sessionStore, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: query engine must not be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("server: ingestion pipeline must not be nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("server: session store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		asker:        engine,
		ingester:     pipeline,
		sessions:     sessions,
		cfg:          cfg,
		log:          log,
		pingers:      cfg.Pingers,
		metrics:      newServerMetrics(cfg.MetricsRegistry),
		newSessionID: newSessionID,
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stop

	if cfg.APIKey == "" {
		log.Warn("server: YAC_API_KEY not set, authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the handler tree. /chats routes are authenticated and
// rate limited; probes and metrics are not.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(pattern string, h http.HandlerFunc) (string, http.Handler) {
		return pattern, s.instrument(pattern, authMiddleware(s.cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle(protect("POST /chats", s.handleCreateChat))
	mux.Handle(protect("GET /chats", s.handleListChats))
	mux.Handle(protect("GET /chats/{session_id}", s.handleGetChat))
	mux.Handle(protect("PUT /chats/{session_id}", s.handleAsk))
	mux.Handle(protect("POST /chats/{session_id}/files", s.handleAddFile))
	mux.Handle("GET /api/health", s.instrument("GET /api/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("GET /api/ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, corsMiddleware(splitOrigins(s.cfg.CORSOrigins), mux))
}

// Handler returns the server's root handler. Tests drive it through
// httptest without binding a port.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer func() { _ = s.Close() }()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server stopped")
		return nil
	}
}

// Close releases the server's background workers without serving. Servers
// used only through Handler must be closed; Start closes on return. Close is
// safe to call more than once.
func (s *Server) Close() error {
	s.stopRL()
	return nil
}

// newSessionID returns a 32-character lowercase hex id.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
