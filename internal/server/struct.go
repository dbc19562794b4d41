package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thatsimo/yet-another-chatbot/internal/ingestion"
	"github.com/thatsimo/yet-another-chatbot/internal/qa"
	"github.com/thatsimo/yet-another-chatbot/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request, including
	// the upload body.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed the provider timeout or slow answers are cut off.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /chats
	// routes (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /chats routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string
	// MaxUploadBytes caps a multipart upload. Defaults to 32 MiB if zero.
	MaxUploadBytes int64
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// asker answers a question within one session. *qa.Engine satisfies it.
type asker interface {
	Ask(ctx context.Context, sessionID, question string) (qa.Result, error)
}

// ingester adds a document to a session. *ingestion.Pipeline satisfies it.
type ingester interface {
	Supports(filename string) error
	Ingest(ctx context.Context, sessionID, filename string, data []byte) (ingestion.Result, error)
}

// sessionStore is the read side of the metadata store plus session creation.
// *store.SQLiteStore satisfies it.
type sessionStore interface {
	CreateSession(ctx context.Context, id string) (store.Session, error)
	GetSession(ctx context.Context, id string) (store.Session, error)
	GetFiles(ctx context.Context, sessionID string) ([]string, error)
	GetMessages(ctx context.Context, sessionID string) ([]store.Message, error)
	GetSessions(ctx context.Context) ([]store.Session, error)
}

// Server is the HTTP front-end for session-scoped question answering.
type Server struct {
	asker    asker
	ingester ingester
	sessions sessionStore
	cfg      *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	log        *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	metrics *serverMetrics
	// stopRL stops the rate limiter sweeper. Idempotent.
	stopRL func()
	// newSessionID generates ids for POST /chats; tests replace it.
	newSessionID func() string
}

// createChatResponse is the JSON body for POST /chats and
// POST /chats/{session_id}/files.
type createChatResponse struct {
	SessionID string   `json:"session_id"`
	Files     []string `json:"files"`
}

// askResponse is the JSON body for PUT /chats/{session_id}.
type askResponse struct {
	Answer string `json:"answer"`
}

// chatResponse is the JSON body for GET /chats/{session_id}.
type chatResponse struct {
	SessionID string          `json:"session_id"`
	Files     []string        `json:"files"`
	Messages  []store.Message `json:"messages"`
}
