package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thatsimo/yet-another-chatbot/internal/logging"
	"github.com/thatsimo/yet-another-chatbot/internal/server"
	"github.com/thatsimo/yet-another-chatbot/internal/tracing"
	"github.com/thatsimo/yet-another-chatbot/internal/version"
)

// NewServeCmd constructs the `yac serve` command, which starts the HTTP API
// consumed by the web front-end.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the yac HTTP server",
		Long: `Start the yac HTTP server.

Routes:
  POST /chats                       create a chat from a first document
  GET  /chats                       list chats
  GET  /chats/{session_id}          files and Q&A history of a chat
  PUT  /chats/{session_id}          ask a question
  POST /chats/{session_id}/files    add a document to a chat
  GET  /api/health, /api/ready      liveness and readiness
  GET  /metrics                     Prometheus metrics

Examples:
  yac serve
  yac serve --port 9090
  VECTOR_BACKEND=pgvector PGVECTOR_DSN=postgres://... yac serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("version", version.String()))

			flush := tracing.Install(tracing.ConfigFromEnv(), log)
			defer flush()

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = rt.Close() }()

			engine, err := rt.engine(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			pipeline, err := rt.pipeline()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if cmd.Flags().Changed("host") {
				rt.cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				rt.cfg.Port = port
			}

			srv, err := server.New(engine, pipeline, rt.store, &server.Config{
				Host:           rt.cfg.Host,
				Port:           rt.cfg.Port,
				Logger:         log,
				Pingers:        rt.pingers,
				RateLimit:      rt.cfg.RateLimit,
				RateBurst:      rt.cfg.RateBurst,
				APIKey:         rt.cfg.APIKey,
				CORSOrigins:    rt.cfg.CORSOrigins,
				MaxUploadBytes: rt.cfg.MaxUploadBytes,
				// Retrieval and generation each get the full provider timeout.
				WriteTimeout: 2*rt.cfg.ProviderTimeout + 30*time.Second,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides YAC_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides YAC_PORT)")

	return cmd
}
