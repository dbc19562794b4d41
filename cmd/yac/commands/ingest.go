package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/thatsimo/yet-another-chatbot/internal/logging"
)

// NewIngestCmd constructs the `yac ingest` command, which adds local files
// to a chat session without going through the HTTP server.
func NewIngestCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Add documents to a chat session",
		Long: `Extract, embed and index local documents into a chat session.

Without --session a new session is created and its id printed. With
--session the files are added to that session, creating it if it does not
exist yet. Files are processed in order; the first failure stops the run.

Supported formats: pdf, xls, xlsx, xml.

Examples:
  yac ingest report.pdf
  yac ingest --session 3f2a... budget.xlsx export.xml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = rt.Close() }()

			pipeline, err := rt.pipeline()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			// Reject unsupported files before any session is created.
			for _, path := range args {
				if err := pipeline.Supports(filepath.Base(path)); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			}

			if sessionID == "" {
				sessionID = strings.ReplaceAll(uuid.NewString(), "-", "")
			}
			exists, err := rt.store.SessionExists(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if !exists {
				if _, err := rt.store.CreateSession(ctx, sessionID); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("session created", slog.String("session_id", sessionID))
			}

			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				res, err := pipeline.Ingest(ctx, sessionID, filepath.Base(path), data)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				fmt.Fprintf(out, "ingested %s (%d chars)\n", res.Filename, res.Chars)
			}
			fmt.Fprintf(out, "session: %s\n", sessionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to add the files to (default: new session)")

	return cmd
}
