package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/thatsimo/yet-another-chatbot/internal/logging"
	"github.com/thatsimo/yet-another-chatbot/internal/store"
)

// NewSessionsCmd constructs the `yac sessions` command, which lists every
// session in the metadata store, newest first.
func NewSessionsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List chat sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, st, err := openStore(logging.New())
			if err != nil {
				return fmt.Errorf("sessions: %w", err)
			}
			defer func() { _ = st.Close() }()

			sessions, err := st.GetSessions(ctx)
			if err != nil {
				return fmt.Errorf("sessions: %w", err)
			}
			if sessions == nil {
				sessions = []store.Session{}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, sessions)
			}
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	return cmd
}

// history is the JSON shape printed by `yac history --json`, matching
// GET /chats/{session_id}.
type history struct {
	SessionID string          `json:"session_id"`
	Files     []string        `json:"files"`
	Messages  []store.Message `json:"messages"`
}

// NewHistoryCmd constructs the `yac history` command, which prints a
// session's uploaded files and its question/answer log.
func NewHistoryCmd() *cobra.Command {
	var sessionID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a session's files and Q&A history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, st, err := openStore(logging.New())
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer func() { _ = st.Close() }()

			if _, err := st.GetSession(ctx, sessionID); err != nil {
				return fmt.Errorf("history: %w", err)
			}
			files, err := st.GetFiles(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			messages, err := st.GetMessages(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				h := history{SessionID: sessionID, Files: files, Messages: messages}
				if h.Files == nil {
					h.Files = []string{}
				}
				if h.Messages == nil {
					h.Messages = []store.Message{}
				}
				return writeJSON(out, h)
			}

			fmt.Fprintf(out, "session %s\n", sessionID)
			fmt.Fprintln(out, "files:")
			for _, f := range files {
				fmt.Fprintf(out, "  %s\n", f)
			}
			for _, m := range messages {
				fmt.Fprintf(out, "\n[%s]\nQ: %s\nA: %s\n", m.Timestamp.Local().Format(time.DateTime), m.Question, m.Answer)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
