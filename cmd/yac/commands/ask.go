package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thatsimo/yet-another-chatbot/internal/logging"
)

// NewAskCmd constructs the `yac ask` command, which answers one question
// against a session's documents and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var sessionID string
	var sources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a session's documents",
		Long: `Answer a question using only the documents uploaded to a session.

The question and answer are appended to the session history, exactly as
PUT /chats/{session_id} does.

Examples:
  yac ask --session 3f2a... "what is the total for Q3?"
  yac ask -s 3f2a... --sources "who signed the contract?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = rt.Close() }()

			engine, err := rt.engine(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			res, err := engine.Ask(ctx, sessionID, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Answer)
			if sources {
				for i, p := range res.Passages {
					fmt.Fprintf(out, "[%d] %s (score %.3f)\n", i+1, p.Source, p.Score)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to ask within (required)")
	cmd.Flags().BoolVar(&sources, "sources", false, "Print the retrieved passages' sources after the answer")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}
