// Package commands defines all Cobra CLI commands for the yac binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/thatsimo/yet-another-chatbot/internal/audit"
	"github.com/thatsimo/yet-another-chatbot/internal/config"
	"github.com/thatsimo/yet-another-chatbot/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "yac",
		Short: "yac answers questions about the documents you upload to a chat",
		Long: `yac (yet another chatbot) answers questions using only the documents
uploaded to a chat session. Each session has its own isolated vector
namespace, so answers never draw on another session's files.

Supported uploads: pdf, xls, xlsx, xml.

The model provider is selected via MODEL_PROVIDER, the vector index via
VECTOR_BACKEND, or both from a YAML config file (~/.yac/config.yaml).
See 'yac --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Env vars always override YAML values.
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.yac/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewSessionsCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
