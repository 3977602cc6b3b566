// Package commands defines all Cobra CLI commands for the finqa binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/finqa-go/internal/audit"
	"github.com/54b3r/finqa-go/internal/config"
	"github.com/54b3r/finqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "finqa",
		Short: "finqa answers questions about financial filings",
		Long: `finqa is a retrieval-augmented question answering tool for financial
reports. It indexes PDF filings and Q&A datasets, answers questions from the
retrieved context with a language model, and grades its own confidence.

Model and embedding providers are selected via environment variables or a
YAML config file (~/.finqa/config.yaml).
See 'finqa --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.finqa/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewIndexCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return root
}
