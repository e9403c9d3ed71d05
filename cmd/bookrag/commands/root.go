// Package commands defines all Cobra CLI commands for the bookrag binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bookwise/bookrag-go/internal/audit"
	"github.com/bookwise/bookrag-go/internal/config"
	"github.com/bookwise/bookrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bookrag",
		Short: "Index books and answer questions about them",
		Long: `bookrag turns a shelf of PDFs into a question-answering service.

Books are segmented, chunked, embedded and indexed into a per-author
vector store. Queries are routed, searched across the authors a user
follows, reranked and optionally turned into a grounded answer by a
chat model.

Model and embedding providers are selected via environment variables
or a YAML config file (~/.bookrag/config.yaml).
See 'bookrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Local .env files are a convenience for development; absence
			// is the normal case.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.bookrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewSearchCmd(),
		NewAskCmd(),
		NewSubscribeCmd(),
		NewStatsCmd(),
		NewVersionCmd(),
	)

	return root
}
