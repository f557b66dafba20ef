// Package commands defines all Cobra CLI commands for the medvoice binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sdhillon/medvoice-go/internal/audit"
	"github.com/sdhillon/medvoice-go/internal/config"
	"github.com/sdhillon/medvoice-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "medvoice",
		Short: "MedVoice — a retrieval-grounded medical voice assistant",
		Long: `MedVoice answers spoken or typed medical questions, optionally with an
attached image, and replies with both text and synthesized speech.

Questions are grounded in reference passages retrieved from a vector store,
sent to a multimodal generation backend, and spoken through a two-tier
synthesis chain that degrades gracefully when the primary voice fails.

Backends are selected via environment variables (GROQ_API_KEY,
MODEL_PROVIDER, ELEVEN_API_KEY, ...) or a YAML config file
(~/.medvoice/config.yaml). See 'medvoice --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A local .env is convenient in development; absence is fine.
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

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.medvoice/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
