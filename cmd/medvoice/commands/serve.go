package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/sdhillon/medvoice-go/internal/logging"
	"github.com/sdhillon/medvoice-go/internal/server"
	"github.com/sdhillon/medvoice-go/internal/store"
	"github.com/sdhillon/medvoice-go/internal/tracing"
)

// NewServeCmd constructs the `medvoice serve` command, which starts the
// consultation HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MedVoice consultation HTTP API",
		Long: `Start the MedVoice HTTP server on localhost.

The server accepts voice or text medical questions, optionally with an
attached image, and returns a grounded answer plus a spoken rendition.

Examples:
  medvoice serve
  medvoice serve --port 9090
  MODEL_PROVIDER=gemini medvoice serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing is opt-in and a no-op when keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			p, qdrantStore, closeRetriever, err := buildPipeline(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeRetriever()

			// Open consultation history store. MEDVOICE_HISTORY_DB overrides
			// the default path (~/.medvoice/history.db). Set to "disabled" to
			// turn history off.
			var historyStore store.HistoryStore
			dbPath := os.Getenv("MEDVOICE_HISTORY_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = store.DefaultDBPath()
					if err != nil {
						log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
					}
				}
				if dbPath != "" {
					hs, hsErr := store.Open(dbPath)
					if hsErr != nil {
						log.Warn("history: failed to open store, disabling", slog.Any("error", hsErr))
					} else {
						historyStore = hs
						defer func() { _ = hs.Close() }()
						log.Info("history: store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("history: disabled via MEDVOICE_HISTORY_DB=disabled")
			}

			srv, err := server.New(p, &server.Config{
				Host:     host,
				Port:     port,
				Logger:   log,
				Pingers:  buildPingers(qdrantStore),
				APIKey:   os.Getenv("MEDVOICE_API_KEY"),
				AudioDir: os.Getenv("AUDIO_DIR"),
				History:  historyStore,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
