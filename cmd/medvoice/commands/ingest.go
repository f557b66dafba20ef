package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdhillon/medvoice-go/internal/embedder"
	"github.com/sdhillon/medvoice-go/internal/ingestion"
	"github.com/sdhillon/medvoice-go/internal/logging"
	"github.com/sdhillon/medvoice-go/internal/rag"
)

// NewIngestCmd constructs the `medvoice ingest` command, which indexes
// reference medical documents into the Qdrant vector store.
func NewIngestCmd() *cobra.Command {
	var files []string
	var urls []string
	var title string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest reference documents into the vector store",
		Long: `Chunk, embed, and index reference medical documents into Qdrant.

Indexed passages are retrieved at consultation time to ground the doctor's
answers in the reference material.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: medvoice-refs)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  medvoice ingest --file gale_encyclopedia.txt
  medvoice ingest --url https://example.org/dermatology-atlas.txt --title "Dermatology Atlas"
  medvoice ingest --file part1.txt --file part2.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if len(files) == 0 && len(urls) == 0 {
				return fmt.Errorf("ingest: at least one --file or --url is required")
			}
			titleSet := cmd.Flags().Changed("title")
			if titleSet && len(files)+len(urls) > 1 {
				return fmt.Errorf("ingest: --title applies to a single source")
			}

			if err := embedder.ValidateForRetrieval(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			embBackend := embedder.ResolveBackend()
			log.Info("embedder initialised", slog.String("provider", embBackend))

			qdrantHost := getEnvOrDefault("QDRANT_HOST", "localhost")
			qdrantPort := getEnvInt("QDRANT_PORT", 6334)
			collection := getEnvOrDefault("QDRANT_COLLECTION", "medvoice-refs")
			vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

			store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
				Host:       qdrantHost,
				Port:       qdrantPort,
				Collection: collection,
				VectorSize: vectorSize,
				APIKey:     os.Getenv("QDRANT_API_KEY"),
				UseTLS:     os.Getenv("QDRANT_TLS") == "true",
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to connect to Qdrant at %s:%d: %w", qdrantHost, qdrantPort, err)
			}
			defer store.Close()
			log.Info("qdrant store ready", slog.String("host", qdrantHost), slog.Int("port", qdrantPort), slog.String("collection", collection))

			pipeline, err := ingestion.NewPipeline(emb, store, nil)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			sources := make([]ingestion.Source, 0, len(files)+len(urls))
			for _, loc := range append(append([]string{}, files...), urls...) {
				src := ingestion.Source{Location: loc}
				if titleSet {
					src.Title = title
				} else {
					src.Title = inferTitle(loc)
				}
				sources = append(sources, src)
			}

			log.Info("starting ingestion", slog.Int("sources", len(sources)))

			if err := pipeline.Ingest(ctx, sources, func(msg string) {
				log.Info(msg)
			}); err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete", slog.Int("sources", len(sources)))
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Local document file to ingest (repeatable)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Document URL to ingest (repeatable)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Title recorded in passage metadata (single source only)")

	return cmd
}

// inferTitle derives a human-readable title from the source location: the
// base filename with its extension stripped.
func inferTitle(location string) string {
	base := filepath.Base(location)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
