// Package ingestion implements the reference-document ingestion pipeline.
// It loads medical reference material from local files or HTTP(S) URLs,
// splits the content into overlapping chunks, embeds each chunk, and
// upserts the results into the vector store. This pipeline is invoked by
// the `medvoice ingest` CLI command; the serving path only ever reads the
// index it produces.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sdhillon/medvoice-go/internal/rag"
)

// Source describes one reference document to be ingested: either a local
// file path or an HTTP(S) URL.
type Source struct {
	// Location is the file path or URL of the document.
	Location string

	// Title is a human-readable document title stored alongside each chunk.
	Title string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 500 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between
	// consecutive chunks. Defaults to 50 if zero.
	ChunkOverlap int

	// HTTPTimeout is the timeout for each URL fetch.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Pipeline orchestrates the load → chunk → embed → upsert flow for a set
// of reference documents.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient is used for URL sources.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "medvoice-go/1.0 (reference document ingestion)"
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}, nil
}

// Ingest loads, chunks, embeds, and stores all provided sources.
// It processes sources sequentially and returns the first error encountered.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, sources []Source, progress func(msg string)) error {
	if progress == nil {
		progress = func(string) {}
	}

	for _, src := range sources {
		progress(fmt.Sprintf("loading %s", src.Location))

		content, err := p.load(ctx, src.Location)
		if err != nil {
			return fmt.Errorf("ingestion: load failed for %s: %w", src.Location, err)
		}

		chunks := p.chunk(content)
		progress(fmt.Sprintf("chunked %s into %d chunks", src.Location, len(chunks)))
		if len(chunks) == 0 {
			continue
		}

		embeddings, err := p.embedder.Embed(ctx, chunks)
		if err != nil {
			return fmt.Errorf("ingestion: embedding failed for %s: %w", src.Location, err)
		}

		passages := make([]rag.Passage, 0, len(chunks))
		for i, chunk := range chunks {
			passages = append(passages, rag.Passage{
				ID:     chunkID(src.Location, i),
				Text:   chunk,
				Source: src.Location,
				Metadata: map[string]string{
					"title":       src.Title,
					"chunk_index": fmt.Sprintf("%d", i),
				},
			})
		}

		if err := p.store.Upsert(ctx, passages, embeddings); err != nil {
			return fmt.Errorf("ingestion: upsert failed for %s: %w", src.Location, err)
		}

		progress(fmt.Sprintf("ingested %d chunks from %s", len(chunks), src.Location))
	}

	return nil
}

// load reads the raw text of a source: HTTP(S) locations are fetched,
// anything else is treated as a local file path.
func (p *Pipeline) load(ctx context.Context, location string) (string, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return p.fetch(ctx, location)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

func (p *Pipeline) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	return string(body), nil
}

// chunk splits text into overlapping chunks of cfg.ChunkSize characters.
func (p *Pipeline) chunk(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}

	return chunks
}

// chunkID generates a deterministic UUID for a chunk based on its source
// location and chunk index. Re-ingesting the same document overwrites its
// existing points instead of duplicating them.
func chunkID(location string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", location, index))).String()
}
