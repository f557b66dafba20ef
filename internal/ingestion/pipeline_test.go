package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sdhillon/medvoice-go/internal/rag"
)

type countingEmbedder struct {
	calls int
	texts []string
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func Test_Chunk_SizeAndOverlap(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline(&countingEmbedder{}, rag.NewMemoryStore(), &Config{ChunkSize: 500, ChunkOverlap: 50})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	text := strings.Repeat("a", 1200)
	chunks := p.chunk(text)

	// Stride is 450: chunks start at 0, 450, 900.
	if len(chunks) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 500 || len(chunks[1]) != 500 {
		t.Errorf("full chunks should be 500 chars, got %d and %d", len(chunks[0]), len(chunks[1]))
	}
	if len(chunks[2]) != 300 {
		t.Errorf("tail chunk should be 300 chars, got %d", len(chunks[2]))
	}
	// Consecutive chunks share the configured overlap.
	if chunks[0][450:] != chunks[1][:50] {
		t.Error("chunks 0 and 1 do not overlap by 50 chars")
	}
}

func Test_Chunk_ShortAndEmptyInput(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline(&countingEmbedder{}, rag.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if got := p.chunk("   \n  "); got != nil {
		t.Errorf("blank input should produce no chunks, got %v", got)
	}
	if got := p.chunk("short note"); len(got) != 1 || got[0] != "short note" {
		t.Errorf("short input should be one chunk, got %v", got)
	}
}

func Test_Ingest_LocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reference.md")
	content := strings.Repeat("fever and chills often accompany infection. ", 30)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	embedder := &countingEmbedder{}
	store := rag.NewMemoryStore()
	p, err := NewPipeline(embedder, store, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	var progress []string
	err = p.Ingest(context.Background(), []Source{{Location: path, Title: "Reference"}}, func(msg string) {
		progress = append(progress, msg)
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if embedder.calls != 1 {
		t.Errorf("embedder calls = %d, want one batch per source", embedder.calls)
	}
	if len(embedder.texts) < 2 {
		t.Errorf("long document should produce multiple chunks, got %d", len(embedder.texts))
	}
	if len(progress) == 0 {
		t.Error("progress callback was never invoked")
	}

	got, err := store.Search(context.Background(), []float32{500, 1}, 100)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != len(embedder.texts) {
		t.Errorf("store holds %d passages, want %d", len(got), len(embedder.texts))
	}
	for _, passage := range got {
		if passage.Source != path {
			t.Errorf("passage source = %q, want %q", passage.Source, path)
		}
		if passage.Metadata["title"] != "Reference" {
			t.Errorf("passage title = %q", passage.Metadata["title"])
		}
	}
}

func Test_Ingest_URLSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "A sore throat usually resolves on its own within a week.")
	}))
	defer srv.Close()

	embedder := &countingEmbedder{}
	store := rag.NewMemoryStore()
	p, err := NewPipeline(embedder, store, nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if err := p.Ingest(context.Background(), []Source{{Location: srv.URL, Title: "Web"}}, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(embedder.texts) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(embedder.texts))
	}
}

func Test_Ingest_MissingFileFails(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(&countingEmbedder{}, rag.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	err = p.Ingest(context.Background(), []Source{{Location: "/does/not/exist.txt"}}, nil)
	if err == nil {
		t.Fatal("want error for missing source file")
	}
}

func Test_ChunkID_Deterministic(t *testing.T) {
	t.Parallel()

	if chunkID("a.txt", 0) != chunkID("a.txt", 0) {
		t.Error("same source and index should produce the same ID")
	}
	if chunkID("a.txt", 0) == chunkID("a.txt", 1) {
		t.Error("different indices should produce different IDs")
	}
	if chunkID("a.txt", 0) == chunkID("b.txt", 0) {
		t.Error("different sources should produce different IDs")
	}
}
