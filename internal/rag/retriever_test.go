package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeEmbedder returns a fixed vector per input text, keyed by a lookup map.
type fakeEmbedder struct {
	// vectors maps input text to its embedding.
	vectors map[string][]float32
	// err is returned from Embed when non-nil.
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out = append(out, v)
	}
	return out, nil
}

// seedStore fills a MemoryStore with n passages along distinct axes so
// similarity ordering is deterministic.
func seedStore(t *testing.T, n int) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()

	passages := make([]Passage, 0, n)
	embeddings := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		passages = append(passages, Passage{
			ID:   fmt.Sprintf("p%d", i),
			Text: fmt.Sprintf("passage %d", i),
		})
		// Each passage leans further away from the (1,0,0) query axis.
		embeddings = append(embeddings, []float32{1, float32(i), 0})
	}
	if err := store.Upsert(context.Background(), passages, embeddings); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}
	return store
}

func TestRetrieve_TopKOrdering(t *testing.T) {
	t.Parallel()

	store := seedStore(t, 5)
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"persistent cough": {1, 0, 0},
	}}

	r, err := NewRetriever(emb, store, 3)
	if err != nil {
		t.Fatalf("NewRetriever failed: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "persistent cough", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 passages, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("passages not ordered by non-increasing similarity: %v > %v at index %d",
				got[i].Score, got[i-1].Score, i)
		}
	}
	if got[0].ID != "p0" {
		t.Errorf("most similar passage: got %q, want %q", got[0].ID, "p0")
	}
}

func TestRetrieve_FewerEntriesThanK(t *testing.T) {
	t.Parallel()

	store := seedStore(t, 2)
	emb := &fakeEmbedder{vectors: map[string][]float32{}}

	r, err := NewRetriever(emb, store, 3)
	if err != nil {
		t.Fatalf("NewRetriever failed: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected all 2 passages when index has fewer than k, got %d", len(got))
	}
}

func TestRetrieve_EmptyIndexIsNotAnError(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	emb := &fakeEmbedder{vectors: map[string][]float32{}}

	r, err := NewRetriever(emb, store, 3)
	if err != nil {
		t.Fatalf("NewRetriever failed: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "knee pain", 0)
	if err != nil {
		t.Fatalf("empty index must not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected 0 passages from an empty index, got %d", len(got))
	}
}

func TestRetrieve_EmbedderFailurePropagates(t *testing.T) {
	t.Parallel()

	store := seedStore(t, 3)
	emb := &fakeEmbedder{err: errors.New("endpoint down")}

	r, err := NewRetriever(emb, store, 3)
	if err != nil {
		t.Fatalf("NewRetriever failed: %v", err)
	}

	if _, err := r.Retrieve(context.Background(), "q", 3); err == nil {
		t.Error("expected error when embedder fails, got nil")
	}
}

func TestNewRetriever_NilDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewRetriever(nil, NewMemoryStore(), 3); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewRetriever(&fakeEmbedder{}, nil, 3); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestMemoryStore_UpsertReplacesByID(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	first := []Passage{{ID: "chunk-1", Text: "stale text"}}
	if err := store.Upsert(ctx, first, [][]float32{{1, 0, 0}}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := []Passage{{ID: "chunk-1", Text: "fresh text"}}
	if err := store.Upsert(ctx, second, [][]float32{{0, 1, 0}}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.Search(ctx, []float32{0, 1, 0}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d passages, want 1 — re-upsert must replace, not duplicate", len(got))
	}
	if got[0].Text != "fresh text" {
		t.Errorf("got text %q, want the replacement", got[0].Text)
	}
	if got[0].Score < 0.99 {
		t.Errorf("score %f suggests the stale embedding survived", got[0].Score)
	}
}
