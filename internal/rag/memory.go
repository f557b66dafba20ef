package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force cosine similarity VectorStore held entirely
// in memory. It serves keyless local deployments and unit tests where a
// Qdrant instance is not available. Safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	passages   []Passage
	embeddings [][]float32
	byID       map[string]int
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

// Upsert stores the passages and their embeddings. A passage whose ID is
// already present replaces the stored entry, matching the overwrite
// semantics of the Qdrant store. embeddings[i] must be the vector for
// passages[i].
func (s *MemoryStore) Upsert(_ context.Context, passages []Passage, embeddings [][]float32) error {
	if len(passages) != len(embeddings) {
		return fmt.Errorf("memory store: passages/embeddings length mismatch: %d vs %d", len(passages), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range passages {
		if at, ok := s.byID[p.ID]; ok {
			s.passages[at] = p
			s.embeddings[at] = embeddings[i]
			continue
		}
		s.byID[p.ID] = len(s.passages)
		s.passages = append(s.passages, p)
		s.embeddings = append(s.embeddings, embeddings[i])
	}
	return nil
}

// Search scores every stored passage against the query embedding by cosine
// similarity and returns the top-k, most similar first. Fewer than k stored
// passages means all of them are returned.
func (s *MemoryStore) Search(_ context.Context, queryEmbedding []float32, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]Passage, len(s.passages))
	for i, p := range s.passages {
		p.Score = cosine(s.embeddings[i], queryEmbedding)
		scored[i] = p
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topK > len(scored) {
		topK = len(scored)
	}
	return scored[:topK], nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// cosine returns the cosine similarity of a and b. Mismatched lengths are
// scored over the shorter prefix; zero vectors score 0.
func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
