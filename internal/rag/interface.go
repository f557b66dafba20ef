// Package rag defines the interfaces for the retrieval layer that grounds
// consultations in reference-document passages: vector storage, passage
// retrieval, and embedding. Concrete implementations (Qdrant, in-memory)
// satisfy these interfaces so the pipeline never depends on a specific backend.
package rag

import (
	"context"
)

// Passage is a unit of reference text retrieved for (or stored in) the index.
type Passage struct {
	// ID is the unique identifier for this passage.
	ID string

	// Text is the raw text content of the passage.
	Text string

	// Source is the origin URI or file path of the document the passage
	// was chunked from.
	Source string

	// Metadata holds arbitrary key-value pairs (document title, chunk index, etc.).
	Metadata map[string]string

	// Score is the similarity score assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// VectorStore is the interface for persisting and searching passage embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of passages with their pre-computed
	// embeddings. The embeddings slice must be parallel to passages —
	// embeddings[i] is the vector for passages[i].
	Upsert(ctx context.Context, passages []Passage, embeddings [][]float32) error

	// Search performs a semantic similarity search and returns the top-k
	// most relevant passages for the given query embedding, most similar
	// first. Fewer than k stored passages means all of them are returned.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Passage, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level interface the pipeline uses to fetch grounding
// context for a query. It combines embedding and vector search.
// An empty result is valid output, not an error — weak or absent matches
// degrade the prompt, they never abort a consultation.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the top-k most relevant passages for the given query,
	// ordered by non-increasing similarity.
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}
