package rag

import (
	"context"
	"fmt"
)

// defaultTopK is the number of passages returned when the caller passes 0.
// Three passages is enough grounding for a two-sentence answer without
// drowning the persona instructions.
const defaultTopK = 3

// DefaultRetriever implements the Retriever interface by combining an Embedder
// and a VectorStore. It embeds the query at retrieval time and delegates
// similarity search to the store.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// topK is the number of results to return when the caller passes 0.
	topK int
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and
// VectorStore. topK sets the fallback result count when Retrieve is called
// with topK=0.
func NewRetriever(embedder Embedder, store VectorStore, topK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	return &DefaultRetriever{
		embedder: embedder,
		store:    store,
		topK:     topK,
	}, nil
}

// Retrieve embeds the query and returns the top-k most similar passages,
// most similar first. If topK is 0 the default configured at construction
// time is used. An empty result slice is a valid outcome.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = r.topK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	passages, err := r.store.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	return passages, nil
}
