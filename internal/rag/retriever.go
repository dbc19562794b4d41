package rag

import (
	"context"
	"fmt"
)

// Retriever embeds a query and searches one namespace. Embedding and index
// failures are returned as *ProviderError.
type Retriever struct {
	embedder Embedder
	index    VectorIndex
}

// NewRetriever constructs a Retriever.
func NewRetriever(embedder Embedder, index VectorIndex) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	return &Retriever{embedder: embedder, index: index}, nil
}

// Retrieve returns the k passages in namespace most similar to query.
func (r *Retriever) Retrieve(ctx context.Context, namespace, query string, k int) ([]Passage, error) {
	vec, err := EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}
	passages, err := r.index.Query(ctx, namespace, vec, k)
	if err != nil {
		return nil, WrapProvider(StageIndex, err)
	}
	return passages, nil
}

// EmbedOne embeds a single text and checks the provider returned exactly one
// non-empty vector.
func EmbedOne(ctx context.Context, embedder Embedder, text string) ([]float32, error) {
	vecs, err := embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, WrapProvider(StageEmbed, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, WrapProvider(StageEmbed, fmt.Errorf("embedder returned %d vectors for 1 input", len(vecs)))
	}
	return vecs[0], nil
}
