// Package embedding defines the Embedder and Reranker contracts and the provider-resolution + content-hash cache wrapping them.
package embedding

import (
	"context"
	"errors"
)

// ErrBadConfig signals an unrecognized or missing provider configuration.
var ErrBadConfig = errors.New("embedding: bad config")

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// Candidate is one passage offered to a Reranker, carrying its prior
// retrieval score so the reranker can preserve it alongside its own.
type Candidate struct {
	Content                string
	Score                  float32
	OriginalRetrievalScore float32
	Metadata               map[string]any
}

// Reranker reorders candidates by a finer-grained relevance signal.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error)
}
