// Package vectorstore defines the dense-ANN vector store contract and its
// two backends: a local file-backed inner-product index (package local)
// and a managed-service REST client (package pinecone).
package vectorstore

import (
	"context"
	"errors"

	"github.com/sentorproj/sentor/pkg/knowledge"
)

// Sentinel errors.
var (
	ErrDimensionMismatch = errors.New("vectorstore: dimension mismatch")
	ErrNotFound          = errors.New("vectorstore: not found")
)

// Filter is a conjunctive metadata equality predicate set.
type Filter map[string]string

// Matches reports whether md satisfies every predicate in f.
func (f Filter) Matches(md knowledge.Metadata) bool {
	for k, v := range f {
		if md.String(k) != v {
			return false
		}
	}
	return true
}

// Result is one scored match from Query.
type Result struct {
	Score    float32
	ChunkID  string
	DocID    string
	Title    string
	Content  string
	DocType  string
	Source   string
	Metadata knowledge.Metadata
}

// Stats summarizes the store's contents.
type Stats struct {
	TotalVectors int
	Dimension    int
	ByDocType    map[string]int
	BySource     map[string]int
}

// Store is the vector-space contract every backend satisfies.
type Store interface {
	// Initialize creates an empty index. On the local backend it is safe to
	// call on an existing store and replaces its contents; the pinecone
	// backend treats it as a no-op.
	Initialize(ctx context.Context) error
	// Load restores the store's durable snapshot; a no-op for stateless
	// backends.
	Load(ctx context.Context) error
	// Save persists the store's durable snapshot; a no-op for stateless
	// backends.
	Save(ctx context.Context) error
	// Upsert inserts or replaces chunks. The local backend L2-normalizes
	// embeddings before insertion so inner product equals cosine
	// similarity; the pinecone backend sends them as given.
	Upsert(ctx context.Context, chunks []knowledge.Chunk) error
	// Query returns the top-k results by descending score, restricted to
	// chunks whose metadata satisfies filters.
	Query(ctx context.Context, q []float32, k int, filters Filter) ([]Result, error)
	// DeleteByDocIDs removes every chunk belonging to the given documents.
	// The local backend returns the number of chunks removed; the pinecone
	// backend returns len(docIDs), since its API reports no count.
	DeleteByDocIDs(ctx context.Context, docIDs []string) (int, error)
	// Stats reports aggregate counts.
	Stats(ctx context.Context) (Stats, error)
	// Dimension is this store's fixed vector-space dimension.
	Dimension() int
}
