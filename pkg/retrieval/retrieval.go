// Package retrieval implements the RAG query engine: embed a
// query, fetch candidates from the vector store, filter by score, rerank.
package retrieval

import (
	"context"
	"fmt"

	"github.com/sentorproj/sentor/pkg/embedding"
	"github.com/sentorproj/sentor/pkg/vectorstore"
)

// Query is the input to Engine.Query.
type Query struct {
	Text       string
	Filters    vectorstore.Filter
	K          int
	MinScore   float32
	MaxResults int
}

// Result is one scored, provenance-carrying passage.
type Result struct {
	Content                string
	Score                  float32
	OriginalRetrievalScore float32
	Source                 string
	DocType                string
	Metadata               map[string]any
}

const defaultRetrieveK = 20

// Engine composes an Embedder, a vectorstore.Store, and a Reranker into the
// RAG retrieval contract.
type Engine struct {
	store    vectorstore.Store
	embedder embedding.Embedder
	reranker embedding.Reranker
}

// New constructs a retrieval engine. It does not check that the store's and
// the embedder's dimensions agree (index.New makes that check for the
// builder); a mismatch surfaces from Query as
// vectorstore.ErrDimensionMismatch.
func New(store vectorstore.Store, embedder embedding.Embedder, reranker embedding.Reranker) *Engine {
	return &Engine{store: store, embedder: embedder, reranker: reranker}
}

// Query embeds the query text, over-fetches candidates from the store
// under the context's filters, drops those below MinScore (zero disables
// the threshold), and reranks the remainder down to K.
func (e *Engine) Query(ctx context.Context, q Query) ([]Result, error) {
	if q.K <= 0 {
		q.K = 5
	}

	vec, err := e.embedder.EmbedText(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	retrieveK := defaultRetrieveK
	if 2*q.K > retrieveK {
		retrieveK = 2 * q.K
	}
	if q.MaxResults > 0 && retrieveK > q.MaxResults {
		retrieveK = q.MaxResults
	}

	candidates, err := e.store.Query(ctx, vec, retrieveK, q.Filters)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector store query: %w", err)
	}

	filtered := make([]embedding.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if q.MinScore > 0 && c.Score < q.MinScore {
			continue
		}
		filtered = append(filtered, embedding.Candidate{
			Content:  c.Content,
			Score:    c.Score,
			Metadata: c.Metadata,
		})
	}

	reranked, err := e.reranker.Rerank(ctx, q.Text, filtered, q.K)
	if err != nil {
		return nil, fmt.Errorf("retrieval: rerank: %w", err)
	}

	// Recover provenance (source/doc_type) by content match: the reranker
	// contract only carries content+score, not the full vectorstore.Result.
	bySignature := make(map[string]vectorstore.Result, len(candidates))
	for _, c := range candidates {
		bySignature[c.Content] = c
	}

	out := make([]Result, 0, len(reranked))
	for _, r := range reranked {
		prov := bySignature[r.Content]
		out = append(out, Result{
			Content:                r.Content,
			Score:                  r.Score,
			OriginalRetrievalScore: r.OriginalRetrievalScore,
			Source:                 prov.Source,
			DocType:                prov.DocType,
			Metadata:               r.Metadata,
		})
	}
	return out, nil
}
