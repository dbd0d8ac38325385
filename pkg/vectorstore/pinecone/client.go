// Package pinecone implements the vectorstore.Store contract against the
// Pinecone REST API over net/http. The YAML key vector_store.backend:
// pinecone names this backend; no VECTOR_STORE environment variable is read.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentorproj/sentor/pkg/knowledge"
	"github.com/sentorproj/sentor/pkg/vectorstore"
)

// Config configures a Pinecone-backed store.
type Config struct {
	APIKey    string
	IndexHost string // per-index data-plane host, e.g. "my-idx-xxxx.svc.region.pinecone.io"
	Namespace string
	Dimension int
	Timeout   time.Duration
}

// Store implements vectorstore.Store against Pinecone's data-plane API.
// Initialize/Load/Save are no-ops: the managed service is always the durable
// copy, there is nothing to snapshot locally.
type Store struct {
	cfg    Config
	client *http.Client
}

// New constructs a Pinecone-backed store. The index and its dimension are
// assumed to already exist; this client never calls the control plane.
func New(cfg Config) *Store {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Store{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *Store) Dimension() int { return s.cfg.Dimension }

// Initialize, Load, Save implement vectorstore.Store as no-ops: Pinecone is
// itself the durable store.
func (s *Store) Initialize(ctx context.Context) error { return nil }
func (s *Store) Load(ctx context.Context) error       { return nil }
func (s *Store) Save(ctx context.Context) error       { return nil }

func (s *Store) url(path string) string {
	return fmt.Sprintf("https://%s%s", s.cfg.IndexHost, path)
}

func (s *Store) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("vectorstore/pinecone: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url(path), reader)
	if err != nil {
		return fmt.Errorf("vectorstore/pinecone: build request: %w", err)
	}
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-API-Version", "2024-07")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("vectorstore/pinecone: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("vectorstore/pinecone: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vectorstore/pinecone: %s %s returned %d: %s", method, path, resp.StatusCode, respBody)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("vectorstore/pinecone: decode response: %w", err)
		}
	}
	return nil
}

type upsertVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []upsertVector `json:"vectors"`
	Namespace string         `json:"namespace,omitempty"`
}

func chunkMetadata(c knowledge.Chunk) map[string]any {
	md := map[string]any{
		"doc_id":     c.DocID,
		"title":      c.Title,
		"content":    c.Content,
		"chunk_type": c.ChunkType,
	}
	for k, v := range c.Metadata {
		md[k] = v
	}
	return md
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, chunks []knowledge.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors := make([]upsertVector, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != s.cfg.Dimension {
			return fmt.Errorf("%w: got %d want %d", vectorstore.ErrDimensionMismatch, len(c.Embedding), s.cfg.Dimension)
		}
		vectors = append(vectors, upsertVector{
			ID:       c.ID,
			Values:   c.Embedding,
			Metadata: chunkMetadata(c),
		})
	}
	return s.do(ctx, http.MethodPost, "/vectors/upsert", upsertRequest{
		Vectors:   vectors,
		Namespace: s.cfg.Namespace,
	}, nil)
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Namespace       string         `json:"namespace,omitempty"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryMatch struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

type queryResponse struct {
	Matches []queryMatch `json:"matches"`
}

func toFilter(f vectorstore.Filter) map[string]any {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = map[string]any{"$eq": v}
	}
	return out
}

// Query implements vectorstore.Store.
func (s *Store) Query(ctx context.Context, q []float32, k int, filters vectorstore.Filter) ([]vectorstore.Result, error) {
	if len(q) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: got %d want %d", vectorstore.ErrDimensionMismatch, len(q), s.cfg.Dimension)
	}

	var resp queryResponse
	err := s.do(ctx, http.MethodPost, "/query", queryRequest{
		Vector:          q,
		TopK:            k,
		Namespace:       s.cfg.Namespace,
		Filter:          toFilter(filters),
		IncludeMetadata: true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	results := make([]vectorstore.Result, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		md := knowledge.Metadata(m.Metadata)
		results = append(results, vectorstore.Result{
			Score:    m.Score,
			ChunkID:  m.ID,
			DocID:    md.String("doc_id"),
			Title:    md.String("title"),
			Content:  md.String("content"),
			DocType:  md.String("doc_type"),
			Source:   md.String("source"),
			Metadata: md,
		})
	}
	return results, nil
}

type deleteRequest struct {
	IDs       []string `json:"ids,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
	Filter    map[string]any `json:"filter,omitempty"`
}

// DeleteByDocIDs implements vectorstore.Store. Pinecone deletes by metadata
// filter directly; the server-side count of deleted vectors is not reported
// by the API, so the best available count is len(docIDs) matched documents
// rather than chunks.
func (s *Store) DeleteByDocIDs(ctx context.Context, docIDs []string) (int, error) {
	if len(docIDs) == 0 {
		return 0, nil
	}
	err := s.do(ctx, http.MethodPost, "/vectors/delete", deleteRequest{
		Namespace: s.cfg.Namespace,
		Filter:    map[string]any{"doc_id": map[string]any{"$in": docIDs}},
	}, nil)
	if err != nil {
		return 0, err
	}
	return len(docIDs), nil
}

type describeIndexStatsResponse struct {
	TotalVectorCount int `json:"totalVectorCount"`
	Namespaces       map[string]struct {
		VectorCount int `json:"vectorCount"`
	} `json:"namespaces"`
}

// Stats implements vectorstore.Store. Pinecone's stats endpoint does not
// break counts down by doc_type/source, so those maps are always empty;
// callers needing that breakdown should use the local backend.
func (s *Store) Stats(ctx context.Context) (vectorstore.Stats, error) {
	var resp describeIndexStatsResponse
	if err := s.do(ctx, http.MethodPost, "/describe_index_stats", struct{}{}, &resp); err != nil {
		return vectorstore.Stats{}, err
	}
	total := resp.TotalVectorCount
	if ns, ok := resp.Namespaces[s.cfg.Namespace]; ok {
		total = ns.VectorCount
	}
	return vectorstore.Stats{
		TotalVectors: total,
		Dimension:    s.cfg.Dimension,
		ByDocType:    map[string]int{},
		BySource:     map[string]int{},
	}, nil
}
