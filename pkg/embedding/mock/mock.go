// Package mock provides deterministic, hash-seeded Embedder and Reranker
// implementations for tests and offline operation: fakes that satisfy the
// production interfaces without any network dependency.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"
	"strings"

	"github.com/sentorproj/sentor/pkg/embedding"
)

// Embedder deterministically derives a unit vector from the SHA-256 of the
// input text, so the same text always embeds to the same vector and
// unrelated texts are (with overwhelming probability) not collinear.
type Embedder struct {
	dim int
}

// New constructs a mock embedder with the given dimension.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = 8
	}
	return &Embedder{dim: dim}
}

func (e *Embedder) Dimension() int    { return e.dim }
func (e *Embedder) ModelName() string { return "mock-hash-embedder" }

// EmbedText implements embedding.Embedder.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, e.dim)
	var sumSq float64
	for i := 0; i < e.dim; i++ {
		// Walk the 32-byte digest cyclically, 4 bytes at a time, to fill an
		// arbitrary-length vector from a fixed-size hash.
		off := (i * 4) % (len(seed) - 3)
		raw := binary.BigEndian.Uint32(seed[off : off+4])
		v := float64(raw)/float64(^uint32(0))*2 - 1 // map to [-1, 1]
		vec[i] = float32(v)
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// EmbedBatch implements embedding.Embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Reranker scores candidates by query-token overlap fraction.
type Reranker struct{}

// NewReranker constructs a token-overlap mock reranker.
func NewReranker() *Reranker { return &Reranker{} }

func tokenize(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Rerank implements embedding.Reranker.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []embedding.Candidate, topK int) ([]embedding.Candidate, error) {
	qTokens := tokenize(query)
	out := make([]embedding.Candidate, len(candidates))
	copy(out, candidates)

	for i, c := range out {
		cTokens := tokenize(c.Content)
		if len(cTokens) == 0 || len(qTokens) == 0 {
			out[i].OriginalRetrievalScore = c.Score
			out[i].Score = 0
			continue
		}
		overlap := 0
		for t := range qTokens {
			if _, ok := cTokens[t]; ok {
				overlap++
			}
		}
		out[i].OriginalRetrievalScore = c.Score
		out[i].Score = float32(overlap) / float32(len(qTokens))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

// PassthroughReranker leaves candidates in their original order, recording
// the original score into OriginalRetrievalScore without changing ranking.
type PassthroughReranker struct{}

// Rerank implements embedding.Reranker.
func (PassthroughReranker) Rerank(ctx context.Context, query string, candidates []embedding.Candidate, topK int) ([]embedding.Candidate, error) {
	out := make([]embedding.Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = c
		out[i].OriginalRetrievalScore = c.Score
	}
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}
