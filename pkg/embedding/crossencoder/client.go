// Package crossencoder implements embedding.Reranker against a
// cross-encoder model served over HTTP — the same sidecar shape as the
// local embedding provider, exposing a /rerank endpoint that scores
// (query, passage) pairs jointly.
package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sentorproj/sentor/pkg/embedding"
	"github.com/sentorproj/sentor/pkg/retryutil"
)

// Config configures the cross-encoder sidecar.
type Config struct {
	BaseURL string // default "http://localhost:8091"
	Model   string // default "cross-encoder/ms-marco-MiniLM-L-6-v2"
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8091"
	}
	if c.Model == "" {
		c.Model = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Reranker calls the sidecar's /rerank endpoint over HTTP.
type Reranker struct {
	cfg    Config
	client *http.Client
}

// New constructs a cross-encoder reranker.
func New(cfg Config) *Reranker {
	cfg = cfg.withDefaults()
	return &Reranker{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type rerankRequest struct {
	Model    string   `json:"model"`
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float32 `json:"scores"`
}

// Rerank implements embedding.Reranker. Each candidate's Score is replaced
// by the model's relevance; the prior retrieval score is preserved as
// OriginalRetrievalScore.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []embedding.Candidate, topK int) ([]embedding.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Content
	}
	reqBody, err := json.Marshal(rerankRequest{Model: r.cfg.Model, Query: query, Passages: passages})
	if err != nil {
		return nil, fmt.Errorf("embedding/crossencoder: marshal request: %w", err)
	}

	var scores []float32
	op := func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/rerank", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("embedding/crossencoder: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("embedding/crossencoder: request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("embedding/crossencoder: read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("embedding/crossencoder: server error %d: %s", resp.StatusCode, body)
		}
		if resp.StatusCode >= 300 {
			return retryutil.Permanent(fmt.Errorf("embedding/crossencoder: status %d: %s", resp.StatusCode, body))
		}

		var parsed rerankResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return retryutil.Permanent(fmt.Errorf("embedding/crossencoder: decode response: %w", err))
		}
		if len(parsed.Scores) != len(candidates) {
			return retryutil.Permanent(fmt.Errorf("embedding/crossencoder: got %d scores for %d passages", len(parsed.Scores), len(candidates)))
		}
		scores = parsed.Scores
		return nil
	}

	if err := retryutil.Do(ctx, 3, retryutil.DefaultStepPolicy, op); err != nil {
		return nil, err
	}

	out := make([]embedding.Candidate, len(candidates))
	for i, c := range candidates {
		c.OriginalRetrievalScore = c.Score
		c.Score = scores[i]
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}
