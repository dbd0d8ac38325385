// Package localmodel implements embedding.Embedder against a local
// sentence-transformers HTTP sidecar: it posts {"sentences": [...]} to
// /embed and reads {"embeddings": [...]} back.
package localmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentorproj/sentor/pkg/retryutil"
)

// Config configures the local embedding sidecar.
type Config struct {
	BaseURL   string // default "http://localhost:8090"
	Model     string // default "sentence-transformers/all-MiniLM-L6-v2"
	Dimension int    // default 384
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8090"
	}
	if c.Model == "" {
		c.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Embedder calls a local sidecar's /embed endpoint over HTTP.
type Embedder struct {
	cfg    Config
	client *http.Client
}

// New constructs a local-model embedder.
func New(cfg Config) *Embedder {
	cfg = cfg.withDefaults()
	return &Embedder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (e *Embedder) Dimension() int    { return e.cfg.Dimension }
func (e *Embedder) ModelName() string { return e.cfg.Model }

type embedRequest struct {
	Sentences []string `json:"sentences"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedBatch implements embedding.Embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embedRequest{Sentences: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding/localmodel: marshal request: %w", err)
	}

	var out [][]float32
	op := func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embed", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("embedding/localmodel: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("embedding/localmodel: request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("embedding/localmodel: read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("embedding/localmodel: server error %d: %s", resp.StatusCode, body)
		}
		if resp.StatusCode >= 300 {
			return retryutil.Permanent(fmt.Errorf("embedding/localmodel: status %d: %s", resp.StatusCode, body))
		}

		var parsed embedResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return retryutil.Permanent(fmt.Errorf("embedding/localmodel: decode response: %w", err))
		}
		out = parsed.Embeddings
		return nil
	}

	if err := retryutil.Do(ctx, 3, retryutil.DefaultStepPolicy, op); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedText implements embedding.Embedder.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
