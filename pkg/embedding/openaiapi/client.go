// Package openaiapi implements embedding.Embedder against a remote
// OpenAI-compatible embeddings endpoint over net/http.
package openaiapi

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

// Config configures the remote embedding provider.
type Config struct {
	APIKey    string
	BaseURL   string // default "https://api.openai.com/v1"
	Model     string // default "text-embedding-3-small"
	Dimension int    // default 1536
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Embedder calls a remote embeddings API over HTTP.
type Embedder struct {
	cfg    Config
	client *http.Client
}

// New constructs a remote embedder.
func New(cfg Config) *Embedder {
	cfg = cfg.withDefaults()
	return &Embedder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (e *Embedder) Dimension() int    { return e.cfg.Dimension }
func (e *Embedder) ModelName() string { return e.cfg.Model }

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *Embedder) call(ctx context.Context, inputs []string) ([][]float32, error) {
	reqBody, err := json.Marshal(embeddingsRequest{Model: e.cfg.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embedding/openaiapi: marshal request: %w", err)
	}

	var out [][]float32
	op := func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("embedding/openaiapi: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("embedding/openaiapi: request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("embedding/openaiapi: read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("embedding/openaiapi: server error %d: %s", resp.StatusCode, body)
		}
		if resp.StatusCode >= 300 {
			return retryutil.Permanent(fmt.Errorf("embedding/openaiapi: status %d: %s", resp.StatusCode, body))
		}

		var parsed embeddingsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return retryutil.Permanent(fmt.Errorf("embedding/openaiapi: decode response: %w", err))
		}
		vecs := make([][]float32, len(parsed.Data))
		for _, d := range parsed.Data {
			vecs[d.Index] = d.Embedding
		}
		out = vecs
		return nil
	}

	if err := retryutil.Do(ctx, 3, retryutil.DefaultStepPolicy, op); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedText implements embedding.Embedder.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embedding.Embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.call(ctx, texts)
}
