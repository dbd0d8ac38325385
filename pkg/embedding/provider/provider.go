// Package provider resolves the production Embedder/Reranker with the
// documented precedence (explicit config → environment →
// availability → mock). It lives apart from package embedding itself
// because the mock backend imports embedding for the Embedder/Reranker
// contracts; a resolver living inside embedding and importing mock would
// be an import cycle.
package provider

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sentorproj/sentor/pkg/embedding"
	"github.com/sentorproj/sentor/pkg/embedding/crossencoder"
	"github.com/sentorproj/sentor/pkg/embedding/localmodel"
	"github.com/sentorproj/sentor/pkg/embedding/mock"
	"github.com/sentorproj/sentor/pkg/embedding/openaiapi"
)

// Config is the explicit-config input to Resolve. An empty Provider falls
// through to the environment, then to mock.
type Config struct {
	Provider string // "openai" | "sentence_transformers" | "mock" | ""
	OpenAI   openaiapi.Config
	Local    localmodel.Config
	MockDim  int
}

// RerankerConfig is the explicit-config input to ResolveReranker.
type RerankerConfig struct {
	Kind         string // "cross_encoder" | "none" | "mock" | ""
	CrossEncoder crossencoder.Config
}

// Resolve selects an Embedder. An empty explicit provider falls back to
// the EMBEDDINGS_PROVIDER environment variable; an empty environment value
// falls back to mock, logging a warning so the degrade path is visible in
// operation. An unrecognized provider name, explicit or from the
// environment, fails with ErrBadConfig.
func Resolve(cfg Config, logger *slog.Logger) (embedding.Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	prov := cfg.Provider
	if prov == "" {
		prov = os.Getenv("EMBEDDINGS_PROVIDER")
	}

	switch prov {
	case "openai":
		return openaiapi.New(cfg.OpenAI), nil
	case "sentence_transformers":
		return localmodel.New(cfg.Local), nil
	case "mock":
		return mock.New(cfg.MockDim), nil
	case "":
		logger.Warn("embedding: no provider configured, falling back to mock")
		return mock.New(cfg.MockDim), nil
	default:
		return nil, fmt.Errorf("%w: unrecognized EMBEDDINGS_PROVIDER %q", embedding.ErrBadConfig, prov)
	}
}

// ResolveReranker selects a Reranker. RERANKER selects between the
// cross-encoder sidecar, the token-overlap mock, and a pass-through;
// an empty selection resolves to the mock.
func ResolveReranker(cfg RerankerConfig) (embedding.Reranker, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = os.Getenv("RERANKER")
	}
	switch kind {
	case "cross_encoder":
		return crossencoder.New(cfg.CrossEncoder), nil
	case "none":
		return mock.PassthroughReranker{}, nil
	case "mock", "":
		return mock.NewReranker(), nil
	default:
		return nil, fmt.Errorf("%w: unrecognized RERANKER %q", embedding.ErrBadConfig, kind)
	}
}
