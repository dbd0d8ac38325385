// Package config loads the deployment-time tunables this module's
// narrow-interface components resolve against: a YAML tree with ${VAR}
// environment expansion
// (github.com/joho/godotenv for .env loading, os.ExpandEnv for in-place
// substitution) validated with struct tags before being handed to
// component constructors.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sentorproj/sentor/pkg/bus"
	"github.com/sentorproj/sentor/pkg/embedding/crossencoder"
	"github.com/sentorproj/sentor/pkg/embedding/localmodel"
	"github.com/sentorproj/sentor/pkg/embedding/openaiapi"
	"github.com/sentorproj/sentor/pkg/orchestrator"
	"github.com/sentorproj/sentor/pkg/vectorstore/pinecone"
)

// BusConfig is the YAML-facing view of bus.Config plus the NATS URL the
// bus package itself doesn't own.
type BusConfig struct {
	URL           string        `yaml:"url" validate:"required,url"`
	StreamName    string        `yaml:"stream_name" validate:"omitempty"`
	MaxAckPending int           `yaml:"max_ack_pending" validate:"omitempty,gt=0"`
	MaxDeliver    int           `yaml:"max_deliver" validate:"omitempty,gt=0"`
	Backoff       BackoffConfig `yaml:"backoff"`
}

// BackoffConfig mirrors bus.BackoffConfig with YAML-parseable durations.
type BackoffConfig struct {
	Base   time.Duration `yaml:"base" validate:"omitempty,gt=0"`
	Factor float64       `yaml:"factor" validate:"omitempty,gt=1"`
	Cap    time.Duration `yaml:"cap" validate:"omitempty,gt=0"`
}

// ToBusConfig converts the YAML view to bus.Config, substituting
// bus.DefaultConfig()'s values for anything left zero.
func (b BusConfig) ToBusConfig() bus.Config {
	def := bus.DefaultConfig()
	cfg := bus.Config{
		StreamName:    b.StreamName,
		MaxAckPending: b.MaxAckPending,
		MaxDeliver:    b.MaxDeliver,
		Backoff: bus.BackoffConfig{
			Base:   b.Backoff.Base,
			Factor: b.Backoff.Factor,
			Cap:    b.Backoff.Cap,
		},
	}
	if cfg.StreamName == "" {
		cfg.StreamName = def.StreamName
	}
	if cfg.MaxAckPending == 0 {
		cfg.MaxAckPending = def.MaxAckPending
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = def.MaxDeliver
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff.Base = def.Backoff.Base
	}
	if cfg.Backoff.Factor == 0 {
		cfg.Backoff.Factor = def.Backoff.Factor
	}
	if cfg.Backoff.Cap == 0 {
		cfg.Backoff.Cap = def.Backoff.Cap
	}
	return cfg
}

// VectorStoreConfig selects and tunes the C3 backend; this module's local file-backed
// store plays the "faiss" role.
type VectorStoreConfig struct {
	Backend   string         `yaml:"backend" validate:"omitempty,oneof=faiss pinecone"`
	Dimension int            `yaml:"dimension" validate:"required,gt=0"`
	LocalDir  string         `yaml:"local_dir" validate:"omitempty"`
	Pinecone  PineconeConfig `yaml:"pinecone"`
}

// PineconeConfig is the YAML-facing view of pinecone.Config. APIKey is
// deliberately not validated `required` here: it is resolved from the
// PINECONE_API_KEY environment variable at construction time when blank,
// explicit config wins over the environment for API keys and URLs.
type PineconeConfig struct {
	APIKey    string        `yaml:"api_key"`
	IndexHost string        `yaml:"index_host" validate:"omitempty"`
	Namespace string        `yaml:"namespace"`
	Timeout   time.Duration `yaml:"timeout" validate:"omitempty,gt=0"`
}

func (p PineconeConfig) toPineconeConfig(dimension int) pinecone.Config {
	apiKey := p.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("PINECONE_API_KEY")
	}
	indexHost := p.IndexHost
	if indexHost == "" {
		indexHost = os.Getenv("PINECONE_INDEX_HOST")
	}
	return pinecone.Config{
		APIKey:    apiKey,
		IndexHost: indexHost,
		Namespace: p.Namespace,
		Dimension: dimension,
		Timeout:   p.Timeout,
	}
}

// EmbeddingConfig selects and tunes the embedder and reranker.
type EmbeddingConfig struct {
	Provider     string              `yaml:"provider" validate:"omitempty,oneof=openai sentence_transformers mock"`
	OpenAI       openaiapi.Config    `yaml:"openai"`
	Local        localmodel.Config   `yaml:"local"`
	MockDim      int                 `yaml:"mock_dimension" validate:"omitempty,gt=0"`
	Reranker     string              `yaml:"reranker" validate:"omitempty,oneof=cross_encoder none mock"`
	CrossEncoder crossencoder.Config `yaml:"cross_encoder"`
}

// PolicyConfig selects the C10 primary engine.
type PolicyConfig struct {
	EngineURL string `yaml:"engine_url" validate:"omitempty,url"`
	DataPath  string `yaml:"data_path" validate:"omitempty"`
}

// OrchestratorConfig is the YAML-facing view of orchestrator.Config.
type OrchestratorConfig struct {
	ScoutTokenCost       int           `yaml:"scout_token_cost" validate:"omitempty,gte=0"`
	AnalystTokenCost     int           `yaml:"analyst_token_cost" validate:"omitempty,gte=0"`
	ResponderTokenCost   int           `yaml:"responder_token_cost" validate:"omitempty,gte=0"`
	DefaultBudgetTokens  int           `yaml:"default_budget_tokens" validate:"omitempty,gt=0"`
	DefaultBudgetSeconds int           `yaml:"default_budget_seconds" validate:"omitempty,gt=0"`
	LeaseTTL             time.Duration `yaml:"lease_ttl" validate:"omitempty,gt=0"`
	RedisAddr            string        `yaml:"redis_addr" validate:"omitempty"`
}

// ToOrchestratorConfig converts the YAML view to orchestrator.Config,
// substituting orchestrator.DefaultConfig()'s values for anything left
// zero.
func (o OrchestratorConfig) ToOrchestratorConfig() orchestrator.Config {
	def := orchestrator.DefaultConfig()
	cfg := orchestrator.Config{
		ScoutTokenCost:       o.ScoutTokenCost,
		AnalystTokenCost:     o.AnalystTokenCost,
		ResponderTokenCost:   o.ResponderTokenCost,
		DefaultBudgetTokens:  o.DefaultBudgetTokens,
		DefaultBudgetSeconds: o.DefaultBudgetSeconds,
		LeaseTTL:             o.LeaseTTL,
	}
	if cfg.ScoutTokenCost == 0 {
		cfg.ScoutTokenCost = def.ScoutTokenCost
	}
	if cfg.AnalystTokenCost == 0 {
		cfg.AnalystTokenCost = def.AnalystTokenCost
	}
	if cfg.ResponderTokenCost == 0 {
		cfg.ResponderTokenCost = def.ResponderTokenCost
	}
	if cfg.DefaultBudgetTokens == 0 {
		cfg.DefaultBudgetTokens = def.DefaultBudgetTokens
	}
	if cfg.DefaultBudgetSeconds == 0 {
		cfg.DefaultBudgetSeconds = def.DefaultBudgetSeconds
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	return cfg
}

// Config is the umbrella deployment configuration: everything a process
// wiring this module's components together needs.
type Config struct {
	Bus          BusConfig          `yaml:"bus" validate:"required"`
	VectorStore  VectorStoreConfig  `yaml:"vector_store" validate:"required"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Policy       PolicyConfig       `yaml:"policy"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// PineconeConfig exposes the resolved pinecone.Config for the configured
// dimension, for callers wiring vectorstore/pinecone.New directly.
func (c Config) PineconeConfig() pinecone.Config {
	return c.VectorStore.Pinecone.toPineconeConfig(c.VectorStore.Dimension)
}

var validate = validator.New()

// Validate runs struct-tag validation over the whole tree.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Parse decodes YAML bytes (after environment expansion) into a Config
// and validates it.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
