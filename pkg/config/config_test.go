package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
bus:
  url: "nats://localhost:4222"
  stream_name: "CS"
vector_store:
  backend: "faiss"
  dimension: 384
  local_dir: "/tmp/sentor-index"
embedding:
  provider: "mock"
  mock_dimension: 384
policy:
  engine_url: "http://localhost:8181"
orchestrator:
  default_budget_tokens: 5000
  default_budget_seconds: 300
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", cfg.Bus.URL)
	assert.Equal(t, "faiss", cfg.VectorStore.Backend)
	assert.Equal(t, 384, cfg.VectorStore.Dimension)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
}

func TestParse_MissingRequiredFieldFails(t *testing.T) {
	_, err := Parse([]byte(`
vector_store:
  dimension: 384
`))
	assert.Error(t, err)
}

func TestParse_BadEmbeddingProviderFails(t *testing.T) {
	_, err := Parse([]byte(`
bus:
  url: "nats://localhost:4222"
vector_store:
  dimension: 384
embedding:
  provider: "not-a-real-provider"
`))
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SENTOR_TEST_VECTOR_DIR", "/data/sentor")
	out := ExpandEnv([]byte("local_dir: ${SENTOR_TEST_VECTOR_DIR}"))
	assert.Equal(t, "local_dir: /data/sentor", string(out))
}

func TestToBusConfig_FillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	busCfg := cfg.Bus.ToBusConfig()
	assert.Equal(t, "CS", busCfg.StreamName)
	assert.Equal(t, 256, busCfg.MaxAckPending)
	assert.Equal(t, 5, busCfg.MaxDeliver)
}

func TestToOrchestratorConfig_FillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	ocfg := cfg.Orchestrator.ToOrchestratorConfig()
	assert.Equal(t, 5000, ocfg.DefaultBudgetTokens)
	assert.Equal(t, 300, ocfg.DefaultBudgetSeconds)
	assert.Greater(t, int(ocfg.LeaseTTL.Seconds()), 0)
}
