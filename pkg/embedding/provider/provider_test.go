package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/embedding"
)

func TestResolve_ExplicitMock(t *testing.T) {
	emb, err := Resolve(Config{Provider: "mock", MockDim: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, emb.Dimension())
}

func TestResolve_EmptyFallsBackToMock(t *testing.T) {
	emb, err := Resolve(Config{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, emb)
}

func TestResolve_UnrecognizedProviderFails(t *testing.T) {
	_, err := Resolve(Config{Provider: "not-a-provider"}, nil)
	assert.ErrorIs(t, err, embedding.ErrBadConfig)
}

func TestResolveReranker_None(t *testing.T) {
	r, err := ResolveReranker(RerankerConfig{Kind: "none"})
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestResolveReranker_CrossEncoder(t *testing.T) {
	r, err := ResolveReranker(RerankerConfig{Kind: "cross_encoder"})
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestResolveReranker_Unrecognized(t *testing.T) {
	_, err := ResolveReranker(RerankerConfig{Kind: "not-a-reranker"})
	assert.ErrorIs(t, err, embedding.ErrBadConfig)
}
