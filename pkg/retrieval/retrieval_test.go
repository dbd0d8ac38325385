package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/embedding/mock"
	"github.com/sentorproj/sentor/pkg/knowledge"
	"github.com/sentorproj/sentor/pkg/vectorstore/local"
)

func setup(t *testing.T) (*Engine, context.Context) {
	t.Helper()
	ctx := context.Background()
	embedder := mock.New(16)
	store := local.New(t.TempDir(), 16)
	require.NoError(t, store.Initialize(ctx))

	docs := []struct {
		id, docID, content, docType string
	}{
		{"c1", "d1", "SSH brute force attack technique T1110 credential access", "attack_technique"},
		{"c2", "d2", "CVE-2024-1234 remote code execution in Apache", "cve"},
		{"c3", "d3", "Sigma rule detecting suspicious powershell encoded command", "sigma_rule"},
	}
	var chunks []knowledge.Chunk
	for _, d := range docs {
		vec, err := embedder.EmbedText(ctx, d.content)
		require.NoError(t, err)
		chunks = append(chunks, knowledge.Chunk{
			ID: d.id, DocID: d.docID, Title: d.id, Content: d.content,
			Embedding: vec,
			Metadata:  knowledge.Metadata{"doc_type": d.docType, "attack_id": "T1110", "cve_id": "CVE-2024-1234"},
		})
	}
	require.NoError(t, store.Upsert(ctx, chunks))

	engine := New(store, embedder, mock.NewReranker())
	return engine, ctx
}

func TestEngineQueryReturnsScoredResultsWithProvenance(t *testing.T) {
	engine, ctx := setup(t)
	results, err := engine.Query(ctx, Query{Text: "SSH brute force attack technique T1110 credential access", K: 2})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "attack_technique", results[0].DocType)
}

func TestQueryByAttackTechniqueFiltersByID(t *testing.T) {
	engine, ctx := setup(t)
	results, err := engine.QueryByAttackTechnique(ctx, "T1110", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestQueryForDetectionRulesFiltersSigma(t *testing.T) {
	engine, ctx := setup(t)
	results, err := engine.QueryForDetectionRules(ctx, "suspicious powershell encoded command", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "sigma_rule", r.DocType)
	}
}

func TestMinScoreExcludesWeakMatches(t *testing.T) {
	engine, ctx := setup(t)
	results, err := engine.Query(ctx, Query{Text: "completely unrelated text about gardening", K: 5, MinScore: 0.999})
	require.NoError(t, err)
	assert.Empty(t, results)
}
