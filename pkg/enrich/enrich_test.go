package enrich

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/embedding/mock"
	"github.com/sentorproj/sentor/pkg/frame"
	"github.com/sentorproj/sentor/pkg/hypothesis"
	"github.com/sentorproj/sentor/pkg/index"
	"github.com/sentorproj/sentor/pkg/knowledge"
	"github.com/sentorproj/sentor/pkg/retrieval"
	"github.com/sentorproj/sentor/pkg/triage"
	"github.com/sentorproj/sentor/pkg/vectorstore/local"
)

func indexedEngine(t *testing.T, docs []knowledge.Document) *retrieval.Engine {
	t.Helper()
	ctx := context.Background()
	embedder := mock.New(16)
	store := local.New(t.TempDir(), 16)
	require.NoError(t, store.Initialize(ctx))

	builder, err := index.New(store, embedder, index.NewManifest(filepath.Join(t.TempDir(), "manifest.json")))
	require.NoError(t, err)
	require.NoError(t, builder.BuildIndex(ctx, docs))

	return retrieval.New(store, embedder, mock.NewReranker())
}

func bruteForceDoc() knowledge.Document {
	return knowledge.Document{
		ID:      "attack-t1110",
		Title:   "Brute Force",
		DocType: knowledge.DocTypeAttackTechnique,
		Content: "Adversaries may use brute force techniques against SSH accounts.\n\nDetection: monitor repeated failed authentication attempts.",
		Metadata: knowledge.Metadata{
			"doc_type":  "attack_technique",
			"attack_id": "T1110",
			"tactic":    "credential-access",
		},
	}
}

func TestTacticResolverReadsTacticFromIndexedTechnique(t *testing.T) {
	engine := indexedEngine(t, []knowledge.Document{bruteForceDoc()})
	r := NewTacticResolver(engine)

	tactic, ok := r.TacticFor("T1110")
	require.True(t, ok)
	assert.Equal(t, "credential-access", tactic)
}

func TestTacticResolverFallsBackToStaticMapping(t *testing.T) {
	engine := indexedEngine(t, nil)
	r := NewTacticResolver(engine)

	tactic, ok := r.TacticFor("T1486")
	require.True(t, ok)
	assert.Equal(t, "impact", tactic)

	tactic, ok = r.TacticFor("T1021.004")
	require.True(t, ok)
	assert.Equal(t, "lateral-movement", tactic)

	_, ok = r.TacticFor("T9999")
	assert.False(t, ok)
}

func TestTacticResolverMemoizesLookups(t *testing.T) {
	engine := indexedEngine(t, []knowledge.Document{bruteForceDoc()})
	r := NewTacticResolver(engine)

	first, ok := r.TacticFor("T1110")
	require.True(t, ok)

	// A second lookup is served from the cache; drop the engine to prove
	// no further retrieval happens.
	r.engine = nil
	second, ok := r.TacticFor("T1110")
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestTechniqueRetrieverTagsSummaryAgainstIndexedTechniques(t *testing.T) {
	engine := indexedEngine(t, []knowledge.Document{bruteForceDoc()})
	tr := NewTechniqueRetriever(engine)

	tags := tr.TechniquesFor("SSH brute force attack against admin accounts")
	require.NotEmpty(t, tags)
	assert.Equal(t, "T1110", tags[0].TechniqueID)
	assert.Equal(t, "credential-access", tags[0].Tactic)
	assert.Equal(t, triage.SourceRetrievalInferred, tags[0].Source)
}

func TestTechniqueRetrieverEmptyOnNoOverlap(t *testing.T) {
	engine := indexedEngine(t, []knowledge.Document{bruteForceDoc()})
	tr := NewTechniqueRetriever(engine)

	tags := tr.TechniquesFor("unrelated printer maintenance notice")
	assert.Empty(t, tags)
}

func hypothesisInput() hypothesis.Input {
	return hypothesis.Input{
		TriageConfidence: 0.8,
		CandidateTTPs:    []string{"T1110"},
		Severity:         frame.SeverityHigh,
	}
}

func TestWiredAnalystsUseRetrievalSources(t *testing.T) {
	engine := indexedEngine(t, []knowledge.Document{bruteForceDoc()})

	analyst := NewTriageAnalyst(engine)
	require.NotNil(t, analyst)

	hyp := NewHypothesisAnalyst(engine)
	out := hyp.Build(hypothesisInput())
	assert.Contains(t, out.Tactics, "credential-access")
}
