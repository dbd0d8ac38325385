package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/embedding/mock"
	"github.com/sentorproj/sentor/pkg/knowledge"
	"github.com/sentorproj/sentor/pkg/vectorstore/local"
)

func attackTechniqueDoc(id string) knowledge.Document {
	return knowledge.Document{
		ID:      id,
		Title:   "Brute Force",
		Content: "Adversaries may brute force accounts.\n\nDetection: monitor for repeated failed auth events.",
		DocType: knowledge.DocTypeAttackTechnique,
		Metadata: knowledge.Metadata{
			"attack_id": "T1110",
			"tactic":    "credential-access",
		},
	}
}

func newTestBuilder(t *testing.T) (*Builder, context.Context) {
	t.Helper()
	ctx := context.Background()
	embedder := mock.New(8)
	store := local.New(t.TempDir(), 8)
	require.NoError(t, store.Initialize(ctx))
	manifest := NewManifest(filepath.Join(t.TempDir(), "manifest.json"))
	b, err := New(store, embedder, manifest)
	require.NoError(t, err)
	return b, ctx
}

func TestBuildIndexChunksEmbedsAndRecordsManifest(t *testing.T) {
	b, ctx := newTestBuilder(t)
	doc := attackTechniqueDoc("d1")

	require.NoError(t, b.BuildIndex(ctx, []knowledge.Document{doc}))

	entry, ok := b.manifest.Get("d1")
	require.True(t, ok)
	assert.Equal(t, ContentHash(doc), entry.ContentHash)
	assert.NotEmpty(t, entry.ChunkIDs)

	stats, err := b.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(entry.ChunkIDs), stats.TotalVectors)
}

func TestUpdateDocumentsEquivalentToBuildFromEmpty(t *testing.T) {
	b, ctx := newTestBuilder(t)
	doc := attackTechniqueDoc("d1")

	require.NoError(t, b.UpdateDocuments(ctx, nil))
	require.NoError(t, b.UpdateDocuments(ctx, []knowledge.Document{doc}))

	stats, err := b.store.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.TotalVectors, 0)
}

func TestUpdateDocumentsIsIdempotent(t *testing.T) {
	b, ctx := newTestBuilder(t)
	doc := attackTechniqueDoc("d1")

	require.NoError(t, b.UpdateDocuments(ctx, []knowledge.Document{doc}))
	statsAfterFirst, err := b.store.Stats(ctx)
	require.NoError(t, err)

	require.NoError(t, b.UpdateDocuments(ctx, []knowledge.Document{doc}))
	statsAfterSecond, err := b.store.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, statsAfterFirst.TotalVectors, statsAfterSecond.TotalVectors)
}

func TestUpdateDocumentsRemovesStaleChunksOnChange(t *testing.T) {
	b, ctx := newTestBuilder(t)
	doc := attackTechniqueDoc("d1")
	require.NoError(t, b.UpdateDocuments(ctx, []knowledge.Document{doc}))

	changed := doc
	changed.Content = "Completely different content.\n\nDetection: totally different logic."
	require.NoError(t, b.UpdateDocuments(ctx, []knowledge.Document{changed}))

	entry, ok := b.manifest.Get("d1")
	require.True(t, ok)
	stats, err := b.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(entry.ChunkIDs), stats.TotalVectors)
}

func TestUpdateDocumentsRemovesDocumentsNotInInput(t *testing.T) {
	b, ctx := newTestBuilder(t)
	doc := attackTechniqueDoc("d1")
	require.NoError(t, b.UpdateDocuments(ctx, []knowledge.Document{doc}))

	require.NoError(t, b.UpdateDocuments(ctx, nil))

	_, ok := b.manifest.Get("d1")
	assert.False(t, ok)
	stats, err := b.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalVectors)
}

func TestNewRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	embedder := mock.New(8)
	store := local.New(t.TempDir(), 16)
	require.NoError(t, store.Initialize(ctx))
	_, err := New(store, embedder, NewManifest(filepath.Join(t.TempDir(), "m.json")))
	require.Error(t, err)
}
