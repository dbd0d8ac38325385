package local

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/knowledge"
	"github.com/sentorproj/sentor/pkg/vectorstore"
)

func chunk(id, docID string, v []float32, docType string) knowledge.Chunk {
	return knowledge.Chunk{
		ID:        id,
		DocID:     docID,
		Title:     id,
		Content:   "content " + id,
		Embedding: v,
		Metadata:  knowledge.Metadata{"doc_type": docType},
	}
}

func TestStoreUpsertQueryRanksByCosine(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	require.NoError(t, s.Upsert(ctx, []knowledge.Chunk{
		chunk("c1", "d1", []float32{1, 0}, "cve"),
		chunk("c2", "d1", []float32{0, 1}, "cve"),
		chunk("c3", "d2", []float32{0.9, 0.1}, "sigma_rule"),
	}))

	results, err := s.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestStoreQueryFiltersByMetadata(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Upsert(ctx, []knowledge.Chunk{
		chunk("c1", "d1", []float32{1, 0}, "cve"),
		chunk("c2", "d2", []float32{1, 0}, "sigma_rule"),
	}))

	results, err := s.Query(ctx, []float32{1, 0}, 10, vectorstore.Filter{"doc_type": "sigma_rule"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)
}

func TestStoreDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	err := s.Upsert(ctx, []knowledge.Chunk{chunk("c1", "d1", []float32{1, 0, 0}, "cve")})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := New(dir, 2)
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Upsert(ctx, []knowledge.Chunk{chunk("c1", "d1", []float32{1, 0}, "cve")}))
	require.NoError(t, s.Save(ctx))

	_, err := os.Stat(s.snapshotPath())
	require.NoError(t, err)

	s2 := New(dir, 2)
	require.NoError(t, s2.Load(ctx))
	stats, err := s2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVectors)
	assert.Equal(t, 1, stats.ByDocType["cve"])
}

func TestStoreDeleteByDocIDs(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2)
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Upsert(ctx, []knowledge.Chunk{
		chunk("c1", "d1", []float32{1, 0}, "cve"),
		chunk("c2", "d1", []float32{0, 1}, "cve"),
		chunk("c3", "d2", []float32{1, 1}, "cve"),
	}))

	n, err := s.DeleteByDocIDs(ctx, []string{"d1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVectors)
}

func TestStoreLoadMissingSnapshotInitializesEmpty(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 2)
	require.NoError(t, s.Load(context.Background()))
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalVectors)
}
