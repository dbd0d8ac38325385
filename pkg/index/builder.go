package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentorproj/sentor/pkg/embedding"
	"github.com/sentorproj/sentor/pkg/knowledge"
	"github.com/sentorproj/sentor/pkg/vectorstore"
)

// Builder owns the manifest, chunks documents per doc_type strategy, and
// writes embeddings into a vectorstore.Store. Vector-store
// writes are serialized by Builder (single-writer); reads
// through the same store remain concurrent and lock-free.
type Builder struct {
	store    vectorstore.Store
	embedder embedding.Embedder
	manifest *Manifest
	chunker  *Chunker

	writeMu sync.Mutex
}

// New constructs a Builder. It enforces the construction-time
// dimension invariant: VectorStore.Dimension() == Embedder.Dimension().
func New(store vectorstore.Store, embedder embedding.Embedder, manifest *Manifest) (*Builder, error) {
	if store.Dimension() != embedder.Dimension() {
		return nil, fmt.Errorf("%w: store=%d embedder=%d", vectorstore.ErrDimensionMismatch, store.Dimension(), embedder.Dimension())
	}
	return &Builder{store: store, embedder: embedder, manifest: manifest, chunker: NewChunker()}, nil
}

func (b *Builder) embedChunks(ctx context.Context, chunks []knowledge.Chunk) ([]knowledge.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("index: embed chunks: %w", err)
	}
	out := make([]knowledge.Chunk, len(chunks))
	for i, c := range chunks {
		c.Embedding = vecs[i]
		out[i] = c
	}
	return out, nil
}

func (b *Builder) chunkAndEmbed(ctx context.Context, docs []knowledge.Document) ([]knowledge.Chunk, map[string][]string, error) {
	var all []knowledge.Chunk
	chunkIDsByDoc := make(map[string][]string, len(docs))
	for _, d := range docs {
		chunks, err := b.chunker.Chunk(d)
		if err != nil {
			return nil, nil, err
		}
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		chunkIDsByDoc[d.ID] = ids
		all = append(all, chunks...)
	}

	embedded, err := b.embedChunks(ctx, all)
	if err != nil {
		return nil, nil, err
	}
	return embedded, chunkIDsByDoc, nil
}

func (b *Builder) recordManifest(docs []knowledge.Document, chunkIDsByDoc map[string][]string, now time.Time) {
	for _, d := range docs {
		b.manifest.Set(d.ID, knowledge.ManifestEntry{
			ContentHash: ContentHash(d),
			ChunkIDs:    chunkIDsByDoc[d.ID],
			IndexedAt:   now,
			Metadata:    d.Metadata,
		})
	}
}

// BuildIndex chunks, embeds, upserts, saves, and records the manifest for
// every document — a from-scratch build.
func (b *Builder) BuildIndex(ctx context.Context, docs []knowledge.Document) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	chunks, chunkIDsByDoc, err := b.chunkAndEmbed(ctx, docs)
	if err != nil {
		return err
	}
	if err := b.store.Upsert(ctx, chunks); err != nil {
		return fmt.Errorf("index: upsert: %w", err)
	}
	if err := b.store.Save(ctx); err != nil {
		return fmt.Errorf("index: save: %w", err)
	}
	b.recordManifest(docs, chunkIDsByDoc, time.Now())
	return b.manifest.Save()
}

// UpdateDocuments reconciles the store against docs: new+changed are
// (re)chunked/embedded/upserted, changed+removed are deleted first so no
// stale chunks remain, unchanged documents are left untouched.
func (b *Builder) UpdateDocuments(ctx context.Context, docs []knowledge.Document) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	diff := b.manifest.Diff(docs)

	var toDeleteDocIDs []string
	for _, d := range diff[DiffChanged] {
		toDeleteDocIDs = append(toDeleteDocIDs, d.ID)
	}
	for _, d := range diff[DiffRemoved] {
		toDeleteDocIDs = append(toDeleteDocIDs, d.ID)
	}
	if len(toDeleteDocIDs) > 0 {
		if _, err := b.store.DeleteByDocIDs(ctx, toDeleteDocIDs); err != nil {
			return fmt.Errorf("index: delete stale chunks: %w", err)
		}
	}
	for _, d := range diff[DiffRemoved] {
		b.manifest.Delete(d.ID)
	}

	var toIndex []knowledge.Document
	toIndex = append(toIndex, diff[DiffNew]...)
	toIndex = append(toIndex, diff[DiffChanged]...)

	if len(toIndex) > 0 {
		chunks, chunkIDsByDoc, err := b.chunkAndEmbed(ctx, toIndex)
		if err != nil {
			return err
		}
		if err := b.store.Upsert(ctx, chunks); err != nil {
			return fmt.Errorf("index: upsert: %w", err)
		}
		b.recordManifest(toIndex, chunkIDsByDoc, time.Now())
	}

	if len(toIndex) > 0 || len(toDeleteDocIDs) > 0 {
		if err := b.store.Save(ctx); err != nil {
			return fmt.Errorf("index: save: %w", err)
		}
	}
	return b.manifest.Save()
}
