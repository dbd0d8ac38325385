// Package local implements a file-backed, in-memory flat inner-product
// vector index — the local-file backend.
package local

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sentorproj/sentor/pkg/knowledge"
	"github.com/sentorproj/sentor/pkg/vectorstore"
)

// record is one indexed chunk: a normalized embedding plus the metadata
// Query needs to answer without a second lookup.
type record struct {
	ChunkID   string
	DocID     string
	Title     string
	Content   string
	ChunkType string
	Metadata  knowledge.Metadata
	Vector    []float32
}

// Store is a flat, exhaustive-scan inner-product index. Correct and simple
// for knowledge bases of this size; snapshotted to a single gob file
// under dir.
type Store struct {
	dir string
	dim int

	mu      sync.RWMutex
	records map[string]record // keyed by ChunkID
	byDoc   map[string][]string // docID -> chunk IDs, for DeleteByDocIDs
}

// New constructs a local store rooted at dir with the given fixed
// dimension. Initialize or Load must be called before use.
func New(dir string, dimension int) *Store {
	return &Store{
		dir:     dir,
		dim:     dimension,
		records: make(map[string]record),
		byDoc:   make(map[string][]string),
	}
}

func (s *Store) snapshotPath() string { return filepath.Join(s.dir, "index.gob") }

// Dimension implements vectorstore.Store.
func (s *Store) Dimension() int { return s.dim }

// Initialize implements vectorstore.Store.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]record)
	s.byDoc = make(map[string][]string)
	return os.MkdirAll(s.dir, 0o755)
}

type snapshot struct {
	Dimension int
	Records   []record
}

// Save implements vectorstore.Store.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{Dimension: s.dim}
	for _, r := range s.records {
		snap.Records = append(snap.Records, r)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("vectorstore/local: encode snapshot: %w", err)
	}
	tmp := s.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("vectorstore/local: write snapshot: %w", err)
	}
	return os.Rename(tmp, s.snapshotPath())
}

// Load implements vectorstore.Store.
func (s *Store) Load(ctx context.Context) error {
	data, err := os.ReadFile(s.snapshotPath())
	if os.IsNotExist(err) {
		return s.Initialize(ctx)
	}
	if err != nil {
		return fmt.Errorf("vectorstore/local: read snapshot: %w", err)
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("vectorstore/local: decode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dim = snap.Dimension
	s.records = make(map[string]record, len(snap.Records))
	s.byDoc = make(map[string][]string)
	for _, r := range snap.Records {
		s.records[r.ChunkID] = r
		s.byDoc[r.DocID] = append(s.byDoc[r.DocID], r.ChunkID)
	}
	return nil
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, chunks []knowledge.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("%w: got %d want %d", vectorstore.ErrDimensionMismatch, len(c.Embedding), s.dim)
		}
		r := record{
			ChunkID:   c.ID,
			DocID:     c.DocID,
			Title:     c.Title,
			Content:   c.Content,
			ChunkType: c.ChunkType,
			Metadata:  c.Metadata,
			Vector:    normalize(c.Embedding),
		}
		if _, exists := s.records[c.ID]; !exists {
			s.byDoc[c.DocID] = append(s.byDoc[c.DocID], c.ID)
		}
		s.records[c.ID] = r
	}
	return nil
}

// Query implements vectorstore.Store.
func (s *Store) Query(ctx context.Context, q []float32, k int, filters vectorstore.Filter) ([]vectorstore.Result, error) {
	if len(q) != s.dim {
		return nil, fmt.Errorf("%w: got %d want %d", vectorstore.ErrDimensionMismatch, len(q), s.dim)
	}
	qn := normalize(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]vectorstore.Result, 0, len(s.records))
	for _, r := range s.records {
		if len(filters) > 0 && !filters.Matches(r.Metadata) {
			continue
		}
		var dot float32
		for i := range qn {
			dot += qn[i] * r.Vector[i]
		}
		results = append(results, vectorstore.Result{
			Score:    dot,
			ChunkID:  r.ChunkID,
			DocID:    r.DocID,
			Title:    r.Title,
			Content:  r.Content,
			DocType:  r.Metadata.String("doc_type"),
			Source:   r.Metadata.String("source"),
			Metadata: r.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// DeleteByDocIDs implements vectorstore.Store.
func (s *Store) DeleteByDocIDs(ctx context.Context, docIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, docID := range docIDs {
		for _, chunkID := range s.byDoc[docID] {
			if _, ok := s.records[chunkID]; ok {
				delete(s.records, chunkID)
				count++
			}
		}
		delete(s.byDoc, docID)
	}
	return count, nil
}

// Stats implements vectorstore.Store.
func (s *Store) Stats(ctx context.Context) (vectorstore.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := vectorstore.Stats{
		TotalVectors: len(s.records),
		Dimension:    s.dim,
		ByDocType:    make(map[string]int),
		BySource:     make(map[string]int),
	}
	for _, r := range s.records {
		if dt := r.Metadata.String("doc_type"); dt != "" {
			stats.ByDocType[dt]++
		}
		if src := r.Metadata.String("source"); src != "" {
			stats.BySource[src]++
		}
	}
	return stats, nil
}
