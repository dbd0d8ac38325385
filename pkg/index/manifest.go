// Package index owns the manifest, chunks documents per doc_type strategy,
// and writes embeddings into a vectorstore.Store. UpdateDocuments
// reconciles incrementally against the manifest by content hash.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sentorproj/sentor/pkg/knowledge"
)

// Manifest is the persistent doc_id -> ManifestEntry mapping.
type Manifest struct {
	path string

	mu      sync.Mutex
	entries map[string]knowledge.ManifestEntry
}

// NewManifest constructs a manifest backed by the given file path.
func NewManifest(path string) *Manifest {
	return &Manifest{path: path, entries: make(map[string]knowledge.ManifestEntry)}
}

// Load restores the manifest from disk. A missing file starts empty.
func (m *Manifest) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: read manifest: %w", err)
	}
	var entries map[string]knowledge.ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("index: decode manifest: %w", err)
	}
	if entries == nil {
		entries = make(map[string]knowledge.ManifestEntry)
	}
	m.entries = entries
	return nil
}

// Save persists the manifest atomically (write-to-temp then rename).
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("index: encode manifest: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("index: write manifest: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// Get returns the entry for docID, if present.
func (m *Manifest) Get(docID string) (knowledge.ManifestEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[docID]
	return e, ok
}

// Set records or replaces the entry for docID.
func (m *Manifest) Set(docID string, entry knowledge.ManifestEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[docID] = entry
}

// Delete removes docID from the manifest.
func (m *Manifest) Delete(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, docID)
}

// DocIDs returns every document ID currently recorded.
func (m *Manifest) DocIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for id := range m.entries {
		out = append(out, id)
	}
	return out
}

// ContentHash computes the manifest's content-hash key for a document: the
// SHA-256 over title+content+doc_type, so any edit to the indexed text
// changes the hash.
func ContentHash(doc knowledge.Document) string {
	h := sha256.New()
	h.Write([]byte(doc.Title))
	h.Write([]byte{0})
	h.Write([]byte(doc.Content))
	h.Write([]byte{0})
	h.Write([]byte(doc.DocType))
	return hex.EncodeToString(h.Sum(nil))
}

// DiffKind classifies a document against the manifest.
type DiffKind int

const (
	DiffNew DiffKind = iota
	DiffChanged
	DiffUnchanged
	DiffRemoved
)

func (k DiffKind) String() string {
	switch k {
	case DiffNew:
		return "new"
	case DiffChanged:
		return "changed"
	case DiffUnchanged:
		return "unchanged"
	case DiffRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Diff computes the new/changed/unchanged/removed partition of docs against
// the manifest.
func (m *Manifest) Diff(docs []knowledge.Document) map[DiffKind][]knowledge.Document {
	out := map[DiffKind][]knowledge.Document{
		DiffNew:       nil,
		DiffChanged:   nil,
		DiffUnchanged: nil,
		DiffRemoved:   nil,
	}

	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		seen[d.ID] = true
		hash := ContentHash(d)
		existing, ok := m.Get(d.ID)
		switch {
		case !ok:
			out[DiffNew] = append(out[DiffNew], d)
		case existing.ContentHash != hash:
			out[DiffChanged] = append(out[DiffChanged], d)
		default:
			out[DiffUnchanged] = append(out[DiffUnchanged], d)
		}
	}

	for _, id := range m.DocIDs() {
		if !seen[id] {
			out[DiffRemoved] = append(out[DiffRemoved], knowledge.Document{ID: id})
		}
	}
	return out
}
