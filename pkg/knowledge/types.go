// Package knowledge defines the document/chunk/manifest types shared by the
// vector store, embedder, retrieval engine, and index builder.
package knowledge

import "time"

// DocType enumerates the knowledge base's document kinds.
// The set is extensible; values outside this list still round-trip, they
// simply fall back to the generic chunking strategy.
type DocType string

// Known document types with bespoke chunking strategies.
const (
	DocTypeAttackTechnique  DocType = "attack_technique"
	DocTypeAttackTactic     DocType = "attack_tactic"
	DocTypeAttackMitigation DocType = "attack_mitigation"
	DocTypeAttackGroup      DocType = "attack_group"
	DocTypeCVE              DocType = "cve"
	DocTypeSigmaRule        DocType = "sigma_rule"
	DocTypeCISAKEV          DocType = "cisa_kev"
)

// Metadata is the typed-at-edges mapping carrying domain fields
// (attack_id, cve_id, tactic, platforms, cvss_score, level, tags,
// attack_techniques, affected_products, ...). Helper accessors below give
// it edges without forcing every caller through type assertions.
type Metadata map[string]any

// String returns the string value at key, or "" if absent or non-string.
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Float64 returns the float64 value at key, or 0 if absent or non-numeric.
func (m Metadata) Float64(key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// StringSlice returns the []string value at key, tolerating []any of
// strings (the common shape after a JSON round-trip).
func (m Metadata) StringSlice(key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Document is a curated knowledge-base entry.
type Document struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	DocType  DocType  `json:"doc_type" yaml:"doc_type"`
	Source   string   `json:"source" yaml:"source"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
	Metadata Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Chunk is a retrievable sub-unit derived deterministically from a Document.
type Chunk struct {
	ID        string   `json:"id"`
	DocID     string   `json:"doc_id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	ChunkType string   `json:"chunk_type"`
	Metadata  Metadata `json:"metadata,omitempty"`
	// Embedding is populated by the embedder before Upsert; absent on a
	// freshly chunked document.
	Embedding []float32 `json:"-"`
}

// ManifestEntry is the authoritative record of what is indexed for one
// document.
type ManifestEntry struct {
	ContentHash    string    `json:"content_hash"`
	SourceRevision string    `json:"source_revision,omitempty"`
	ChunkIDs       []string  `json:"chunk_ids"`
	IndexedAt      time.Time `json:"indexed_at"`
	Metadata       Metadata  `json:"metadata,omitempty"`
}
