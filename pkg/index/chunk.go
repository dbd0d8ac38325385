package index

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/sentorproj/sentor/pkg/knowledge"
)

// genericMaxChars is the default generic chunker bound.
const genericMaxChars = 1000

// Chunker derives knowledge.Chunk slices from a Document per its doc_type's
// bespoke strategy, falling back to a generic size-bounded splitter.
type Chunker struct {
	generic *textsplitter.RecursiveCharacter
}

// NewChunker constructs a chunker with the default generic size bound.
func NewChunker() *Chunker {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(genericMaxChars),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
	return &Chunker{generic: &splitter}
}

// Chunk dispatches to the doc_type-specific strategy.
func (c *Chunker) Chunk(doc knowledge.Document) ([]knowledge.Chunk, error) {
	switch doc.DocType {
	case knowledge.DocTypeAttackTechnique:
		return chunkAttackTechnique(doc), nil
	case knowledge.DocTypeCVE:
		return chunkCVE(doc), nil
	case knowledge.DocTypeSigmaRule:
		return chunkSigmaRule(doc), nil
	default:
		return c.chunkGeneric(doc)
	}
}

func mergeMetadata(base knowledge.Metadata, extra map[string]any) knowledge.Metadata {
	out := make(knowledge.Metadata, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func splitSections(content, marker string) (string, string) {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(marker))
	if idx < 0 {
		return content, ""
	}
	return content[:idx], content[idx:]
}

// chunkAttackTechnique produces overview + detection chunks.
func chunkAttackTechnique(doc knowledge.Document) []knowledge.Chunk {
	overview, detection := splitSections(doc.Content, "detection")
	md := mergeMetadata(doc.Metadata, map[string]any{
		"attack_id":    doc.Metadata.String("attack_id"),
		"tactic":       doc.Metadata.String("tactic"),
		"platforms":    doc.Metadata.StringSlice("platforms"),
		"data_sources": doc.Metadata.StringSlice("data_sources"),
	})

	chunks := []knowledge.Chunk{
		{ID: doc.ID + "#overview", DocID: doc.ID, Title: doc.Title, Content: strings.TrimSpace(overview), ChunkType: "overview", Metadata: md},
	}
	if strings.TrimSpace(detection) != "" {
		chunks = append(chunks, knowledge.Chunk{
			ID: doc.ID + "#detection", DocID: doc.ID, Title: doc.Title, Content: strings.TrimSpace(detection), ChunkType: "detection", Metadata: md,
		})
	}
	return chunks
}

// cvssSeverity buckets a CVSS score: >=9 Critical, >=7 High, >=4 Medium,
// else Low.
func cvssSeverity(score float64) string {
	switch {
	case score >= 9:
		return "critical"
	case score >= 7:
		return "high"
	case score >= 4:
		return "medium"
	default:
		return "low"
	}
}

// chunkCVE produces summary + technical chunks.
func chunkCVE(doc knowledge.Document) []knowledge.Chunk {
	summary, technical := splitSections(doc.Content, "technical")
	cvss := doc.Metadata.Float64("cvss_score")
	md := mergeMetadata(doc.Metadata, map[string]any{
		"cve_id":            doc.Metadata.String("cve_id"),
		"cvss_score":        cvss,
		"derived_severity":  cvssSeverity(cvss),
		"affected_products": doc.Metadata.StringSlice("affected_products"),
	})

	chunks := []knowledge.Chunk{
		{ID: doc.ID + "#summary", DocID: doc.ID, Title: doc.Title, Content: strings.TrimSpace(summary), ChunkType: "summary", Metadata: md},
	}
	if strings.TrimSpace(technical) != "" {
		chunks = append(chunks, knowledge.Chunk{
			ID: doc.ID + "#technical", DocID: doc.ID, Title: doc.Title, Content: strings.TrimSpace(technical), ChunkType: "technical", Metadata: md,
		})
	}
	return chunks
}

// techniquesFromTags extracts technique IDs from sigma tags of the form
// "attack.t1110" or "attack.t1059.001".
func techniquesFromTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		rest, ok := strings.CutPrefix(strings.ToLower(tag), "attack.")
		if !ok || len(rest) < 2 || rest[0] != 't' {
			continue
		}
		if rest[1] < '0' || rest[1] > '9' {
			continue
		}
		out = append(out, "T"+rest[1:])
	}
	return out
}

// chunkSigmaRule produces overview + detection_logic chunks.
func chunkSigmaRule(doc knowledge.Document) []knowledge.Chunk {
	overview, logic := splitSections(doc.Content, "detection:")
	md := mergeMetadata(doc.Metadata, map[string]any{
		"level":             doc.Metadata.String("level"),
		"attack_techniques": techniquesFromTags(doc.Metadata.StringSlice("tags")),
	})

	chunks := []knowledge.Chunk{
		{ID: doc.ID + "#overview", DocID: doc.ID, Title: doc.Title, Content: strings.TrimSpace(overview), ChunkType: "overview", Metadata: md},
	}
	if strings.TrimSpace(logic) != "" {
		chunks = append(chunks, knowledge.Chunk{
			ID: doc.ID + "#detection_logic", DocID: doc.ID, Title: doc.Title, Content: strings.TrimSpace(logic), ChunkType: "detection_logic", Metadata: md,
		})
	}
	return chunks
}

// chunkGeneric splits arbitrary content on word boundaries at up to
// genericMaxChars per piece, via langchaingo's recursive-character splitter.
func (c *Chunker) chunkGeneric(doc knowledge.Document) ([]knowledge.Chunk, error) {
	pieces, err := c.generic.SplitText(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("index: split %s: %w", doc.ID, err)
	}
	chunks := make([]knowledge.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = knowledge.Chunk{
			ID:        fmt.Sprintf("%s#%d", doc.ID, i),
			DocID:     doc.ID,
			Title:     doc.Title,
			Content:   p,
			ChunkType: "generic",
			Metadata:  doc.Metadata,
		}
	}
	return chunks, nil
}
