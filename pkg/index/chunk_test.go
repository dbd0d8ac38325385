package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/knowledge"
)

func TestChunkCVEDerivesSeverityBucket(t *testing.T) {
	c := NewChunker()
	doc := knowledge.Document{
		ID: "cve-1", Title: "CVE-2024-0001", DocType: knowledge.DocTypeCVE,
		Content:  "A critical flaw allows RCE.\n\nTechnical: unauthenticated request triggers deserialization.",
		Metadata: knowledge.Metadata{"cve_id": "CVE-2024-0001", "cvss_score": 9.8},
	}
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "summary", chunks[0].ChunkType)
	assert.Equal(t, "technical", chunks[1].ChunkType)
	assert.Equal(t, "critical", chunks[0].Metadata.String("derived_severity"))
}

func TestChunkSigmaRuleExtractsLevelAndTechniques(t *testing.T) {
	c := NewChunker()
	doc := knowledge.Document{
		ID: "sigma-1", Title: "Suspicious PowerShell", DocType: knowledge.DocTypeSigmaRule,
		Content:  "Detects encoded powershell commands.\n\ndetection: selection wildcard",
		Metadata: knowledge.Metadata{"level": "high", "tags": []any{"attack.t1059.001"}},
	}
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "detection_logic", chunks[1].ChunkType)
	assert.Equal(t, "high", chunks[0].Metadata.String("level"))
}

func TestChunkGenericSplitsLongContent(t *testing.T) {
	c := NewChunker()
	longText := ""
	for i := 0; i < 200; i++ {
		longText += "word word word word word word word word word word "
	}
	doc := knowledge.Document{ID: "doc-1", Title: "t", Content: longText, DocType: "unknown_type"}
	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), genericMaxChars)
	}
}

func TestCVSSSeverityBuckets(t *testing.T) {
	assert.Equal(t, "critical", cvssSeverity(9.8))
	assert.Equal(t, "high", cvssSeverity(7.0))
	assert.Equal(t, "medium", cvssSeverity(4.0))
	assert.Equal(t, "low", cvssSeverity(1.0))
}
