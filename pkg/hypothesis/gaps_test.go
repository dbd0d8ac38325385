package hypothesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectionGapsDrawsPredicatesFromStructureOnly(t *testing.T) {
	tactics := map[string][]string{"credential-access": {"T1110"}}
	gaps := detectionGaps([]string{"T1110"}, tactics, nil, []string{"ref-1"})

	require.Len(t, gaps, 1)
	g := gaps[0]
	assert.Equal(t, "T1110", g.TechniqueID)
	assert.Equal(t, "authentication", g.LogSource)
	assert.Contains(t, g.Tags, "attack.T1110")
	assert.Contains(t, g.DetectionPredicates, `tags contains "T1110"`)
	assert.Contains(t, g.DetectionPredicates, "evidence_ref in incident.evidence_refs")
}

func TestDetectionGapsOmitEvidencePredicateWithoutRefs(t *testing.T) {
	gaps := detectionGaps([]string{"T1021"}, map[string][]string{"lateral-movement": {"T1021"}}, nil, nil)
	require.Len(t, gaps, 1)
	assert.NotContains(t, gaps[0].DetectionPredicates, "evidence_ref in incident.evidence_refs")
	assert.Equal(t, "network", gaps[0].LogSource)
}

func TestLogSourceForUnknownTacticIsGeneric(t *testing.T) {
	assert.Equal(t, "generic", logSourceForTactic("unknown"))
	assert.Equal(t, "generic", logSourceForTactic(""))
}

func TestDetectionGapsEmptyWhenAllConfirmed(t *testing.T) {
	gaps := detectionGaps([]string{"T1110"}, map[string][]string{"credential-access": {"T1110"}}, map[string]bool{"T1110": true}, nil)
	assert.Empty(t, gaps)
}
