package hypothesis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/frame"
)

type staticResolver map[string]string

func (r staticResolver) TacticFor(techniqueID string) (string, bool) {
	t, ok := r[techniqueID]
	return t, ok
}

func TestMultiTacticAttackPatternDetected(t *testing.T) {
	resolver := staticResolver{
		"T1110": "credential-access",
		"T1021": "lateral-movement",
		"T1059": "execution",
	}
	analyst := New(resolver)
	out := analyst.Build(Input{
		TriageConfidence: 0.8,
		CandidateTTPs:    []string{"T1110", "T1021", "T1059"},
		Severity:         frame.SeverityHigh,
		Now:              time.Now(),
	})

	var found bool
	for _, p := range out.Patterns {
		if p.Type == PatternMultiTacticAttack {
			found = true
		}
	}
	assert.True(t, found)
	assert.True(t, out.RequiresResponse)
}

func TestAttackChainFollowsKillChainOrder(t *testing.T) {
	resolver := staticResolver{
		"T1078": "initial-access",
		"T1110": "credential-access",
		"T1059": "execution",
	}
	analyst := New(resolver)
	out := analyst.Build(Input{
		CandidateTTPs: []string{"T1110", "T1078", "T1059"},
		Severity:      frame.SeverityMedium,
	})

	require.Len(t, out.AttackChain, 3)
	assert.Equal(t, "T1078", out.AttackChain[0].TechniqueID)
	assert.Equal(t, "T1059", out.AttackChain[1].TechniqueID)
	assert.Equal(t, "T1110", out.AttackChain[2].TechniqueID)
}

func TestConfidenceFormulaCappedAt095(t *testing.T) {
	resolver := staticResolver{"T1": "a", "T2": "b", "T3": "c"}
	analyst := New(resolver)
	out := analyst.Build(Input{
		TriageConfidence: 1.0,
		CandidateTTPs:    []string{"T1", "T2", "T3", "T4", "T5"},
		Entities: []frame.EntityRef{
			{Type: "host", ID: "h1"}, {Type: "host", ID: "h2"}, {Type: "ip", ID: "1.2.3.4"},
		},
		Severity: frame.SeverityCritical,
	})
	assert.LessOrEqual(t, out.Confidence, 0.95)
}

func TestSeverityReassessmentEscalatesOnMultiTactic(t *testing.T) {
	resolver := staticResolver{"T1": "a", "T2": "b", "T3": "c"}
	analyst := New(resolver)
	out := analyst.Build(Input{
		TriageConfidence: 0.9,
		CandidateTTPs:    []string{"T1", "T2", "T3"},
		Severity:         frame.SeverityLow,
	})
	assert.Greater(t, out.Severity.Ordinal(), frame.SeverityLow.Ordinal())
}

func TestDetectionGapsSkipConfirmedTechniques(t *testing.T) {
	resolver := staticResolver{"T1110": "credential-access", "T1021": "lateral-movement"}
	analyst := New(resolver)
	out := analyst.Build(Input{
		CandidateTTPs:       []string{"T1110", "T1021"},
		ConfirmedDetections: map[string]bool{"T1110": true},
		Severity:            frame.SeverityMedium,
	})
	require.Len(t, out.DetectionGaps, 1)
	assert.Equal(t, "T1021", out.DetectionGaps[0].TechniqueID)
	assert.Equal(t, "network", out.DetectionGaps[0].LogSource)
}

func TestHypothesisTextEmptyWithNoTTPs(t *testing.T) {
	analyst := New(nil)
	out := analyst.Build(Input{})
	assert.Equal(t, "Incident requires further investigation to determine attack pattern.", out.Hypothesis)
}

func TestRequiresResponseFalseOnLowConfidenceLowSeverity(t *testing.T) {
	analyst := New(nil)
	out := analyst.Build(Input{
		TriageConfidence: 0.1,
		CandidateTTPs:    []string{"T1"},
		Severity:         frame.SeverityLow,
	})
	assert.False(t, out.RequiresResponse)
}
