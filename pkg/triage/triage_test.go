package triage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/frame"
)

func bruteForceAlert(id string, ts time.Time) frame.Alert {
	return frame.Alert{
		ID:       id,
		TS:       ts.UnixMilli(),
		Severity: frame.SeverityHigh,
		Entities: []frame.EntityRef{
			{Type: "ip", ID: "192.168.1.100"},
			{Type: "host", ID: "web-01"},
			{Type: "user", ID: "admin"},
		},
		Tags:    []string{"ssh", "brute_force", "T1110"},
		Summary: "SSH brute force attack detected",
	}
}

// TestSSHBruteForceTriageScenario: three identical
// alerts; the second falls within the one-hour dedup window of the first
// (a duplicate), the third more than an hour after it (accepted as a second
// unique alert).
func TestSSHBruteForceTriageScenario(t *testing.T) {
	base := time.Date(2026, 1, 1, 14, 30, 0, 0, time.UTC)
	alerts := []frame.Alert{
		bruteForceAlert("a1", base),
		bruteForceAlert("a2", base.Add(90*time.Second)),
		bruteForceAlert("a3", base.Add(90*time.Minute)),
	}

	analyst := New(nil)
	out := analyst.Run(alerts, nil, base.Add(91*time.Minute))

	require.Len(t, out.Tagged, 2, "third alert falls outside the one-hour dedup window from the first's insertion")
	assert.Contains(t, out.NewTTPs, "T1110")
	assert.Equal(t, frame.SeverityHigh, out.Severity)
	assert.GreaterOrEqual(t, out.Confidence, 0.6)
	assert.True(t, out.RequiresAnalysis)
}

func TestDeduplicationWithinWindowEmitsDuplicate(t *testing.T) {
	base := time.Now()
	a1 := bruteForceAlert("a1", base)
	a2 := bruteForceAlert("a2", base.Add(10*time.Minute))

	analyst := New(nil)
	out := analyst.Run([]frame.Alert{a1, a2}, nil, base.Add(11*time.Minute))

	require.Len(t, out.Tagged, 1)
	require.Len(t, out.Duplicates, 1)
	assert.Equal(t, "a1", out.Duplicates[0].DuplicateOf)
}

func TestDeduplicationOutsideWindowAccepted(t *testing.T) {
	base := time.Now()
	a1 := bruteForceAlert("a1", base)
	a2 := bruteForceAlert("a2", base.Add(2*time.Hour))

	analyst := New(nil)
	out := analyst.Run([]frame.Alert{a1, a2}, nil, base.Add(2*time.Hour))

	assert.Len(t, out.Tagged, 2)
	assert.Empty(t, out.Duplicates)
}

func TestTacticAgreementBoostCappedAtOne(t *testing.T) {
	tags := []TechniqueTag{
		{TechniqueID: "T1110", Tactic: "credential-access", Source: SourceDirectTag},
		{TechniqueID: "T1110.001", Tactic: "credential-access", Source: SourceDirectTag},
	}
	conf := aggregateConfidence(tags)
	assert.LessOrEqual(t, conf, 1.0)
	assert.InDelta(t, 1.0, conf, 1e-9) // 1.0 mean * 1.2 boost, capped
}

func TestRequiresAnalysisOnHighSeverityEvenWithLowConfidence(t *testing.T) {
	alert := frame.Alert{ID: "a1", Severity: frame.SeverityCritical, Summary: "unrelated event"}
	analyst := New(nil)
	out := analyst.Run([]frame.Alert{alert}, nil, time.Now())
	assert.True(t, out.RequiresAnalysis)
}

func TestNewTTPsExcludesAlreadyKnown(t *testing.T) {
	base := time.Now()
	alert := bruteForceAlert("a1", base)
	analyst := New(nil)
	out := analyst.Run([]frame.Alert{alert}, []string{"T1110"}, base)
	assert.NotContains(t, out.NewTTPs, "T1110")
}
