package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/frame"
	"github.com/sentorproj/sentor/pkg/planner"
)

func lowRiskInput() Input {
	return Input{
		IncidentID: "inc-1",
		Severity:   frame.SeverityLow,
		Confidence: 0.75,
		RiskAssessment: planner.RiskAssessment{
			OverallRisk: planner.RiskLow,
			RiskScore:   0.2,
		},
		Plan: planner.Plan{
			Playbooks: []planner.PlaybookSummary{
				{ID: "collect_forensic_evidence", RiskTier: planner.RiskLow, Reversible: true, EstimatedDurationMinutes: 20},
			},
		},
	}
}

func highRiskInput() Input {
	return Input{
		IncidentID: "inc-2",
		Severity:   frame.SeverityCritical,
		Confidence: 0.9,
		RiskAssessment: planner.RiskAssessment{
			OverallRisk: planner.RiskHigh,
			RiskScore:   0.85,
		},
		Plan: planner.Plan{
			Playbooks: []planner.PlaybookSummary{
				{ID: "isolate_infected_hosts", RiskTier: planner.RiskHigh, Reversible: false, EstimatedDurationMinutes: 90},
			},
			EstimatedDurationMinutes: 90,
		},
	}
}

func TestFallbackGate_LowRiskAllows(t *testing.T) {
	ctx := context.Background()
	g, err := NewFallbackGate(ctx)
	require.NoError(t, err)

	d, err := g.Evaluate(ctx, lowRiskInput())
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.False(t, d.ApprovalRequired)
	assert.Equal(t, "low", d.RiskLevel)
	assert.Equal(t, SourceFallback, d.Source)
}

func TestFallbackGate_HighRiskRequiresApproval(t *testing.T) {
	ctx := context.Background()
	g, err := NewFallbackGate(ctx)
	require.NoError(t, err)

	d, err := g.Evaluate(ctx, highRiskInput())
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.True(t, d.ApprovalRequired)
	assert.Contains(t, d.Restrictions, "high_risk_tier_requires_approval")
	assert.Contains(t, d.Restrictions, "irreversible_action_present")
	assert.Contains(t, d.Restrictions, "execution_window_exceeds_60_minutes")
}

func TestFallbackGate_Deterministic(t *testing.T) {
	ctx := context.Background()
	g, err := NewFallbackGate(ctx)
	require.NoError(t, err)

	in := highRiskInput()
	first, err := g.Evaluate(ctx, in)
	require.NoError(t, err)
	second, err := g.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHTTPGate_Evaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/data/sentor/gate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"allow":true,"approval_required":false,"risk_level":"low","restrictions":[],"recommendations":["proceed"]}}`))
	}))
	defer srv.Close()

	g := NewHTTPGate(HTTPConfig{BaseURL: srv.URL, PolicyPath: "sentor/gate"})
	d, err := g.Evaluate(context.Background(), lowRiskInput())
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, SourcePrimary, d.Source)
	assert.Equal(t, []string{"proceed"}, d.Recommendations)
}

func TestCircuitGate_DegradesToFallbackOnPrimaryFailure(t *testing.T) {
	ctx := context.Background()
	fallback, err := NewFallbackGate(ctx)
	require.NoError(t, err)

	failing := failingGate{err: errors.New("boom")}
	cg := NewCircuitGate(failing, fallback, CircuitGateConfig{ConsecutiveFailures: 1}, nil)

	d, err := cg.Evaluate(ctx, lowRiskInput())
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, d.Source)
	assert.True(t, d.Allow)
}

func TestCircuitGate_NilPrimaryUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	fallback, err := NewFallbackGate(ctx)
	require.NoError(t, err)

	cg := NewCircuitGate(nil, fallback, CircuitGateConfig{}, nil)
	d, err := cg.Evaluate(ctx, lowRiskInput())
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, d.Source)
}

type failingGate struct{ err error }

func (f failingGate) Evaluate(ctx context.Context, in Input) (Decision, error) {
	return Decision{}, f.err
}
