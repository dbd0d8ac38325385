package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/embedding/mock"
	"github.com/sentorproj/sentor/pkg/enrich"
	"github.com/sentorproj/sentor/pkg/frame"
	"github.com/sentorproj/sentor/pkg/index"
	"github.com/sentorproj/sentor/pkg/knowledge"
	"github.com/sentorproj/sentor/pkg/planner"
	"github.com/sentorproj/sentor/pkg/policy"
	"github.com/sentorproj/sentor/pkg/retrieval"
	"github.com/sentorproj/sentor/pkg/vectorstore/local"
)

// TestRansomwareIncidentEscalatesThroughRealPipeline drives one critical
// ransomware alert through the production wiring end to end: indexed
// knowledge, retrieval-backed analysts, the built-in playbook library,
// and the embedded policy fallback. The incident must reach the
// responder with a high-risk plan and escalate on the gate's verdict.
func TestRansomwareIncidentEscalatesThroughRealPipeline(t *testing.T) {
	ctx := context.Background()

	embedder := mock.New(16)
	store := local.New(t.TempDir(), 16)
	require.NoError(t, store.Initialize(ctx))
	builder, err := index.New(store, embedder, index.NewManifest(filepath.Join(t.TempDir(), "manifest.json")))
	require.NoError(t, err)
	require.NoError(t, builder.BuildIndex(ctx, []knowledge.Document{{
		ID:      "attack-t1486",
		Title:   "Data Encrypted for Impact",
		DocType: knowledge.DocTypeAttackTechnique,
		Content: "Adversaries may deploy ransomware and encrypt data on target hosts.\n\nDetection: watch for mass file modification and encryption activity.",
		Metadata: knowledge.Metadata{
			"doc_type":  "attack_technique",
			"attack_id": "T1486",
			"tactic":    "impact",
		},
	}}))

	engine := retrieval.New(store, embedder, mock.NewReranker())

	gate, err := policy.NewFallbackGate(ctx)
	require.NoError(t, err)

	o := New(
		enrich.NewTriageAnalyst(engine),
		enrich.NewHypothesisAnalyst(engine),
		planner.NewDefaultSelector(),
		gate,
		NewMemoryCheckpointStore(),
		DefaultConfig(),
		nil, nil,
	)

	alert := frame.Alert{
		TS: 1_700_000_000_000, ID: "a-ransom-1", Severity: frame.SeverityCritical,
		Summary: "Ransomware encryption activity detected on host web-01",
		Tags:    []string{"ransomware", "T1486"},
		Entities: []frame.EntityRef{
			{Type: "host", ID: "web-01"},
			{Type: "ip", ID: "10.0.0.5"},
		},
	}

	state, err := o.Run(ctx, "inc-ransom", []frame.Alert{alert}, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeEscalated, state.Outcome)
	assert.True(t, state.ApprovalRequired)

	require.NotNil(t, state.ResponderPlan)
	assert.Equal(t, planner.RiskHigh, state.ResponderPlan.Plan.RiskTier)
	ids := make([]string, 0, len(state.ResponderPlan.Plan.Playbooks))
	for _, p := range state.ResponderPlan.Plan.Playbooks {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, "isolate_infected_hosts")
	assert.Contains(t, ids, "collect_forensic_evidence")

	assert.False(t, state.ResponderPlan.PolicyDecision.Allow)
	assert.Equal(t, policy.SourceFallback, state.ResponderPlan.PolicyDecision.Source)

	var sawPolicyDecision bool
	for _, d := range state.Decisions {
		if strings.Contains(d.Rationale, "policy_decision") {
			sawPolicyDecision = true
		}
	}
	assert.True(t, sawPolicyDecision, "decision log records the policy verdict")
}
