package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/frame"
)

func TestIncidentState_JSONRoundTripPreservesFrameEnvelope(t *testing.T) {
	alert := frame.Alert{
		TS: 1700000000000, ID: "a1", Severity: frame.SeverityHigh,
		Summary: "ssh brute force", Entities: []frame.EntityRef{{Type: "host", ID: "web-01"}},
	}
	fr := frame.NewAlertFrame("inc-42", alert.TS, alert)

	state := IncidentState{
		IncidentID:    "inc-42",
		Frames:        []frame.Frame{fr},
		Entities:      alert.Entities,
		CandidateTTPs: []string{"T1110"},
		Severity:      frame.SeverityHigh,
		Confidence:    0.8,
		BudgetTokens:  5000,
		BudgetSeconds: 300,
		StartedAt:     time.UnixMilli(1700000000000).UTC(),
		Decisions: []Decision{
			{Step: StepIngest, TS: 1700000000000, DecisionText: "ingested 1 alert frames"},
		},
		CurrentStep: StepScout,
	}

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded IncidentState
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Len(t, decoded.Frames, 1)
	require.NotNil(t, decoded.Frames[0].Alert)
	assert.Equal(t, "inc-42", decoded.Frames[0].IncidentID)
	assert.Equal(t, alert.TS, decoded.Frames[0].TS)
	assert.Equal(t, alert.ID, decoded.Frames[0].Alert.ID)
	assert.Equal(t, state.CandidateTTPs, decoded.CandidateTTPs)
	assert.Equal(t, state.CurrentStep, decoded.CurrentStep)
	assert.Len(t, decoded.Decisions, 1)
}

func TestIncidentState_JSONRoundTripWithNoFrames(t *testing.T) {
	state := IncidentState{IncidentID: "inc-1", CurrentStep: StepIngest, Severity: frame.SeverityInfo}
	data, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded IncidentState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "inc-1", decoded.IncidentID)
	assert.Empty(t, decoded.Frames)
}
