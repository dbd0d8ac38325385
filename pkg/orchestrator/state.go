// Package orchestrator implements the incident state machine — triage,
// hypothesize, plan, gate — with per-incident budgets, conditional
// routing, an append-only decision log, and checkpointed resumability.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentorproj/sentor/pkg/frame"
	"github.com/sentorproj/sentor/pkg/hypothesis"
	"github.com/sentorproj/sentor/pkg/planner"
	"github.com/sentorproj/sentor/pkg/policy"
	"github.com/sentorproj/sentor/pkg/triage"
)

// Step names the pipeline nodes.
type Step string

const (
	StepIngest    Step = "ingest"
	StepScout     Step = "scout"
	StepAnalyst   Step = "analyst"
	StepResponder Step = "responder"
	StepEscalate  Step = "escalate"
	StepComplete  Step = "complete"
)

// Decision is one append-only entry in the incident's audit trail. The
// log is never rewritten; replaying it with ReplayDecisions reproduces the
// final state's routing-relevant fields.
type Decision struct {
	Step         Step           `json:"step"`
	TS           int64          `json:"ts"`
	DecisionText string         `json:"decision_text"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	Rationale    string         `json:"rationale,omitempty"`
}

// Outcome is the terminal state an incident reaches.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeEscalated Outcome = "escalated"
	OutcomeFailed    Outcome = "failed"
)

// IncidentState is the orchestrator's exclusively-owned per-incident
// record. It is the unit of checkpointing.
type IncidentState struct {
	IncidentID       string             `json:"incident_id"`
	Frames           []frame.Frame      `json:"frames"`
	Entities         []frame.EntityRef  `json:"entities"`
	CandidateTTPs    []string           `json:"candidate_ttps"`
	EvidenceRefs     []string           `json:"evidence_refs"`
	Severity         frame.Severity     `json:"severity"`
	Confidence       float64            `json:"confidence"`
	BudgetTokens     int                `json:"budget_tokens"`
	BudgetSeconds    int                `json:"budget_seconds"`
	StartedAt        time.Time          `json:"started_at"`
	Decisions        []Decision         `json:"decisions"`
	ScoutFindings    *triage.Output     `json:"scout_findings,omitempty"`
	AnalystFindings  *hypothesis.Output `json:"analyst_findings,omitempty"`
	ResponderPlan    *ResponderPlan     `json:"responder_plan,omitempty"`
	CurrentStep      Step               `json:"current_step"`
	ShouldEscalate   bool               `json:"should_escalate"`
	ApprovalRequired bool               `json:"approval_required"`
	Outcome          Outcome            `json:"outcome"`
}

// ResponderPlan bundles the planner's output and the policy verdict for
// one incident.
type ResponderPlan struct {
	Plan           planner.Plan           `json:"plan"`
	RiskAssessment planner.RiskAssessment `json:"risk_assessment"`
	PolicyDecision policy.Decision        `json:"policy_decision"`
}

// secondsRemaining returns the incident's remaining time budget as of now.
func (s *IncidentState) secondsRemaining(now time.Time) int {
	if s.StartedAt.IsZero() {
		return s.BudgetSeconds
	}
	elapsed := int(now.Sub(s.StartedAt).Seconds())
	return s.BudgetSeconds - elapsed
}

// budgetExhausted reports whether either the token or the time budget has
// run out. Checked at every transition.
func (s *IncidentState) budgetExhausted(now time.Time) bool {
	return s.BudgetTokens <= 0 || s.secondsRemaining(now) <= 0
}

// spendBudget subtracts an estimated token cost and, if that or the time
// budget is now exhausted, marks the incident for escalation.
func (s *IncidentState) spendBudget(tokens int, now time.Time) {
	s.BudgetTokens -= tokens
	if s.budgetExhausted(now) {
		s.ShouldEscalate = true
	}
}

// recordDecision appends one audit-trail entry.
func (s *IncidentState) recordDecision(step Step, now time.Time, text string, metrics map[string]any, rationale string) {
	s.Decisions = append(s.Decisions, Decision{
		Step: step, TS: now.UnixMilli(), DecisionText: text, Metrics: metrics, Rationale: rationale,
	})
}

// ReplayDecisions reconstructs the routing-relevant fields of an incident
// from its append-only decision log alone: current step, outcome,
// confidence, severity, candidate TTPs, and the approval flag. The log is
// the audit trail; a replayed state agreeing with the final checkpoint is
// what makes it trustworthy.
func ReplayDecisions(incidentID string, log []Decision) *IncidentState {
	state := &IncidentState{IncidentID: incidentID, CurrentStep: StepIngest, Severity: frame.SeverityInfo}
	for _, d := range log {
		state.CurrentStep = d.Step
		state.Decisions = append(state.Decisions, d)

		if c, ok := d.Metrics["confidence"].(float64); ok {
			state.Confidence = c
		}
		if sev, ok := d.Metrics["severity"].(string); ok {
			state.Severity = frame.Severity(sev)
		}
		switch ttps := d.Metrics["new_ttps"].(type) {
		case []string:
			state.CandidateTTPs = mergeTTPs(state.CandidateTTPs, ttps)
		case []any: // a checkpoint that went through a JSON round trip
			for _, v := range ttps {
				if id, ok := v.(string); ok {
					state.CandidateTTPs = mergeTTPs(state.CandidateTTPs, []string{id})
				}
			}
		}
		if approval, ok := d.Metrics["approval_required"].(bool); ok {
			state.ApprovalRequired = approval
		}

		switch d.Step {
		case StepEscalate:
			state.Outcome = OutcomeEscalated
		case StepComplete:
			state.Outcome = OutcomeCompleted
		}
	}
	return state
}

// incidentStateDTO mirrors IncidentState field-for-field, except Frames is
// pre-encoded via frame.JSONCodec — Frame itself tags TS/IncidentID as
// json:"-" (the wire envelope owns those), so the generic
// encoding/json path would silently drop them on a checkpointed incident.
type incidentStateDTO struct {
	IncidentID       string             `json:"incident_id"`
	Frames           []json.RawMessage  `json:"frames"`
	Entities         []frame.EntityRef  `json:"entities"`
	CandidateTTPs    []string           `json:"candidate_ttps"`
	EvidenceRefs     []string           `json:"evidence_refs"`
	Severity         frame.Severity     `json:"severity"`
	Confidence       float64            `json:"confidence"`
	BudgetTokens     int                `json:"budget_tokens"`
	BudgetSeconds    int                `json:"budget_seconds"`
	StartedAt        time.Time          `json:"started_at"`
	Decisions        []Decision         `json:"decisions"`
	ScoutFindings    *triage.Output     `json:"scout_findings,omitempty"`
	AnalystFindings  *hypothesis.Output `json:"analyst_findings,omitempty"`
	ResponderPlan    *ResponderPlan     `json:"responder_plan,omitempty"`
	CurrentStep      Step               `json:"current_step"`
	ShouldEscalate   bool               `json:"should_escalate"`
	ApprovalRequired bool               `json:"approval_required"`
	Outcome          Outcome            `json:"outcome"`
}

// MarshalJSON implements json.Marshaler, routing Frames through
// frame.JSONCodec so their ts/incident_id envelope survives the round trip.
func (s IncidentState) MarshalJSON() ([]byte, error) {
	codec := frame.JSONCodec{}
	frames := make([]json.RawMessage, len(s.Frames))
	for i, f := range s.Frames {
		b, err := codec.Encode(f)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: encode checkpointed frame: %w", err)
		}
		frames[i] = b
	}
	dto := incidentStateDTO{
		IncidentID: s.IncidentID, Frames: frames, Entities: s.Entities,
		CandidateTTPs: s.CandidateTTPs, EvidenceRefs: s.EvidenceRefs,
		Severity: s.Severity, Confidence: s.Confidence,
		BudgetTokens: s.BudgetTokens, BudgetSeconds: s.BudgetSeconds, StartedAt: s.StartedAt,
		Decisions: s.Decisions, ScoutFindings: s.ScoutFindings, AnalystFindings: s.AnalystFindings,
		ResponderPlan: s.ResponderPlan, CurrentStep: s.CurrentStep,
		ShouldEscalate: s.ShouldEscalate, ApprovalRequired: s.ApprovalRequired, Outcome: s.Outcome,
	}
	return json.Marshal(dto)
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (s *IncidentState) UnmarshalJSON(b []byte) error {
	var dto incidentStateDTO
	if err := json.Unmarshal(b, &dto); err != nil {
		return err
	}
	codec := frame.JSONCodec{}
	frames := make([]frame.Frame, len(dto.Frames))
	for i, raw := range dto.Frames {
		f, err := codec.Decode(raw)
		if err != nil {
			return fmt.Errorf("orchestrator: decode checkpointed frame: %w", err)
		}
		frames[i] = f
	}
	*s = IncidentState{
		IncidentID: dto.IncidentID, Frames: frames, Entities: dto.Entities,
		CandidateTTPs: dto.CandidateTTPs, EvidenceRefs: dto.EvidenceRefs,
		Severity: dto.Severity, Confidence: dto.Confidence,
		BudgetTokens: dto.BudgetTokens, BudgetSeconds: dto.BudgetSeconds, StartedAt: dto.StartedAt,
		Decisions: dto.Decisions, ScoutFindings: dto.ScoutFindings, AnalystFindings: dto.AnalystFindings,
		ResponderPlan: dto.ResponderPlan, CurrentStep: dto.CurrentStep,
		ShouldEscalate: dto.ShouldEscalate, ApprovalRequired: dto.ApprovalRequired, Outcome: dto.Outcome,
	}
	return nil
}
