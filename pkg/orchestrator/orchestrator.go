package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentorproj/sentor/pkg/frame"
	"github.com/sentorproj/sentor/pkg/hypothesis"
	"github.com/sentorproj/sentor/pkg/planner"
	"github.com/sentorproj/sentor/pkg/policy"
	"github.com/sentorproj/sentor/pkg/triage"
)

// ErrIncidentLeased is returned when another orchestrator run currently
// holds the per-incident lease.
var ErrIncidentLeased = errors.New("orchestrator: incident is leased by another run")

// Triage is the narrow contract the orchestrator drives at the scout step.
type Triage interface {
	Run(alerts []frame.Alert, knownTTPs []string, now time.Time) triage.Output
}

// Hypothesizer is the narrow contract the orchestrator drives at the
// analyst step.
type Hypothesizer interface {
	Build(in hypothesis.Input) hypothesis.Output
}

// Responder is the narrow contract the orchestrator drives at the
// responder step.
type Responder interface {
	PlanResponse(ttps []string, entities []frame.EntityRef, severity frame.Severity) planner.Plan
}

// Clock abstracts time.Now so orchestrator runs are deterministic under
// test.
type Clock func() time.Time

// Config holds the orchestrator's tunables: per-node token costs, default
// incident budgets, and lease duration.
type Config struct {
	ScoutTokenCost       int
	AnalystTokenCost     int
	ResponderTokenCost   int
	DefaultBudgetTokens  int
	DefaultBudgetSeconds int
	LeaseTTL             time.Duration
}

// DefaultConfig returns workable defaults; the exact per-node costs are a
// deployment tuning knob.
func DefaultConfig() Config {
	return Config{
		ScoutTokenCost:       500,
		AnalystTokenCost:     800,
		ResponderTokenCost:   600,
		DefaultBudgetTokens:  5000,
		DefaultBudgetSeconds: 300,
		LeaseTTL:             30 * time.Second,
	}
}

// Orchestrator drives one incident through the ingest → scout →
// (analyst|escalate|complete) → (responder|escalate|complete) →
// (escalate|complete) state machine.
type Orchestrator struct {
	triage       Triage
	hypothesizer Hypothesizer
	responder    Responder
	gate         policy.Gate
	store        CheckpointStore
	cfg          Config
	clock        Clock
	logger       *slog.Logger
}

// New constructs an Orchestrator. A nil clock defaults to time.Now; a nil
// logger defaults to slog.Default().
func New(t Triage, h Hypothesizer, r Responder, gate policy.Gate, store CheckpointStore, cfg Config, clock Clock, logger *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{triage: t, hypothesizer: h, responder: r, gate: gate, store: store, cfg: cfg, clock: clock, logger: logger}
}

// Run drives one incident batch of alert frames through the full pipeline,
// resuming from the last checkpoint if one exists for incidentID, and
// returns the terminal IncidentState.
//
// Commit-before-ack: Run checkpoints after every node, and when commit is
// non-nil it is called right after each successful checkpoint save. A bus
// consumer wires its ack of the frames that produced this run's input into
// commit, so checkpoint durability strictly precedes ack; a commit error
// ends the run with that error.
func (o *Orchestrator) Run(ctx context.Context, incidentID string, alerts []frame.Alert, commit func(*IncidentState) error) (*IncidentState, error) {
	release, ok, err := o.store.AcquireLease(ctx, incidentID, o.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrIncidentLeased
	}
	defer release()

	state, err := o.loadOrCreate(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	if err := o.stepIngest(ctx, state, alerts, commit); err != nil {
		return state, err
	}

	for state.CurrentStep != StepComplete && state.CurrentStep != StepEscalate {
		switch state.CurrentStep {
		case StepScout:
			if err := o.stepScout(ctx, state, commit); err != nil {
				return state, err
			}
		case StepAnalyst:
			if err := o.stepAnalyst(ctx, state, commit); err != nil {
				return state, err
			}
		case StepResponder:
			if err := o.stepResponder(ctx, state, commit); err != nil {
				return state, err
			}
		default:
			return state, fmt.Errorf("orchestrator: unreachable step %q", state.CurrentStep)
		}
	}

	if state.CurrentStep == StepEscalate {
		state.Outcome = OutcomeEscalated
		now := o.clock()
		state.recordDecision(StepEscalate, now, "incident escalated", nil, "")
	} else {
		state.Outcome = OutcomeCompleted
		now := o.clock()
		state.recordDecision(StepComplete, now, "incident completed", nil, "")
	}
	if err := o.checkpoint(ctx, state, commit); err != nil {
		return state, err
	}
	return state, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, incidentID string) (*IncidentState, error) {
	existing, found, err := o.store.Load(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load checkpoint: %w", err)
	}
	if found {
		return existing, nil
	}
	return &IncidentState{
		IncidentID:    incidentID,
		BudgetTokens:  o.cfg.DefaultBudgetTokens,
		BudgetSeconds: o.cfg.DefaultBudgetSeconds,
		StartedAt:     o.clock(),
		CurrentStep:   StepIngest,
		Severity:      frame.SeverityInfo,
	}, nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, state *IncidentState, commit func(*IncidentState) error) error {
	if err := o.store.Save(ctx, state); err != nil {
		return fmt.Errorf("orchestrator: save checkpoint: %w", err)
	}
	if commit != nil {
		if err := commit(state); err != nil {
			return fmt.Errorf("orchestrator: commit hook: %w", err)
		}
	}
	return nil
}

// stepIngest accumulates the new alert frames into the incident and
// derives its entity set. Transition: ingest→scout unconditional.
func (o *Orchestrator) stepIngest(ctx context.Context, state *IncidentState, alerts []frame.Alert, commit func(*IncidentState) error) error {
	now := o.clock()
	seen := make(map[string]bool, len(state.Entities))
	for _, e := range state.Entities {
		seen[e.Type+":"+e.ID] = true
	}
	for _, a := range alerts {
		fr := frame.NewAlertFrame(state.IncidentID, a.TS, a)
		state.Frames = append(state.Frames, fr)
		for _, e := range a.Entities {
			key := e.Type + ":" + e.ID
			if !seen[key] {
				seen[key] = true
				state.Entities = append(state.Entities, e)
			}
		}
	}
	state.recordDecision(StepIngest, now, fmt.Sprintf("ingested %d alert frames", len(alerts)),
		map[string]any{"alert_count": len(alerts), "total_frames": len(state.Frames)}, "")
	state.CurrentStep = StepScout
	return o.checkpoint(ctx, state, commit)
}

// alertsFromFrames extracts the Alert payloads accumulated so far.
func alertsFromFrames(frames []frame.Frame) []frame.Alert {
	alerts := make([]frame.Alert, 0, len(frames))
	for _, f := range frames {
		if f.Alert != nil {
			alerts = append(alerts, *f.Alert)
		}
	}
	return alerts
}

// stepScout runs the triage analyst. Transition: scout→analyst iff
// confidence > 0.3; →escalate iff budget exhausted; else →complete.
func (o *Orchestrator) stepScout(ctx context.Context, state *IncidentState, commit func(*IncidentState) error) error {
	now := o.clock()
	out := o.triage.Run(alertsFromFrames(state.Frames), state.CandidateTTPs, now)
	state.ScoutFindings = &out
	state.Confidence = out.Confidence
	state.Severity = state.Severity.Max(out.Severity)
	state.CandidateTTPs = mergeTTPs(state.CandidateTTPs, out.NewTTPs)
	for _, d := range out.Duplicates {
		state.EvidenceRefs = appendUnique(state.EvidenceRefs, d.DuplicateOf)
	}

	state.spendBudget(o.cfg.ScoutTokenCost, now)
	state.recordDecision(StepScout, now, "triage complete",
		map[string]any{"confidence": out.Confidence, "severity": string(out.Severity), "new_ttps": out.NewTTPs},
		fmt.Sprintf("requires_analysis=%v", out.RequiresAnalysis))

	switch {
	case state.budgetExhausted(now):
		state.ShouldEscalate = true
		state.CurrentStep = StepEscalate
	case out.Confidence > 0.3:
		state.CurrentStep = StepAnalyst
	default:
		state.CurrentStep = StepComplete
	}
	return o.checkpoint(ctx, state, commit)
}

func mergeTTPs(known, fresh []string) []string {
	seen := make(map[string]bool, len(known))
	out := append([]string(nil), known...)
	for _, k := range known {
		seen[k] = true
	}
	for _, t := range fresh {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// hostCount returns the number of distinct host entities.
func hostCount(entities []frame.EntityRef) int {
	hosts := make(map[string]bool)
	for _, e := range entities {
		if e.Type == "host" {
			hosts[e.ID] = true
		}
	}
	return len(hosts)
}

// stepAnalyst runs the hypothesis analyst. Transition: analyst→responder
// iff confidence > 0.7 ∧ requires_response; →escalate iff should_escalate;
// else →complete.
func (o *Orchestrator) stepAnalyst(ctx context.Context, state *IncidentState, commit func(*IncidentState) error) error {
	now := o.clock()

	var scoutConfidence float64
	var evidenceRefs []string
	if state.ScoutFindings != nil {
		scoutConfidence = state.ScoutFindings.Confidence
	}
	evidenceRefs = state.EvidenceRefs

	out := o.hypothesizer.Build(hypothesis.Input{
		TriageConfidence: scoutConfidence,
		CandidateTTPs:    state.CandidateTTPs,
		Entities:         state.Entities,
		Severity:         state.Severity,
		EvidenceRefs:     evidenceRefs,
		Now:              now,
	})
	state.AnalystFindings = &out
	state.Confidence = out.Confidence
	state.Severity = out.Severity

	state.spendBudget(o.cfg.AnalystTokenCost, now)
	state.recordDecision(StepAnalyst, now, "hypothesis complete",
		map[string]any{"confidence": out.Confidence, "severity": string(out.Severity), "requires_response": out.RequiresResponse},
		out.Hypothesis)

	switch {
	case state.ShouldEscalate:
		state.CurrentStep = StepEscalate
	case out.Confidence > 0.7 && out.RequiresResponse:
		state.CurrentStep = StepResponder
	default:
		state.CurrentStep = StepComplete
	}
	return o.checkpoint(ctx, state, commit)
}

// stepResponder selects playbooks, assesses risk, and consults the policy
// gate. Transition: responder→escalate iff approval_required ∨
// should_escalate; else →complete.
func (o *Orchestrator) stepResponder(ctx context.Context, state *IncidentState, commit func(*IncidentState) error) error {
	now := o.clock()

	plan := o.responder.PlanResponse(state.CandidateTTPs, state.Entities, state.Severity)
	risk := planner.AssessRisk(plan, state.Severity, state.Confidence, hostCount(state.Entities))

	decision, err := o.gate.Evaluate(ctx, policy.Input{
		IncidentID:     state.IncidentID,
		Severity:       state.Severity,
		Confidence:     state.Confidence,
		RiskAssessment: risk,
		Plan:           plan,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: policy gate: %w", err)
	}

	state.ResponderPlan = &ResponderPlan{Plan: plan, RiskAssessment: risk, PolicyDecision: decision}
	state.ApprovalRequired = risk.ApprovalRequired || decision.ApprovalRequired

	state.spendBudget(o.cfg.ResponderTokenCost, now)
	state.recordDecision(StepResponder, now, "response plan gated",
		map[string]any{
			"risk_tier": string(risk.OverallRisk), "risk_score": risk.RiskScore,
			"approval_required": state.ApprovalRequired, "policy_source": string(decision.Source),
		},
		fmt.Sprintf("policy_decision: allow=%v approval_required=%v", decision.Allow, decision.ApprovalRequired))

	if state.ApprovalRequired || state.ShouldEscalate {
		state.CurrentStep = StepEscalate
	} else {
		state.CurrentStep = StepComplete
	}
	return o.checkpoint(ctx, state, commit)
}
