// Package policy implements the policy gate: a single
// authorization function over (risk, confidence, plan) that returns
// allow/approval-required plus restrictions and recommendations. The
// primary path delegates to an external policy engine over HTTP; a
// deterministic, embedded Open Policy Agent fallback is authoritative
// when that engine is unreachable.
package policy

import (
	"context"
	"errors"

	"github.com/sentorproj/sentor/pkg/frame"
	"github.com/sentorproj/sentor/pkg/planner"
)

// ErrPolicyUnavailable is returned when neither the primary engine nor the
// embedded fallback can produce a verdict (a fallback compile/eval error
// is a programmer error, not a transient one, and is not retried).
var ErrPolicyUnavailable = errors.New("policy: unavailable")

// Input is the authorization query submitted to the gate.
type Input struct {
	IncidentID     string
	Severity       frame.Severity
	Confidence     float64
	RiskAssessment planner.RiskAssessment
	Plan           planner.Plan
}

// hasIrreversible reports whether any selected playbook is non-reversible.
func (in Input) hasIrreversible() bool {
	for _, p := range in.Plan.Playbooks {
		if !p.Reversible {
			return true
		}
	}
	return false
}

// evalInput is the flattened shape handed to both the HTTP engine and the
// Rego fallback.
type evalInput struct {
	IncidentID      string   `json:"incident_id"`
	Severity        string   `json:"severity"`
	Confidence      float64  `json:"confidence"`
	RiskTier        string   `json:"risk_tier"`
	RiskScore       float64  `json:"risk_score"`
	HasIrreversible bool     `json:"has_irreversible"`
	DurationMinutes int      `json:"duration_minutes"`
	Playbooks       []string `json:"playbooks"`
}

func (in Input) toEvalInput() evalInput {
	ids := make([]string, 0, len(in.Plan.Playbooks))
	for _, p := range in.Plan.Playbooks {
		ids = append(ids, p.ID)
	}
	return evalInput{
		IncidentID:      in.IncidentID,
		Severity:        string(in.Severity),
		Confidence:      in.Confidence,
		RiskTier:        string(in.RiskAssessment.OverallRisk),
		RiskScore:       in.RiskAssessment.RiskScore,
		HasIrreversible: in.hasIrreversible(),
		DurationMinutes: in.Plan.EstimatedDurationMinutes,
		Playbooks:       ids,
	}
}

// Source identifies which path produced a Decision.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// Decision is the policy gate's verdict.
type Decision struct {
	Allow            bool
	ApprovalRequired bool
	RiskLevel        string
	Restrictions     []string
	Recommendations  []string
	Source           Source
}

// Gate evaluates an authorization query.
type Gate interface {
	Evaluate(ctx context.Context, in Input) (Decision, error)
}
