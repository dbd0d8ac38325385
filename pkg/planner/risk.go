package planner

import (
	"fmt"

	"github.com/sentorproj/sentor/pkg/frame"
)

var baseRisk = map[RiskTier]float64{RiskLow: 0.3, RiskMedium: 0.6, RiskHigh: 0.8, RiskCritical: 0.9}

// RiskAssessment is the full risk verdict for a Plan.
type RiskAssessment struct {
	OverallRisk            RiskTier
	RiskScore              float64
	ApprovalRequired       bool
	RiskFactors            []string
	MitigationSuggestions  []string
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AssessRisk scores a plan:
//
//	risk_score = base_risk(max_tier) · severity_multiplier · (2 − clamp(conf, 0.5, 1))
//
// clamped to [0, 1].
func AssessRisk(plan Plan, severity frame.Severity, confidence float64, hostCount int) RiskAssessment {
	if len(plan.Playbooks) == 0 {
		return RiskAssessment{OverallRisk: RiskLow, RiskScore: 0.1}
	}

	base := baseRisk[plan.RiskTier]
	mult := severityMultiplier(severity)
	confFactor := clamp(confidence, 0.5, 1.0)
	score := clamp(base*mult*(2.0-confFactor), 0, 1)

	var factors, mitigations []string
	var highRiskCount int
	for _, p := range plan.Playbooks {
		if p.RiskTier == RiskHigh {
			highRiskCount++
		}
	}
	if highRiskCount > 0 {
		factors = append(factors, fmt.Sprintf("%d high-risk playbooks selected", highRiskCount))
		mitigations = append(mitigations, "Consider manual approval for high-risk actions")
	}

	var irreversible int
	for _, p := range plan.Playbooks {
		if !p.Reversible {
			irreversible++
		}
	}
	if irreversible > 0 {
		factors = append(factors, fmt.Sprintf("%d irreversible actions planned", irreversible))
		mitigations = append(mitigations, "Ensure adequate backups before irreversible actions")
	}

	if plan.EstimatedDurationMinutes > 60 {
		factors = append(factors, fmt.Sprintf("Long execution time: %d minutes", plan.EstimatedDurationMinutes))
		mitigations = append(mitigations, "Consider staging execution during maintenance window")
	}

	if confidence < 0.6 {
		factors = append(factors, fmt.Sprintf("Low confidence in incident analysis: %.2f", confidence))
		mitigations = append(mitigations, "Consider additional investigation before automated response")
	}

	if hostCount > 3 {
		factors = append(factors, fmt.Sprintf("Multiple hosts affected: %d", hostCount))
		mitigations = append(mitigations, "Consider phased rollout of containment actions")
	}

	var overall RiskTier
	switch {
	case score >= 0.8:
		overall = RiskCritical
	case score >= 0.6:
		overall = RiskHigh
	case score >= 0.3:
		overall = RiskMedium
	default:
		overall = RiskLow
	}

	approvalRequired := overall == RiskHigh || overall == RiskCritical ||
		score > 0.7 || highRiskCount > 0 || confidence < 0.5

	return RiskAssessment{
		OverallRisk:           overall,
		RiskScore:             score,
		ApprovalRequired:      approvalRequired,
		RiskFactors:           factors,
		MitigationSuggestions: mitigations,
	}
}

// severityMultiplier is the per-severity risk scaling
// table; info floors at the same multiplier as low.
func severityMultiplier(s frame.Severity) float64 {
	switch s {
	case frame.SeverityLow, frame.SeverityInfo:
		return 0.8
	case frame.SeverityHigh:
		return 1.2
	case frame.SeverityCritical:
		return 1.4
	default:
		return 1.0
	}
}
