// Package hypothesis implements the hypothesis analyst:
// pattern extraction, timeline construction, kill-chain ordering, hypothesis
// templating, confidence scoring, severity reassessment, and detection-gap
// rule drafting.
package hypothesis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sentorproj/sentor/pkg/frame"
)

// killChainOrder is the canonical tactic progression.
var killChainOrder = []string{
	"initial-access",
	"execution",
	"persistence",
	"privilege-escalation",
	"defense-evasion",
	"credential-access",
	"discovery",
	"lateral-movement",
	"collection",
	"command-and-control",
	"exfiltration",
	"impact",
}

var killChainIndex = func() map[string]int {
	m := make(map[string]int, len(killChainOrder))
	for i, t := range killChainOrder {
		m[t] = i
	}
	return m
}()

// TacticResolver maps a technique ID to its tactic, via retrieval when
// available or a cached static mapping otherwise. A nil resolver leaves
// every technique's tactic unresolved ("unknown").
type TacticResolver interface {
	TacticFor(techniqueID string) (tactic string, ok bool)
}

// Pattern is a named, severity-tagged structural observation over the
// grouped TTPs.
type Pattern struct {
	Type        string
	Description string
	Severity    frame.Severity
}

const (
	PatternMultiTacticAttack        = "multi_tactic_attack"
	PatternLateralMovement          = "lateral_movement"
	PatternPersistenceEstablishment = "persistence_establishment"
	PatternCredentialHarvesting     = "credential_harvesting"
)

// ChainStep is one technique placed on the canonical kill-chain timeline.
type ChainStep struct {
	TechniqueID string
	Tactic      string
}

// TimelineEvent is one sorted, timestamped entry in the incident timeline.
type TimelineEvent struct {
	At     time.Time
	Event  string
	Source string
	Entity *frame.EntityRef
}

// DetectionGapRule is a drafted Sigma-shaped rule for a candidate technique
// with no retrieval-confirmed coverage.
type DetectionGapRule struct {
	Title               string
	ID                  string
	TechniqueID         string
	LogSource           string
	DetectionPredicates []string
	Tags                []string
	PositiveTestEvent   map[string]any
	NegativeTestEvent   map[string]any
}

// Input is the hypothesis analyst's input.
type Input struct {
	TriageConfidence float64
	CandidateTTPs    []string
	Entities         []frame.EntityRef
	EvidenceRefs     []string
	Severity         frame.Severity
	// ConfirmedDetections is the set of technique IDs with a
	// retrieval-confirmed detection rule, used to find gaps.
	ConfirmedDetections map[string]bool
	Now                 time.Time
}

// Output is the hypothesis analyst's full result.
type Output struct {
	Hypothesis       string
	Tactics          map[string][]string // tactic -> technique IDs
	Patterns         []Pattern
	AttackChain      []ChainStep
	Timeline         []TimelineEvent
	Confidence       float64
	Severity         frame.Severity
	RequiresResponse bool
	DetectionGaps    []DetectionGapRule
}

// Analyst runs the hypothesis-building algorithm.
type Analyst struct {
	resolver TacticResolver
}

// New constructs an Analyst. A nil resolver leaves every technique's tactic
// unresolved.
func New(resolver TacticResolver) *Analyst {
	return &Analyst{resolver: resolver}
}

func (a *Analyst) resolveTactic(techniqueID string) string {
	if a.resolver != nil {
		if tactic, ok := a.resolver.TacticFor(techniqueID); ok {
			return tactic
		}
	}
	return ""
}

// Build runs the full algorithm.
func (a *Analyst) Build(in Input) Output {
	tactics := a.groupByTactic(in.CandidateTTPs)
	patterns := detectPatterns(tactics)
	timeline := constructTimeline(in.Entities, in.Now)
	chain := buildAttackChain(tactics)

	hyp := hypothesisText(tactics, patterns, in.Entities, in.Severity)
	confidence := confidenceScore(in.TriageConfidence, in.CandidateTTPs, patterns, timeline)
	severity := reassessSeverity(in.Severity, patterns, tactics, confidence)
	requiresResponse := requiresResponse(confidence, severity, patterns, tactics)
	gaps := detectionGaps(in.CandidateTTPs, tactics, in.ConfirmedDetections, in.EvidenceRefs)

	return Output{
		Hypothesis:       hyp,
		Tactics:          tactics,
		Patterns:         patterns,
		AttackChain:      chain,
		Timeline:         timeline,
		Confidence:       confidence,
		Severity:         severity,
		RequiresResponse: requiresResponse,
		DetectionGaps:    gaps,
	}
}

func (a *Analyst) groupByTactic(ttps []string) map[string][]string {
	tactics := make(map[string][]string)
	for _, ttp := range ttps {
		tactic := a.resolveTactic(ttp)
		if tactic == "" {
			tactic = "unknown"
		}
		tactics[tactic] = append(tactics[tactic], ttp)
	}
	return tactics
}

// detectPatterns checks for the four named attack patterns.
func detectPatterns(tactics map[string][]string) []Pattern {
	var patterns []Pattern

	if len(tactics) > 2 {
		names := make([]string, 0, len(tactics))
		for t := range tactics {
			names = append(names, t)
		}
		sort.Strings(names)
		patterns = append(patterns, Pattern{
			Type:        PatternMultiTacticAttack,
			Description: fmt.Sprintf("Attack spans %d tactics: %s", len(tactics), strings.Join(names, ", ")),
			Severity:    frame.SeverityHigh,
		})
	}
	if _, ok := tactics["lateral-movement"]; ok {
		patterns = append(patterns, Pattern{
			Type:        PatternLateralMovement,
			Description: "Evidence of lateral movement within network",
			Severity:    frame.SeverityMedium,
		})
	}
	if _, ok := tactics["persistence"]; ok {
		patterns = append(patterns, Pattern{
			Type:        PatternPersistenceEstablishment,
			Description: "Attacker attempting to maintain access",
			Severity:    frame.SeverityHigh,
		})
	}
	if _, ok := tactics["credential-access"]; ok {
		patterns = append(patterns, Pattern{
			Type:        PatternCredentialHarvesting,
			Description: "Evidence of credential dumping or harvesting",
			Severity:    frame.SeverityHigh,
		})
	}
	return patterns
}

// constructTimeline builds a sorted list of timestamped events from entity
// roles.
func constructTimeline(entities []frame.EntityRef, now time.Time) []TimelineEvent {
	var timeline []TimelineEvent
	for i := range entities {
		e := entities[i]
		switch e.Type {
		case "host":
			timeline = append(timeline, TimelineEvent{At: now, Event: fmt.Sprintf("Host %s involved in incident", e.ID), Source: "entity_analysis", Entity: &e})
		case "ip":
			timeline = append(timeline, TimelineEvent{At: now, Event: fmt.Sprintf("Network activity from IP %s", e.ID), Source: "entity_analysis", Entity: &e})
		}
	}
	sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].At.Before(timeline[j].At) })
	return timeline
}

// buildAttackChain reorders TTPs into kill-chain order.
func buildAttackChain(tactics map[string][]string) []ChainStep {
	var chain []ChainStep
	for _, tactic := range killChainOrder {
		ttps := append([]string(nil), tactics[tactic]...)
		sort.Strings(ttps)
		for _, ttp := range ttps {
			chain = append(chain, ChainStep{TechniqueID: ttp, Tactic: tactic})
		}
	}
	return chain
}

// hypothesisText templates a terse summary.
func hypothesisText(tactics map[string][]string, patterns []Pattern, entities []frame.EntityRef, severity frame.Severity) string {
	if len(tactics) == 0 {
		return "Incident requires further investigation to determine attack pattern."
	}

	names := make([]string, 0, len(tactics))
	for t := range tactics {
		names = append(names, t)
	}
	sort.Strings(names)

	var parts []string
	if len(tactics) > 1 {
		parts = append(parts, fmt.Sprintf("Multi-stage attack involving %d different tactics: %s", len(tactics), strings.Join(names, ", ")))
	} else {
		parts = append(parts, fmt.Sprintf("Attack focused on %s activities", names[0]))
	}

	var highSev []string
	for _, p := range patterns {
		if p.Severity == frame.SeverityHigh {
			highSev = append(highSev, p.Description)
		}
	}
	if len(highSev) > 0 {
		parts = append(parts, "Critical activities observed: "+strings.Join(highSev, "; "))
	}

	hostSet := make(map[string]bool)
	var firstHost string
	for _, e := range entities {
		if e.Type == "host" {
			if !hostSet[e.ID] {
				hostSet[e.ID] = true
				if firstHost == "" {
					firstHost = e.ID
				}
			}
		}
	}
	switch len(hostSet) {
	case 0:
	case 1:
		parts = append(parts, fmt.Sprintf("Activity focused on host %s", firstHost))
	default:
		parts = append(parts, fmt.Sprintf("Attack spans %d hosts", len(hostSet)))
	}

	if severity == frame.SeverityHigh || severity == frame.SeverityCritical {
		parts = append(parts, "High-priority incident requiring immediate attention")
	}

	return strings.Join(parts, ". ") + "."
}

// confidenceScore is 0.5 + 0.3·triage_conf + min(0.1·|ttps|, 0.2) +
// min(0.1·|patterns|, 0.2) + 0.1 for a timeline longer than 2, capped at 0.95.
func confidenceScore(triageConfidence float64, ttps []string, patterns []Pattern, timeline []TimelineEvent) float64 {
	conf := 0.5 + 0.3*triageConfidence

	ttpFactor := 0.1 * float64(len(ttps))
	if ttpFactor > 0.2 {
		ttpFactor = 0.2
	}
	conf += ttpFactor

	patternFactor := 0.1 * float64(len(patterns))
	if patternFactor > 0.2 {
		patternFactor = 0.2
	}
	conf += patternFactor

	if len(timeline) > 2 {
		conf += 0.1
	}

	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

// requiresResponse decides whether the incident warrants a response plan.
func requiresResponse(confidence float64, severity frame.Severity, patterns []Pattern, tactics map[string][]string) bool {
	if confidence > 0.7 && (severity == frame.SeverityHigh || severity == frame.SeverityCritical) {
		return true
	}

	var criticalPatterns int
	for _, p := range patterns {
		if p.Severity == frame.SeverityHigh {
			criticalPatterns++
		}
	}
	if criticalPatterns > 0 && confidence > 0.5 {
		return true
	}

	if len(tactics) > 2 && confidence > 0.6 {
		return true
	}
	return false
}

// reassessSeverity raises the input severity by one ordinal per
// high-severity pattern, another if more than two tactics are involved,
// and another above 0.8 confidence, capped at critical.
func reassessSeverity(original frame.Severity, patterns []Pattern, tactics map[string][]string, confidence float64) frame.Severity {
	score := original.Ordinal()
	if score < 0 {
		score = frame.SeverityMedium.Ordinal()
	}

	var highSevPatterns int
	for _, p := range patterns {
		if p.Severity == frame.SeverityHigh {
			highSevPatterns++
		}
	}
	if highSevPatterns > 0 {
		score = min(score+highSevPatterns, frame.SeverityCritical.Ordinal())
	}
	if len(tactics) > 2 {
		score = min(score+1, frame.SeverityCritical.Ordinal())
	}
	if confidence > 0.8 {
		score = min(score+1, frame.SeverityCritical.Ordinal())
	}

	return [...]frame.Severity{frame.SeverityInfo, frame.SeverityLow, frame.SeverityMedium, frame.SeverityHigh, frame.SeverityCritical}[score]
}
