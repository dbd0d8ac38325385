// Package triage implements the triage analyst:
// deduplication within a sliding window, technique tagging from three
// weighted sources, aggregation, and a requires_analysis verdict.
package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sentorproj/sentor/pkg/frame"
)

// Source-priority weights.
const (
	weightDirectTag         = 1.0
	weightRetrievalInferred = 0.8
	weightHeuristic         = 0.6
	tacticAgreementBoost    = 1.2

	dedupWindow = time.Hour

	requiresAnalysisConfidence = 0.3
)

// TechniqueSource identifies which of the three weighted sources
// contributed a candidate technique tag.
type TechniqueSource string

const (
	SourceDirectTag         TechniqueSource = "direct_tag"
	SourceRetrievalInferred TechniqueSource = "retrieval_inferred"
	SourceHeuristic         TechniqueSource = "heuristic"
)

func (s TechniqueSource) weight() float64 {
	switch s {
	case SourceDirectTag:
		return weightDirectTag
	case SourceRetrievalInferred:
		return weightRetrievalInferred
	case SourceHeuristic:
		return weightHeuristic
	default:
		return 0
	}
}

// TechniqueTag is one candidate technique attached to an alert.
type TechniqueTag struct {
	TechniqueID string
	Tactic      string
	Source      TechniqueSource
}

// TaggedAlert is one accepted alert plus its technique tags and confidence.
type TaggedAlert struct {
	Alert      frame.Alert
	Techniques []TechniqueTag
	Confidence float64
}

// Duplicate records an alert recognized as a repeat within the dedup window.
type Duplicate struct {
	Alert       frame.Alert
	DuplicateOf string
}

// Retriever resolves retrieval-inferred technique candidates for an alert's
// summary text. It is the only point where triage touches C5; a nil
// Retriever simply contributes no retrieval-inferred tags.
type Retriever interface {
	TechniquesFor(summary string) []TechniqueTag
}

// HeuristicRule is one fixed (keyword_set, technique_id, confidence) triple.
type HeuristicRule struct {
	Keywords    []string
	TechniqueID string
	Tactic      string
	Confidence  float64
}

// DefaultHeuristicRules is the built-in keyword table. The per-rule
// Confidence values are carried in the table only: aggregateConfidence
// weighs every heuristic tag at the fixed weightHeuristic and does not read
// them.
var DefaultHeuristicRules = []HeuristicRule{
	{Keywords: []string{"brute", "force"}, TechniqueID: "T1110", Tactic: "credential-access", Confidence: 0.7},
	{Keywords: []string{"ssh"}, TechniqueID: "T1021.004", Tactic: "lateral-movement", Confidence: 0.5},
	{Keywords: []string{"powershell", "encoded"}, TechniqueID: "T1059.001", Tactic: "execution", Confidence: 0.7},
	{Keywords: []string{"lateral", "movement"}, TechniqueID: "T1021", Tactic: "lateral-movement", Confidence: 0.6},
	{Keywords: []string{"privilege", "escalation"}, TechniqueID: "T1068", Tactic: "privilege-escalation", Confidence: 0.6},
	{Keywords: []string{"phishing"}, TechniqueID: "T1566", Tactic: "initial-access", Confidence: 0.6},
	{Keywords: []string{"exfiltrat"}, TechniqueID: "T1041", Tactic: "exfiltration", Confidence: 0.6},
	{Keywords: []string{"persistence"}, TechniqueID: "T1053", Tactic: "persistence", Confidence: 0.5},
}

// Analyst runs the triage algorithm.
type Analyst struct {
	retriever Retriever
	rules     []HeuristicRule

	lastSeen map[string]seenEntry
}

type seenEntry struct {
	alertID string
	at      time.Time
}

// New constructs an Analyst. A nil retriever disables retrieval-inferred
// tagging (direct tags and heuristics still apply).
func New(retriever Retriever) *Analyst {
	return &Analyst{retriever: retriever, rules: DefaultHeuristicRules, lastSeen: make(map[string]seenEntry)}
}

// dedupKey hashes {summary, severity, sorted(entities), src_ip, dst_ip}.
func dedupKey(a frame.Alert) string {
	entities := make([]string, len(a.Entities))
	var srcIP, dstIP string
	for i, e := range a.Entities {
		entities[i] = e.Type + ":" + e.ID
		if e.Type == "ip" {
			if srcIP == "" {
				srcIP = e.ID
			} else if dstIP == "" {
				dstIP = e.ID
			}
		}
	}
	sort.Strings(entities)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", a.Summary, a.Severity, strings.Join(entities, ","), srcIP, dstIP)
	return hex.EncodeToString(h.Sum(nil))
}

// Output is the full triage result for one incident batch.
type Output struct {
	Tagged             []TaggedAlert
	Duplicates         []Duplicate
	NewTTPs            []string
	PerTacticCounts    map[string]int
	PerTechniqueCounts map[string]int
	SeverityDist       map[frame.Severity]int
	Severity           frame.Severity
	Confidence         float64
	RequiresAnalysis   bool
}

// Run executes the triage algorithm over alerts for one incident batch,
// against knownTTPs already recorded for the incident. Deduplication
// compares each alert's own timestamp against the window's prior entry, not
// wall-clock processing time, so replaying a historical batch dedups the
// same way live processing would.
func (a *Analyst) Run(alerts []frame.Alert, knownTTPs []string, now time.Time) Output {
	known := make(map[string]bool, len(knownTTPs))
	for _, t := range knownTTPs {
		known[t] = true
	}

	var accepted []frame.Alert
	var duplicates []Duplicate
	for _, al := range alerts {
		key := dedupKey(al)
		at := time.UnixMilli(al.TS)
		if prev, ok := a.lastSeen[key]; ok && at.Sub(prev.at) < dedupWindow {
			duplicates = append(duplicates, Duplicate{Alert: al, DuplicateOf: prev.alertID})
			continue
		}
		a.lastSeen[key] = seenEntry{alertID: al.ID, at: at}
		accepted = append(accepted, al)
	}

	tagged := make([]TaggedAlert, 0, len(accepted))
	perTactic := make(map[string]int)
	perTechnique := make(map[string]int)
	severityDist := make(map[frame.Severity]int)
	ttpSet := make(map[string]bool)

	var confidenceSum float64
	var maxSeverity frame.Severity = frame.SeverityInfo

	for _, al := range accepted {
		tags := a.tag(al)
		conf := aggregateConfidence(tags)

		tagged = append(tagged, TaggedAlert{Alert: al, Techniques: tags, Confidence: conf})
		confidenceSum += conf
		severityDist[al.Severity]++
		if al.Severity.Ordinal() > maxSeverity.Ordinal() {
			maxSeverity = al.Severity
		}

		seenTactic := make(map[string]bool)
		for _, t := range tags {
			perTechnique[t.TechniqueID]++
			ttpSet[t.TechniqueID] = true
			if t.Tactic != "" && !seenTactic[t.Tactic] {
				perTactic[t.Tactic]++
				seenTactic[t.Tactic] = true
			}
		}
	}

	var overallConfidence float64
	if len(accepted) > 0 {
		overallConfidence = confidenceSum / float64(len(accepted))
	}

	var newTTPs []string
	for t := range ttpSet {
		if !known[t] {
			newTTPs = append(newTTPs, t)
		}
	}
	sort.Strings(newTTPs)

	requiresAnalysis := overallConfidence > requiresAnalysisConfidence ||
		maxSeverity == frame.SeverityHigh || maxSeverity == frame.SeverityCritical

	return Output{
		Tagged:             tagged,
		Duplicates:         duplicates,
		NewTTPs:            newTTPs,
		PerTacticCounts:    perTactic,
		PerTechniqueCounts: perTechnique,
		SeverityDist:       severityDist,
		Severity:           maxSeverity,
		Confidence:         overallConfidence,
		RequiresAnalysis:   requiresAnalysis,
	}
}

// tag attaches candidate techniques from direct tags, retrieval, and
// heuristics.
func (a *Analyst) tag(al frame.Alert) []TechniqueTag {
	var tags []TechniqueTag

	for _, t := range al.Tags {
		if looksLikeTechniqueID(t) {
			tags = append(tags, TechniqueTag{TechniqueID: t, Source: SourceDirectTag})
		}
	}

	if a.retriever != nil {
		for _, t := range a.retriever.TechniquesFor(al.Summary) {
			t.Source = SourceRetrievalInferred
			tags = append(tags, t)
		}
	}

	haystack := strings.ToLower(al.Summary)
	for _, e := range al.Entities {
		haystack += " " + strings.ToLower(e.Type) + " " + strings.ToLower(e.ID)
	}
	for _, rule := range a.rules {
		matched := true
		for _, kw := range rule.Keywords {
			if !strings.Contains(haystack, kw) {
				matched = false
				break
			}
		}
		if matched {
			tags = append(tags, TechniqueTag{TechniqueID: rule.TechniqueID, Tactic: rule.Tactic, Source: SourceHeuristic})
		}
	}

	return tags
}

func looksLikeTechniqueID(s string) bool {
	return len(s) >= 5 && (s[0] == 'T' || s[0] == 't') && s[1] >= '0' && s[1] <= '9'
}

// aggregateConfidence computes the source-weighted mean, with a 1.2x boost
// (capped at 1.0) when multiple techniques agree on a single tactic.
func aggregateConfidence(tags []TechniqueTag) float64 {
	if len(tags) == 0 {
		return 0
	}

	var sum float64
	tacticCount := make(map[string]int)
	for _, t := range tags {
		sum += t.Source.weight()
		if t.Tactic != "" {
			tacticCount[t.Tactic]++
		}
	}
	mean := sum / float64(len(tags))

	agrees := false
	for _, c := range tacticCount {
		if c > 1 {
			agrees = true
			break
		}
	}
	if agrees {
		mean *= tacticAgreementBoost
		if mean > 1.0 {
			mean = 1.0
		}
	}
	return mean
}
