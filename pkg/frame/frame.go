// Package frame defines the typed union message that travels the durable
// bus between producers, the orchestrator, and downstream persistence.
package frame

import (
	"errors"
	"fmt"
)

// Variant names as they appear on the wire (JSON object key / binary tag).
const (
	VariantTelemetry   = "telemetry"
	VariantAlert       = "alert"
	VariantFinding     = "finding"
	VariantPlan        = "plan"
	VariantPlaybookRun = "run"
)

// Severity is the ordinal alert/incident severity scale.
type Severity string

// Severity values, ordered least to most severe.
const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrdinal = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Ordinal returns the severity's rank, or -1 if unrecognized.
func (s Severity) Ordinal() int {
	if o, ok := severityOrdinal[s]; ok {
		return o
	}
	return -1
}

// Max returns the more severe of s and other.
func (s Severity) Max(other Severity) Severity {
	if other.Ordinal() > s.Ordinal() {
		return other
	}
	return s
}

// EntityRef identifies a graph entity participating in an incident.
type EntityRef struct {
	Type string `json:"type" cbor:"type"`
	ID   string `json:"id" cbor:"id"`
}

// Telemetry is a single normalized external event.
type Telemetry struct {
	TS      int64  `json:"ts" cbor:"ts"`
	Host    string `json:"host" cbor:"host"`
	Source  string `json:"source" cbor:"source"`
	ECSJSON string `json:"ecs_json" cbor:"ecs_json"`
}

// Alert is a single detection with entities, tags, and an opaque evidence pointer.
type Alert struct {
	TS          int64       `json:"ts" cbor:"ts"`
	ID          string      `json:"id" cbor:"id"`
	Severity    Severity    `json:"severity" cbor:"severity"`
	Entities    []EntityRef `json:"entities" cbor:"entities"`
	Tags        []string    `json:"tags" cbor:"tags"`
	Summary     string      `json:"summary" cbor:"summary"`
	EvidenceRef string      `json:"evidence_ref" cbor:"evidence_ref"`
}

// Finding is the hypothesis-analyst output for an incident.
type Finding struct {
	TS            int64       `json:"ts" cbor:"ts"`
	ID            string      `json:"id" cbor:"id"`
	Hypothesis    string      `json:"hypothesis" cbor:"hypothesis"`
	GraphNodes    []EntityRef `json:"graph_nodes" cbor:"graph_nodes"`
	CandidateTTPs []string    `json:"candidate_ttps" cbor:"candidate_ttps"`
	RationaleJSON string      `json:"rationale_json" cbor:"rationale_json"`
}

// ActionPlan is the response-planner output for an incident.
type ActionPlan struct {
	TS            int64    `json:"ts" cbor:"ts"`
	IncidentID    string   `json:"incident_id" cbor:"incident_id"`
	Playbooks     []string `json:"playbooks" cbor:"playbooks"`
	ChangeSetJSON string   `json:"change_set_json" cbor:"change_set_json"`
	RiskTier      string   `json:"risk_tier" cbor:"risk_tier"`
}

// PlaybookRun is a single step-execution record reported by the runner.
type PlaybookRun struct {
	TS         int64  `json:"ts" cbor:"ts"`
	PlaybookID string `json:"playbook_id" cbor:"playbook_id"`
	Status     string `json:"status" cbor:"status"`
	Logs       string `json:"logs" cbor:"logs"`
}

// Frame is the transport envelope. Exactly one payload field is set;
// Variant() identifies which.
type Frame struct {
	TS         int64  `json:"-" cbor:"-"`
	IncidentID string `json:"-" cbor:"-"`

	Telemetry *Telemetry   `json:"telemetry,omitempty" cbor:"telemetry,omitempty"`
	Alert     *Alert       `json:"alert,omitempty" cbor:"alert,omitempty"`
	Finding   *Finding     `json:"finding,omitempty" cbor:"finding,omitempty"`
	Plan      *ActionPlan  `json:"plan,omitempty" cbor:"plan,omitempty"`
	Run       *PlaybookRun `json:"run,omitempty" cbor:"run,omitempty"`
}

// ErrUnknownVariant is returned when decoding a frame whose variant tag is
// not recognized by this codec version.
var ErrUnknownVariant = errors.New("frame: unknown variant")

// ErrMultiplePayloads is returned when more than one payload variant is set.
var ErrMultiplePayloads = errors.New("frame: more than one payload variant set")

// ErrNoPayload is returned when no payload variant is set.
var ErrNoPayload = errors.New("frame: no payload variant set")

// Variant returns the wire name of the active payload, validating that
// exactly one is set.
func (f *Frame) Variant() (string, error) {
	set := 0
	variant := ""
	for name, isSet := range map[string]bool{
		VariantTelemetry:   f.Telemetry != nil,
		VariantAlert:       f.Alert != nil,
		VariantFinding:     f.Finding != nil,
		VariantPlan:        f.Plan != nil,
		VariantPlaybookRun: f.Run != nil,
	} {
		if isSet {
			set++
			variant = name
		}
	}
	switch {
	case set == 0:
		return "", ErrNoPayload
	case set > 1:
		return "", ErrMultiplePayloads
	default:
		return variant, nil
	}
}

// Validate checks the frame's structural invariants (exactly one payload,
// a stable incident id).
func (f *Frame) Validate() error {
	if _, err := f.Variant(); err != nil {
		return err
	}
	if f.IncidentID == "" {
		return fmt.Errorf("frame: empty incident_id")
	}
	return nil
}

// NewAlertFrame builds a Frame wrapping an Alert payload.
func NewAlertFrame(incidentID string, ts int64, a Alert) Frame {
	return Frame{TS: ts, IncidentID: incidentID, Alert: &a}
}

// NewFindingFrame builds a Frame wrapping a Finding payload.
func NewFindingFrame(incidentID string, ts int64, fi Finding) Frame {
	return Frame{TS: ts, IncidentID: incidentID, Finding: &fi}
}

// NewPlanFrame builds a Frame wrapping an ActionPlan payload.
func NewPlanFrame(incidentID string, ts int64, p ActionPlan) Frame {
	return Frame{TS: ts, IncidentID: incidentID, Plan: &p}
}
