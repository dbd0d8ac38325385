package planner

import (
	"fmt"

	"github.com/sentorproj/sentor/pkg/frame"
)

// TTPMapping is the static technique-ID-to-playbook-IDs table consulted
// during playbook selection.
var TTPMapping = map[string][]string{
	"T1021.004": {"isolate_host", "disable_ssh", "monitor_ssh_activity"},
	"T1021.001": {"isolate_host", "disable_rdp", "monitor_rdp_activity"},
	"T1003":     {"isolate_host", "reset_passwords", "monitor_credential_access"},
	"T1110":     {"block_source_ip", "enable_account_lockout", "monitor_brute_force"},
	"T1190":     {"isolate_service", "patch_vulnerability", "enable_waf"},
	"T1505.003": {"remove_web_shell", "scan_web_directories", "harden_web_server"},
	"T1071.004": {"block_dns_queries", "monitor_dns_traffic", "update_dns_filters"},
	"T1041":     {"block_outbound_traffic", "monitor_data_exfiltration"},
	"T1486":     {"isolate_infected_hosts", "restore_from_backup", "kill_processes"},
}

// severityLevel collapses frame.Severity onto the three-tier scale
// playbook risk tiers are compared against: info and low both floor at 0,
// critical shares high's ceiling of 2.
func severityLevel(s frame.Severity) int {
	switch s {
	case frame.SeverityHigh, frame.SeverityCritical:
		return 2
	case frame.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func riskLevel(t RiskTier) int {
	switch t {
	case RiskHigh, RiskCritical:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// requiredEntityTypes scans a playbook's step parameters for the entity
// types its actions depend on.
func requiredEntityTypes(p Playbook) map[string]bool {
	required := make(map[string]bool)
	for _, step := range p.Steps {
		if _, ok := step.Parameters["host"]; ok {
			required["host"] = true
		}
		if _, ok := step.Parameters["hostname"]; ok {
			required["host"] = true
		}
		if _, ok := step.Parameters["ip"]; ok {
			required["ip"] = true
		}
		if _, ok := step.Parameters["ip_address"]; ok {
			required["ip"] = true
		}
		if _, ok := step.Parameters["user"]; ok {
			required["user"] = true
		}
		if _, ok := step.Parameters["username"]; ok {
			required["user"] = true
		}
		if _, ok := step.Parameters["process"]; ok {
			required["proc"] = true
		}
		if _, ok := step.Parameters["process_name"]; ok {
			required["proc"] = true
		}
		if _, ok := step.Parameters["pid"]; ok {
			required["proc"] = true
		}
	}
	return required
}

func isAppropriate(p Playbook, entities []frame.EntityRef, severity frame.Severity) bool {
	if riskLevel(p.RiskTier) > severityLevel(severity) {
		return false
	}
	available := make(map[string]bool, len(entities))
	for _, e := range entities {
		available[e.Type] = true
	}
	for t := range requiredEntityTypes(p) {
		if !available[t] {
			return false
		}
	}
	return true
}

// Selector resolves TTPs and context into a set of appropriate playbook IDs.
type Selector struct {
	library Library
}

// NewSelector constructs a Selector. Definitions from lib win by ID over
// the built-in DomainPlaybooks; GenericPlaybooks
// (collect_forensic_evidence, notify_stakeholders) are always consulted
// last.
func NewSelector(lib Library) *Selector {
	return &Selector{library: multiLibrary{lib, DomainPlaybooks, GenericPlaybooks}}
}

// NewDefaultSelector constructs a Selector over the built-in playbook
// definitions alone, the production wiring when no operator playbook
// directory is configured.
func NewDefaultSelector() *Selector {
	return &Selector{library: multiLibrary{DomainPlaybooks, GenericPlaybooks}}
}

// SelectPlaybooks maps identified techniques to applicable playbooks,
// filtered by risk tier and available entity types.
func (s *Selector) SelectPlaybooks(ttps []string, entities []frame.EntityRef, severity frame.Severity) []string {
	selected := make(map[string]bool)
	for _, ttp := range ttps {
		for _, id := range TTPMapping[ttp] {
			pb, ok := s.library.Get(id)
			if ok && isAppropriate(pb, entities, severity) {
				selected[id] = true
			}
		}
	}
	if severity == frame.SeverityHigh || severity == frame.SeverityCritical {
		selected["collect_forensic_evidence"] = true
		selected["notify_stakeholders"] = true
	}
	return sortedIDs(selected)
}

// PlaybookSummary is one selected playbook's metadata for a Plan.
type PlaybookSummary struct {
	ID                       string
	Name                     string
	Description              string
	RiskTier                 RiskTier
	EstimatedDurationMinutes int
	Reversible               bool
	StepCount                int
}

// Plan is the synthesized playbook plan for an incident, the source for frame.ActionPlan.
type Plan struct {
	Playbooks                []PlaybookSummary
	RiskTier                 RiskTier
	EstimatedDurationMinutes int
	TTPsAddressed            []string
	EntitiesRequired         int
	Severity                 frame.Severity
	Warnings                 []string
}

// PlanResponse selects playbooks for the given TTPs and context, then
// synthesizes the aggregate plan.
func (s *Selector) PlanResponse(ttps []string, entities []frame.EntityRef, severity frame.Severity) Plan {
	selected := s.SelectPlaybooks(ttps, entities, severity)
	if len(selected) == 0 {
		return Plan{
			RiskTier: RiskLow,
			Severity: severity,
			Warnings: []string{"No appropriate playbooks found for the given TTPs"},
		}
	}

	var summaries []PlaybookSummary
	totalDuration := 0
	maxTier := RiskLow
	var highRisk int

	for _, id := range selected {
		pb, ok := s.library.Get(id)
		if !ok {
			continue
		}
		summaries = append(summaries, PlaybookSummary{
			ID: pb.ID, Name: pb.Name, Description: pb.Description,
			RiskTier: pb.RiskTier, EstimatedDurationMinutes: pb.EstimatedDurationMinutes,
			Reversible: pb.Reversible, StepCount: len(pb.Steps),
		})
		totalDuration += pb.EstimatedDurationMinutes
		if riskPriority[pb.RiskTier] > riskPriority[maxTier] {
			maxTier = pb.RiskTier
		}
		if pb.RiskTier == RiskHigh {
			highRisk++
		}
	}

	var warnings []string
	if maxTier == RiskHigh {
		warnings = append(warnings, "High-risk playbooks selected - manual approval recommended")
	}
	if totalDuration > 120 {
		warnings = append(warnings, fmt.Sprintf("Long estimated duration: %d minutes", totalDuration))
	}

	return Plan{
		Playbooks:                summaries,
		RiskTier:                 maxTier,
		EstimatedDurationMinutes: totalDuration,
		TTPsAddressed:            ttps,
		EntitiesRequired:         len(entities),
		Severity:                 severity,
		Warnings:                 warnings,
	}
}
