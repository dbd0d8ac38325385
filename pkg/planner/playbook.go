// Package planner implements the response planner: playbook
// selection, plan synthesis, and risk assessment ahead of the policy gate.
package planner

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RiskTier is a coarse bucket attached to playbooks and aggregate plans.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

var riskPriority = map[RiskTier]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 2}

// Step is a single DAG node in a Playbook.
type Step struct {
	Action      string            `yaml:"action"`
	Parameters  map[string]string `yaml:"parameters"`
	Description string            `yaml:"description"`
	Timeout     int               `yaml:"timeout_seconds"`
	RetryCount  int               `yaml:"retry_count"`
	DependsOn   []string          `yaml:"depends_on"`
	Name        string            `yaml:"name"`
}

// Playbook is a read-only-at-runtime remediation DAG definition.
type Playbook struct {
	ID                       string            `yaml:"id"`
	Name                     string            `yaml:"name"`
	Description              string            `yaml:"description"`
	RiskTier                 RiskTier          `yaml:"risk_tier"`
	Tags                     []string          `yaml:"tags"`
	Steps                    []Step            `yaml:"steps"`
	Variables                map[string]string `yaml:"variables"`
	Prerequisites            []string          `yaml:"prerequisites"`
	EstimatedDurationMinutes int               `yaml:"estimated_duration_minutes"`
	Reversible               bool              `yaml:"reversible"`
}

// Library resolves playbook IDs to definitions. A Loader backed by a
// directory of YAML files is the production implementation; tests use a
// plain map.
type Library interface {
	Get(id string) (Playbook, bool)
}

// MapLibrary is an in-memory Library, used by tests and for the
// always-available generic playbooks below.
type MapLibrary map[string]Playbook

// Get implements Library.
func (m MapLibrary) Get(id string) (Playbook, bool) {
	p, ok := m[id]
	return p, ok
}

// Loader reads playbook definitions from `<dir>/<id>.yml`.
type Loader struct {
	Dir string
}

// Get implements Library, reading and parsing the playbook file on every
// call; playbooks are small and read rarely enough that caching isn't
// worth the invalidation complexity.
func (l Loader) Get(id string) (Playbook, bool) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%s.yml", l.Dir, id))
	if err != nil {
		return Playbook{}, false
	}
	var p Playbook
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Playbook{}, false
	}
	return p, true
}

// GenericPlaybooks are always available regardless of the library backend,
// added automatically for high/critical-severity incidents.
var GenericPlaybooks = MapLibrary{
	"collect_forensic_evidence": {
		ID: "collect_forensic_evidence", Name: "Collect Forensic Evidence",
		Description: "Capture volatile and disk evidence from affected hosts",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 20,
		Steps: []Step{{Action: "collect_evidence", Parameters: map[string]string{"host": "${host}"}}},
	},
	"notify_stakeholders": {
		ID: "notify_stakeholders", Name: "Notify Stakeholders",
		Description: "Page the on-call and notify incident stakeholders",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 5,
		Steps: []Step{{Action: "notify_stakeholders", Parameters: map[string]string{"incident": "${incident_id}"}}},
	},
}

// DomainPlaybooks defines every playbook TTPMapping can select, so the
// default selector resolves each mapped ID to a concrete definition with
// a real risk tier and reversibility. An operator-supplied Loader
// directory overrides any of these by ID.
var DomainPlaybooks = MapLibrary{
	"isolate_host": {
		ID: "isolate_host", Name: "Isolate Host",
		Description: "Remove a compromised host from the network",
		RiskTier:    RiskMedium, Reversible: true, EstimatedDurationMinutes: 10,
		Steps: []Step{
			{Name: "isolate", Action: "isolate_host", Parameters: map[string]string{"hostname": "${host}"}},
			{Name: "record", Action: "log_action", Parameters: map[string]string{"message": "host ${host} isolated"}, DependsOn: []string{"isolate"}},
		},
	},
	"disable_ssh": {
		ID: "disable_ssh", Name: "Disable SSH Access",
		Description: "Block inbound SSH to the affected host",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 5,
		Steps: []Step{{Name: "block", Action: "update_firewall", Parameters: map[string]string{"action": "add", "rules": "DENY tcp/22 to ${host}"}}},
	},
	"monitor_ssh_activity": {
		ID: "monitor_ssh_activity", Name: "Monitor SSH Activity",
		Description: "Raise logging verbosity on SSH authentication events",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 5,
		Steps: []Step{{Name: "watch", Action: "log_action", Parameters: map[string]string{"message": "ssh monitoring enabled for ${host}", "level": "info"}}},
	},
	"disable_rdp": {
		ID: "disable_rdp", Name: "Disable RDP Access",
		Description: "Block inbound RDP to the affected host",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 5,
		Steps: []Step{{Name: "block", Action: "update_firewall", Parameters: map[string]string{"action": "add", "rules": "DENY tcp/3389 to ${host}"}}},
	},
	"monitor_rdp_activity": {
		ID: "monitor_rdp_activity", Name: "Monitor RDP Activity",
		Description: "Raise logging verbosity on RDP session events",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 5,
		Steps: []Step{{Name: "watch", Action: "log_action", Parameters: map[string]string{"message": "rdp monitoring enabled for ${host}", "level": "info"}}},
	},
	"reset_passwords": {
		ID: "reset_passwords", Name: "Reset Compromised Passwords",
		Description: "Force a credential reset for the affected account",
		RiskTier:    RiskMedium, Reversible: true, EstimatedDurationMinutes: 15,
		Steps: []Step{{Name: "reset", Action: "reset_password", Parameters: map[string]string{"username": "${user}"}}},
	},
	"monitor_credential_access": {
		ID: "monitor_credential_access", Name: "Monitor Credential Access",
		Description: "Watch for further credential dumping on the host",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 10,
		Steps: []Step{{Name: "watch", Action: "log_action", Parameters: map[string]string{"message": "credential-access monitoring enabled for ${host}", "level": "warn"}}},
	},
	"block_source_ip": {
		ID: "block_source_ip", Name: "Block Source IP",
		Description: "Drop traffic from the attacking address",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 5,
		Steps: []Step{{Name: "block", Action: "block_ip", Parameters: map[string]string{"ip_address": "${ip}"}}},
	},
	"enable_account_lockout": {
		ID: "enable_account_lockout", Name: "Enable Account Lockout",
		Description: "Lock the targeted account pending review",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 5,
		Steps: []Step{{Name: "lock", Action: "disable_user", Parameters: map[string]string{"username": "${user}"}}},
	},
	"monitor_brute_force": {
		ID: "monitor_brute_force", Name: "Monitor Brute Force Attempts",
		Description: "Track repeated authentication failures against the host",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 10,
		Steps: []Step{{Name: "watch", Action: "log_action", Parameters: map[string]string{"message": "brute-force monitoring enabled for ${host}", "level": "warn"}}},
	},
	"isolate_service": {
		ID: "isolate_service", Name: "Isolate Exposed Service",
		Description: "Take the exploited service host off the network edge",
		RiskTier:    RiskMedium, Reversible: true, EstimatedDurationMinutes: 15,
		Steps: []Step{{Name: "isolate", Action: "isolate_host", Parameters: map[string]string{"hostname": "${host}"}}},
	},
	"patch_vulnerability": {
		ID: "patch_vulnerability", Name: "Patch Vulnerability",
		Description: "Back up the host, then apply the vendor fix and rescan",
		RiskTier:    RiskMedium, Reversible: false, EstimatedDurationMinutes: 45,
		Steps: []Step{
			{Name: "backup", Action: "backup_system", Parameters: map[string]string{"hostname": "${host}"}},
			{Name: "verify", Action: "scan_system", Parameters: map[string]string{"hostname": "${host}", "scan_type": "vulnerability"}, DependsOn: []string{"backup"}},
		},
	},
	"enable_waf": {
		ID: "enable_waf", Name: "Enable WAF Rules",
		Description: "Turn on web-application firewall rules for the exposed service",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 10,
		Steps: []Step{{Name: "enable", Action: "update_firewall", Parameters: map[string]string{"action": "add", "rules": "waf-ruleset for ${host}"}}},
	},
	"remove_web_shell": {
		ID: "remove_web_shell", Name: "Remove Web Shell",
		Description: "Quarantine the dropped web shell from the document root",
		RiskTier:    RiskMedium, Reversible: false, EstimatedDurationMinutes: 20,
		Steps: []Step{{Name: "quarantine", Action: "quarantine_file", Parameters: map[string]string{"file_path": "${file}", "hostname": "${host}"}}},
	},
	"scan_web_directories": {
		ID: "scan_web_directories", Name: "Scan Web Directories",
		Description: "Sweep the web root for further implants",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 30,
		Steps: []Step{{Name: "scan", Action: "scan_system", Parameters: map[string]string{"hostname": "${host}", "scan_type": "web"}}},
	},
	"harden_web_server": {
		ID: "harden_web_server", Name: "Harden Web Server",
		Description: "Tighten the exposed server's firewall posture",
		RiskTier:    RiskMedium, Reversible: true, EstimatedDurationMinutes: 30,
		Steps: []Step{{Name: "harden", Action: "update_firewall", Parameters: map[string]string{"action": "add", "rules": "restrict admin paths on ${host}"}}},
	},
	"block_dns_queries": {
		ID: "block_dns_queries", Name: "Block Malicious DNS Queries",
		Description: "Sinkhole the tunnelling domain at the resolver",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 5,
		Steps: []Step{{Name: "block", Action: "update_firewall", Parameters: map[string]string{"action": "add", "rules": "sinkhole ${domain}"}}},
	},
	"monitor_dns_traffic": {
		ID: "monitor_dns_traffic", Name: "Monitor DNS Traffic",
		Description: "Watch for continued tunnelling after the block",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 10,
		Steps: []Step{{Name: "watch", Action: "log_action", Parameters: map[string]string{"message": "dns monitoring enabled", "level": "info"}}},
	},
	"update_dns_filters": {
		ID: "update_dns_filters", Name: "Update DNS Filters",
		Description: "Push the tunnelling indicators to the resolver blocklist",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 10,
		Steps: []Step{{Name: "push", Action: "update_firewall", Parameters: map[string]string{"action": "add", "rules": "dns blocklist update"}}},
	},
	"block_outbound_traffic": {
		ID: "block_outbound_traffic", Name: "Block Outbound Traffic",
		Description: "Cut the exfiltration channel from the affected host",
		RiskTier:    RiskMedium, Reversible: true, EstimatedDurationMinutes: 10,
		Steps: []Step{{Name: "block", Action: "update_firewall", Parameters: map[string]string{"action": "add", "rules": "DENY outbound from ${host}"}}},
	},
	"monitor_data_exfiltration": {
		ID: "monitor_data_exfiltration", Name: "Monitor Data Exfiltration",
		Description: "Watch outbound volumes from the affected host",
		RiskTier:    RiskLow, Reversible: true, EstimatedDurationMinutes: 15,
		Steps: []Step{{Name: "watch", Action: "log_action", Parameters: map[string]string{"message": "exfiltration monitoring enabled for ${host}", "level": "warn"}}},
	},
	"isolate_infected_hosts": {
		ID: "isolate_infected_hosts", Name: "Isolate Infected Hosts",
		Description: "Cut every ransomware-affected host off the network before encryption spreads",
		RiskTier:    RiskHigh, Reversible: false, EstimatedDurationMinutes: 30,
		Steps: []Step{
			{Name: "isolate", Action: "isolate_host", Parameters: map[string]string{"hostname": "${host}"}},
			{Name: "preserve", Action: "collect_evidence", Parameters: map[string]string{"hostname": "${host}"}, DependsOn: []string{"isolate"}},
		},
	},
	"restore_from_backup": {
		ID: "restore_from_backup", Name: "Restore From Backup",
		Description: "Roll the encrypted host back to the last clean backup",
		RiskTier:    RiskHigh, Reversible: false, EstimatedDurationMinutes: 60,
		Steps: []Step{{Name: "restore", Action: "restore_from_backup", Parameters: map[string]string{"hostname": "${host}", "backup_id": "${backup_id}"}}},
	},
	"kill_processes": {
		ID: "kill_processes", Name: "Kill Malicious Processes",
		Description: "Terminate the encryption process on the affected host",
		RiskTier:    RiskMedium, Reversible: false, EstimatedDurationMinutes: 10,
		Steps: []Step{{Name: "kill", Action: "kill_process", Parameters: map[string]string{"hostname": "${host}", "process_name": "${process}"}}},
	},
}

// multiLibrary checks each Library in order, first match wins.
type multiLibrary []Library

func (m multiLibrary) Get(id string) (Playbook, bool) {
	for _, l := range m {
		if p, ok := l.Get(id); ok {
			return p, true
		}
	}
	return Playbook{}, false
}

// sortedIDs returns the keys of a set in stable order.
func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
