// Package action implements the fixed, named set of response capabilities
// the playbook runner invokes: isolate_host, block_ip,
// kill_process, collect_evidence, notify_stakeholders, reset_password,
// disable_user, quarantine_file, update_firewall, scan_system,
// backup_system, restore_from_backup, log_action, wait. Each capability
// enforces its required-parameter contract and returns a structured
// result; integration with the actual firewall, EDR, and IAM systems is
// outside the core, so handlers return structured simulated results.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMissingParameter is returned when a capability's required parameter
// contract is not satisfied.
var ErrMissingParameter = errors.New("action: missing required parameter")

// ErrUnknownAction is returned for a capability name outside the fixed set.
var ErrUnknownAction = errors.New("action: unknown capability")

// Clock abstracts time.Now so results are deterministic under test.
type Clock func() time.Time

// Executor implements runner.Executor over the fixed capability set. Every
// call is logged and returns a structured map describing the effect taken,
// matching each handler's documented output shape.
type Executor struct {
	now    Clock
	logger *slog.Logger
}

// New constructs an Executor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{now: time.Now, logger: logger}
}

// handlers maps each capability name to its implementation.
func (e *Executor) handlers() map[string]func(context.Context, map[string]string) (map[string]any, error) {
	return map[string]func(context.Context, map[string]string) (map[string]any, error){
		"isolate_host":        e.isolateHost,
		"block_ip":            e.blockIP,
		"kill_process":        e.killProcess,
		"collect_evidence":    e.collectEvidence,
		"notify_stakeholders": e.notifyStakeholders,
		"reset_password":      e.resetPassword,
		"disable_user":        e.disableUser,
		"quarantine_file":     e.quarantineFile,
		"update_firewall":     e.updateFirewall,
		"scan_system":         e.scanSystem,
		"backup_system":       e.backupSystem,
		"restore_from_backup": e.restoreFromBackup,
		"log_action":          e.logAction,
		"wait":                e.wait,
	}
}

// Execute implements runner.Executor.
func (e *Executor) Execute(ctx context.Context, action string, parameters map[string]string) (map[string]any, error) {
	handler, ok := e.handlers()[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	e.logger.Info("action: executing", "action", action, "parameters", parameters)
	result, err := handler(ctx, parameters)
	if err != nil {
		e.logger.Error("action: failed", "action", action, "error", err)
		return nil, err
	}
	e.logger.Info("action: completed", "action", action)
	return result, nil
}

func param(params map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := params[k]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func (e *Executor) stamp(suffix string) string {
	return e.now().UTC().Format("20060102_150405") + suffix
}

func (e *Executor) isolateHost(ctx context.Context, params map[string]string) (map[string]any, error) {
	host, ok := param(params, "hostname", "host")
	if !ok {
		return nil, fmt.Errorf("%w: hostname", ErrMissingParameter)
	}
	return map[string]any{
		"action":   "isolate_host",
		"hostname": host,
		"status":   "isolated",
		"isolation_rules": []string{
			fmt.Sprintf("Block all inbound traffic to %s", host),
			fmt.Sprintf("Block all outbound traffic from %s", host),
			"Allow management traffic on port 22",
		},
	}, nil
}

func (e *Executor) blockIP(ctx context.Context, params map[string]string) (map[string]any, error) {
	ip, ok := param(params, "ip_address", "ip")
	if !ok {
		return nil, fmt.Errorf("%w: ip_address", ErrMissingParameter)
	}
	return map[string]any{
		"action":        "block_ip",
		"ip_address":    ip,
		"status":        "blocked",
		"firewall_rule": fmt.Sprintf("DENY %s/32", ip),
	}, nil
}

func (e *Executor) killProcess(ctx context.Context, params map[string]string) (map[string]any, error) {
	host, ok := param(params, "hostname", "host")
	if !ok {
		return nil, fmt.Errorf("%w: hostname", ErrMissingParameter)
	}
	target, ok := param(params, "process_name", "process", "pid")
	if !ok {
		return nil, fmt.Errorf("%w: process_name or pid", ErrMissingParameter)
	}
	return map[string]any{
		"action":   "kill_process",
		"hostname": host,
		"process":  target,
		"status":   "terminated",
	}, nil
}

func (e *Executor) collectEvidence(ctx context.Context, params map[string]string) (map[string]any, error) {
	host, ok := param(params, "hostname", "host")
	if !ok {
		return nil, fmt.Errorf("%w: hostname", ErrMissingParameter)
	}
	evidenceTypes, ok := param(params, "evidence_types")
	if !ok {
		evidenceTypes = "memory,disk,network"
	}
	return map[string]any{
		"action":             "collect_evidence",
		"hostname":           host,
		"evidence_collected": evidenceTypes,
		"evidence_location":  fmt.Sprintf("/forensics/%s_%s", host, e.stamp("")),
		"status":             "collected",
	}, nil
}

func (e *Executor) notifyStakeholders(ctx context.Context, params map[string]string) (map[string]any, error) {
	message, ok := param(params, "message")
	if !ok {
		message = "Security incident detected"
	}
	recipients, ok := param(params, "recipients")
	if !ok {
		recipients = "security-team@company.com"
	}
	severity, ok := param(params, "severity")
	if !ok {
		severity = "medium"
	}
	return map[string]any{
		"action":          "notify_stakeholders",
		"message":         message,
		"recipients":      recipients,
		"severity":        severity,
		"notification_id": "notify_" + e.stamp(""),
		"status":          "sent",
	}, nil
}

func (e *Executor) resetPassword(ctx context.Context, params map[string]string) (map[string]any, error) {
	user, ok := param(params, "username", "user")
	if !ok {
		return nil, fmt.Errorf("%w: username", ErrMissingParameter)
	}
	return map[string]any{
		"action":       "reset_password",
		"username":     user,
		"new_password": "TempPass_" + e.now().UTC().Format("20060102") + "!",
		"status":       "reset",
	}, nil
}

func (e *Executor) disableUser(ctx context.Context, params map[string]string) (map[string]any, error) {
	user, ok := param(params, "username", "user")
	if !ok {
		return nil, fmt.Errorf("%w: username", ErrMissingParameter)
	}
	return map[string]any{
		"action":   "disable_user",
		"username": user,
		"status":   "disabled",
	}, nil
}

func (e *Executor) quarantineFile(ctx context.Context, params map[string]string) (map[string]any, error) {
	target, ok := param(params, "file_path", "file_hash")
	if !ok {
		return nil, fmt.Errorf("%w: file_path or file_hash", ErrMissingParameter)
	}
	host := params["hostname"]
	return map[string]any{
		"action":              "quarantine_file",
		"target":              target,
		"hostname":            host,
		"quarantine_location": fmt.Sprintf("/quarantine/%s_%s", target, e.stamp("")),
		"status":              "quarantined",
	}, nil
}

func (e *Executor) updateFirewall(ctx context.Context, params map[string]string) (map[string]any, error) {
	actionType, ok := param(params, "action")
	if !ok {
		actionType = "add"
	}
	rules, _ := param(params, "rules")
	return map[string]any{
		"action":         "update_firewall",
		"rules_modified": rules,
		"action_type":    actionType,
		"status":         "updated",
	}, nil
}

func (e *Executor) scanSystem(ctx context.Context, params map[string]string) (map[string]any, error) {
	host := params["hostname"]
	scanType, ok := param(params, "scan_type")
	if !ok {
		scanType = "full"
	}
	return map[string]any{
		"action":        "scan_system",
		"hostname":      host,
		"scan_type":     scanType,
		"threats_found": 0,
		"status":        "completed",
	}, nil
}

func (e *Executor) backupSystem(ctx context.Context, params map[string]string) (map[string]any, error) {
	host := params["hostname"]
	backupType, ok := param(params, "backup_type")
	if !ok {
		backupType = "incremental"
	}
	return map[string]any{
		"action":          "backup_system",
		"hostname":        host,
		"backup_type":     backupType,
		"backup_location": fmt.Sprintf("/backups/%s_%s", host, e.stamp("")),
		"status":          "completed",
	}, nil
}

func (e *Executor) restoreFromBackup(ctx context.Context, params map[string]string) (map[string]any, error) {
	host, ok := param(params, "hostname", "host")
	if !ok {
		return nil, fmt.Errorf("%w: hostname", ErrMissingParameter)
	}
	backupID, ok := param(params, "backup_id")
	if !ok {
		return nil, fmt.Errorf("%w: backup_id", ErrMissingParameter)
	}
	return map[string]any{
		"action":    "restore_from_backup",
		"hostname":  host,
		"backup_id": backupID,
		"status":    "restored",
	}, nil
}

func (e *Executor) logAction(ctx context.Context, params map[string]string) (map[string]any, error) {
	message, ok := param(params, "message")
	if !ok {
		message = "Action logged"
	}
	level, ok := param(params, "level")
	if !ok {
		level = "info"
	}
	return map[string]any{
		"action":    "log_action",
		"message":   message,
		"level":     level,
		"timestamp": e.now().UTC().Format(time.RFC3339),
		"status":    "logged",
	}, nil
}

func (e *Executor) wait(ctx context.Context, params map[string]string) (map[string]any, error) {
	duration := 1 * time.Second
	if d, ok := param(params, "duration"); ok {
		if parsed, err := time.ParseDuration(d + "s"); err == nil {
			duration = parsed
		}
	}
	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{
		"action":   "wait",
		"duration": duration.Seconds(),
		"status":   "completed",
	}, nil
}
