package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_UnknownAction(t *testing.T) {
	e := New(nil)
	_, err := e.Execute(context.Background(), "nonexistent", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestExecute_IsolateHost_RequiresHostname(t *testing.T) {
	e := New(nil)
	_, err := e.Execute(context.Background(), "isolate_host", map[string]string{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingParameter))

	out, err := e.Execute(context.Background(), "isolate_host", map[string]string{"host": "web-01"})
	require.NoError(t, err)
	assert.Equal(t, "isolated", out["status"])
	assert.Equal(t, "web-01", out["hostname"])
}

func TestExecute_BlockIP(t *testing.T) {
	e := New(nil)
	out, err := e.Execute(context.Background(), "block_ip", map[string]string{"ip": "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "blocked", out["status"])
	assert.Equal(t, "DENY 10.0.0.1/32", out["firewall_rule"])
}

func TestExecute_KillProcess_RequiresProcessOrPID(t *testing.T) {
	e := New(nil)
	_, err := e.Execute(context.Background(), "kill_process", map[string]string{"host": "web-01"})
	require.Error(t, err)

	out, err := e.Execute(context.Background(), "kill_process", map[string]string{"host": "web-01", "pid": "1234"})
	require.NoError(t, err)
	assert.Equal(t, "terminated", out["status"])
}

func TestExecute_AllFourteenCapabilitiesAreNamed(t *testing.T) {
	e := New(nil)
	inputs := map[string]map[string]string{
		"isolate_host":        {"host": "h"},
		"block_ip":            {"ip": "1.2.3.4"},
		"kill_process":        {"host": "h", "pid": "1"},
		"collect_evidence":    {"host": "h"},
		"notify_stakeholders": {},
		"reset_password":      {"user": "alice"},
		"disable_user":        {"user": "alice"},
		"quarantine_file":     {"file_path": "/tmp/x"},
		"update_firewall":     {},
		"scan_system":         {"hostname": "h"},
		"backup_system":       {"hostname": "h"},
		"restore_from_backup": {"host": "h", "backup_id": "b1"},
		"log_action":          {},
		"wait":                {"duration": "0"},
	}
	for action, params := range inputs {
		_, err := e.Execute(context.Background(), action, params)
		assert.NoError(t, err, "action %s should succeed", action)
	}
}

func TestExecute_Wait_RespectsCancellation(t *testing.T) {
	e := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := e.Execute(ctx, "wait", map[string]string{"duration": "5"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
