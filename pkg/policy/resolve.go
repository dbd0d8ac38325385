package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Resolve builds the production Gate: an HTTP primary (when POLICY_ENGINE_URL
// is configured) wrapped in a circuit breaker, degrading to the embedded
// Rego fallback. With no URL configured, the fallback alone is authoritative
// — the natural shape for offline operation and tests.
func Resolve(ctx context.Context, policyPath string, logger *slog.Logger) (Gate, error) {
	fallback, err := NewFallbackGate(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	url := os.Getenv("POLICY_ENGINE_URL")
	if url == "" {
		return fallback, nil
	}
	if policyPath == "" {
		policyPath = os.Getenv("POLICY_DATA_PATH")
	}
	if policyPath == "" {
		policyPath = "sentor/gate"
	}

	primary := NewHTTPGate(HTTPConfig{BaseURL: url, PolicyPath: policyPath})
	return NewCircuitGate(primary, fallback, CircuitGateConfig{}, logger), nil
}
