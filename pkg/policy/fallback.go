package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed fallback.rego
var fallbackModule string

// FallbackGate evaluates the embedded, fixed Rego module — the
// documented fallback ruleset, compiled once and reused
// for every Evaluate call so the same input always yields the same output.
type FallbackGate struct {
	query rego.PreparedEvalQuery
}

// NewFallbackGate compiles the embedded policy module.
func NewFallbackGate(ctx context.Context) (*FallbackGate, error) {
	r := rego.New(
		rego.Query("x = data.policy.gate"),
		rego.Module("fallback.rego", fallbackModule),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile fallback module: %w", err)
	}
	return &FallbackGate{query: pq}, nil
}

// Evaluate implements Gate.
func (g *FallbackGate) Evaluate(ctx context.Context, in Input) (Decision, error) {
	rs, err := g.query.Eval(ctx, rego.EvalInput(in.toEvalInput()))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: fallback eval: %v", ErrPolicyUnavailable, err)
	}
	if len(rs) == 0 {
		return Decision{}, fmt.Errorf("%w: fallback produced no result", ErrPolicyUnavailable)
	}
	binding, ok := rs[0].Bindings["x"].(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("%w: fallback produced an unexpected shape", ErrPolicyUnavailable)
	}

	return Decision{
		Allow:            boolAt(binding, "allow"),
		ApprovalRequired: boolAt(binding, "approval_required"),
		RiskLevel:        stringAt(binding, "risk_level"),
		Restrictions:     stringSliceAt(binding, "restrictions"),
		Recommendations:  stringSliceAt(binding, "recommendations"),
		Source:           SourceFallback,
	}, nil
}

func boolAt(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringAt(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func stringSliceAt(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
