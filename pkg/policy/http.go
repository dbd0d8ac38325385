package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPConfig configures the primary policy-engine gate.
type HTTPConfig struct {
	BaseURL    string
	PolicyPath string // e.g. "sentor/gate"
	Data       map[string]any
	Timeout    time.Duration
	Client     *http.Client
}

// HTTPGate delegates Evaluate to an external OPA-compatible policy engine.
type HTTPGate struct {
	cfg HTTPConfig
}

// NewHTTPGate constructs an HTTPGate. A zero Timeout defaults to 5s; a nil
// Client defaults to a fresh http.Client scoped to that timeout.
func NewHTTPGate(cfg HTTPConfig) *HTTPGate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPGate{cfg: cfg}
}

type httpRequestBody struct {
	Input map[string]any `json:"input"`
	Data  map[string]any `json:"data,omitempty"`
}

type httpResponseBody struct {
	Result struct {
		Allow            bool     `json:"allow"`
		ApprovalRequired bool     `json:"approval_required"`
		RiskLevel        string   `json:"risk_level"`
		Restrictions     []string `json:"restrictions"`
		Recommendations  []string `json:"recommendations"`
	} `json:"result"`
}

// Evaluate implements Gate by POSTing the authorization query to the
// configured policy engine.
func (g *HTTPGate) Evaluate(ctx context.Context, in Input) (Decision, error) {
	evalIn := in.toEvalInput()
	inputMap := map[string]any{
		"incident_id":      evalIn.IncidentID,
		"severity":         evalIn.Severity,
		"confidence":       evalIn.Confidence,
		"risk_tier":        evalIn.RiskTier,
		"risk_score":       evalIn.RiskScore,
		"has_irreversible": evalIn.HasIrreversible,
		"duration_minutes": evalIn.DurationMinutes,
		"playbooks":        evalIn.Playbooks,
	}

	body, err := json.Marshal(httpRequestBody{Input: inputMap, Data: g.cfg.Data})
	if err != nil {
		return Decision{}, fmt.Errorf("policy: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/data/%s", g.cfg.BaseURL, g.cfg.PolicyPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.cfg.Client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("%w: policy engine returned status %d", ErrPolicyUnavailable, resp.StatusCode)
	}

	var parsed httpResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Decision{}, fmt.Errorf("%w: decode response: %v", ErrPolicyUnavailable, err)
	}

	return Decision{
		Allow:            parsed.Result.Allow,
		ApprovalRequired: parsed.Result.ApprovalRequired,
		RiskLevel:        parsed.Result.RiskLevel,
		Restrictions:     parsed.Result.Restrictions,
		Recommendations:  parsed.Result.Recommendations,
		Source:           SourcePrimary,
	}, nil
}
