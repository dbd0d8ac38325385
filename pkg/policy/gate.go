package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sentorproj/sentor/pkg/retryutil"
)

// CircuitGateConfig tunes the breaker guarding the primary engine.
type CircuitGateConfig struct {
	// ConsecutiveFailures trips the breaker open after this many
	// consecutive primary failures (default 5).
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before allowing a
	// half-open probe (default 30s).
	OpenTimeout time.Duration
	// Attempts is the bounded-retry count at the primary-engine call site
	// before the circuit records a failure. Default 2.
	Attempts int
}

// CircuitGate wraps a primary (HTTP) Gate with a circuit breaker and
// bounded retry, degrading to a fallback Gate when the primary is
// unreachable or its breaker is open.
type CircuitGate struct {
	primary  Gate
	fallback Gate
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
	attempts int
}

// NewCircuitGate constructs a CircuitGate. A nil logger falls back to
// slog.Default().
func NewCircuitGate(primary, fallback Gate, cfg CircuitGateConfig, logger *slog.Logger) *CircuitGate {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "policy-gate",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("policy: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &CircuitGate{primary: primary, fallback: fallback, breaker: breaker, logger: logger, attempts: cfg.Attempts}
}

var retryPolicy = retryutil.Policy{Base: 200 * time.Millisecond, Factor: 2.0, Cap: 2 * time.Second}

// Evaluate implements Gate: it tries the primary engine through the
// breaker with bounded retry, and falls back to the embedded ruleset on
// any failure — including the breaker itself being open, which fails
// fast without calling the primary at all.
func (g *CircuitGate) Evaluate(ctx context.Context, in Input) (Decision, error) {
	if g.primary == nil {
		return g.fallback.Evaluate(ctx, in)
	}

	result, err := g.breaker.Execute(func() (any, error) {
		var decision Decision
		attemptErr := retryutil.Do(ctx, g.attempts, retryPolicy, func(ctx context.Context, attempt int) error {
			var err error
			decision, err = g.primary.Evaluate(ctx, in)
			return err
		})
		return decision, attemptErr
	})
	if err == nil {
		return result.(Decision), nil
	}

	g.logger.Warn("policy: primary engine unavailable, using fallback ruleset", "error", err)
	decision, fallbackErr := g.fallback.Evaluate(ctx, in)
	if fallbackErr != nil {
		return Decision{}, fallbackErr
	}
	return decision, nil
}
