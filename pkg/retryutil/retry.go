// Package retryutil is the retry/backoff primitive shared by the bus (nak
// delay via Policy.Delay), the policy gate, and the embedding/reranker HTTP
// clients. The playbook runner computes its own step backoff and does not
// use it.
package retryutil

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy describes an exponential backoff curve: delay(n) = min(base *
// factor^(n-1), cap), for attempt n starting at 1.
type Policy struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	// Jitter, in [0,1], randomizes the computed delay by +/- Jitter*delay.
	// Zero disables jitter.
	Jitter float64
}

// Delay returns the backoff duration before attempt n (1-indexed).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.Base)
	for i := 1; i < n; i++ {
		d *= p.Factor
	}
	capped := d
	if cap := float64(p.Cap); p.Cap > 0 && capped > cap {
		capped = cap
	}
	if p.Jitter <= 0 {
		return time.Duration(capped)
	}
	offset := (rand.Float64()*2 - 1) * p.Jitter * capped
	jittered := capped + offset
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// Op is a unit of work that can be retried. A nil error indicates success.
type Op func(ctx context.Context, attempt int) error

// permanentError marks an error as non-retryable: Do returns it immediately
// without waiting for the remaining attempts (e.g. an HTTP 4xx, a decode
// failure — retrying cannot change the outcome).
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do stops retrying immediately and returns it,
// rather than exhausting the remaining attempts on a call that cannot
// succeed no matter how many times it is retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op, retrying up to attempts times (attempt 1 is the first try,
// not a "retry") per policy, sleeping between attempts. It returns the last
// error if every attempt fails, or nil on the first success. Do returns
// immediately if ctx is cancelled while sleeping or before an attempt runs.
func Do(ctx context.Context, attempts int, policy Policy, op Op) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}
	return lastErr
}

// DefaultBusPolicy is the bus nak backoff: 1s base, factor 2.0, 30s cap.
var DefaultBusPolicy = Policy{Base: time.Second, Factor: 2.0, Cap: 30 * time.Second}

// DefaultStepPolicy is a 1s-base, factor-2 backoff capped at 10s (1s, 2s,
// 4s, 8s, then 10s); the embedding and reranker HTTP clients retry with it.
var DefaultStepPolicy = Policy{Base: time.Second, Factor: 2.0, Cap: 10 * time.Second}
