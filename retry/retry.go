// Package retry implements the backoff-based retry engine for outbound
// calls. Delays grow per a configurable strategy, get 10-30% jitter to
// avoid synchronized retry storms, and are clamped to a maximum. Client
// errors in [400,500) other than 429 are never retried.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/dskow/gateway-client/apierror"
)

// Strategy selects how the base delay grows between attempts.
type Strategy int

const (
	Exponential Strategy = iota // initialDelay * 2^(attempt-1)
	Linear                      // initialDelay * attempt
	Constant                    // initialDelay
)

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case Exponential:
		return "exponential"
	case Linear:
		return "linear"
	case Constant:
		return "constant"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "exponential", "":
		return Exponential, nil
	case "linear":
		return Linear, nil
	case "constant":
		return Constant, nil
	default:
		return Exponential, fmt.Errorf("unknown backoff strategy %q", s)
	}
}

// Policy is an immutable retry configuration.
type Policy struct {
	MaxAttempts  int
	Strategy     Strategy
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Delay returns the sleep before the attempt following the given failed
// attempt (1-indexed): base delay per strategy, plus jitter uniformly
// drawn from [10%, 30%] of the base, clamped to MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	var base time.Duration
	switch p.Strategy {
	case Linear:
		base = p.InitialDelay * time.Duration(attempt)
	case Constant:
		base = p.InitialDelay
	default: // Exponential
		base = p.InitialDelay << (attempt - 1)
	}

	jitter := time.Duration((0.1 + 0.2*rand.Float64()) * float64(base))
	delay := base + jitter
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Operation is a single attempt of the underlying call.
type Operation func(ctx context.Context) error

// OnRetry is invoked before each inter-attempt sleep, for observability.
type OnRetry func(attempt int, err error, delay time.Duration)

// Do invokes op up to p.MaxAttempts times. It returns nil on the first
// success, returns immediately on a non-retryable error, and wraps the
// last failure in an apierror.MaxRetriesError once attempts are
// exhausted. The inter-attempt sleep respects ctx cancellation.
func Do(ctx context.Context, p Policy, service, endpoint string, op Operation, onRetry OnRetry) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !apierror.Retryable(err) {
			return err
		}

		// Final attempt: exit without sleeping.
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &apierror.MaxRetriesError{
		Service:  service,
		Endpoint: endpoint,
		Attempts: p.MaxAttempts,
		Err:      lastErr,
	}
}
