// Package circuitbreaker provides the per-target-service circuit breaker
// gating outbound calls through the gateway. A breaker opens after a run of
// consecutive failures, probes the target again after a recovery timeout,
// and can reconcile its state with the gateway's own breaker view on a
// best-effort basis.
package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dskow/gateway-client/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; calls allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ParseState converts a gateway-reported state string ("OPEN", "CLOSED",
// "HALF_OPEN", case-insensitive variants included) into a State.
func ParseState(s string) (State, bool) {
	switch s {
	case "OPEN", "open":
		return StateOpen, true
	case "CLOSED", "closed":
		return StateClosed, true
	case "HALF_OPEN", "half-open", "half_open":
		return StateHalfOpen, true
	default:
		return StateClosed, false
	}
}

// Config holds the thresholds for a single breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state before the circuit opens.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before the next
	// permission query transitions it to half-open.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive successful probes in
	// the half-open state needed to close the circuit.
	SuccessThreshold int
}

// StatusFunc queries an external authority (the gateway) for its view of
// this breaker's state. Implementations should use a short timeout so a
// slow remote never stalls the call path.
type StatusFunc func(ctx context.Context, circuitName string) (State, error)

// Breaker is a consecutive-failure circuit breaker for one target service.
// All state mutation happens under an internal mutex; the remote
// reconciliation read is deliberately not atomic with local mutation
// (the remote view is advisory, never a source of truth).
type Breaker struct {
	name   string
	target string
	cfg    Config
	logger *slog.Logger
	reg    *metrics.Registry

	statusFn     StatusFunc
	syncInterval time.Duration

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
	lastSync        time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger used for state transition events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// WithMetrics publishes state transitions to the given registry.
func WithMetrics(reg *metrics.Registry) Option {
	return func(b *Breaker) { b.reg = reg }
}

// WithRemoteStatus enables best-effort reconciliation with the gateway's
// breaker view: before evaluating local state, CanExecute queries fn at
// most once per interval and force-opens or force-closes to match.
func WithRemoteStatus(fn StatusFunc, interval time.Duration) Option {
	return func(b *Breaker) {
		b.statusFn = fn
		b.syncInterval = interval
	}
}

// DefaultSyncInterval is how often the gateway's breaker view is consulted
// when remote reconciliation is enabled without an explicit interval.
const DefaultSyncInterval = 10 * time.Second

// New creates a closed Breaker for the given target service.
func New(target string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:            target + "-circuit",
		target:          target,
		cfg:             cfg,
		logger:          slog.Default(),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.statusFn != nil && b.syncInterval <= 0 {
		b.syncInterval = DefaultSyncInterval
	}
	return b
}

// Name returns the circuit name (derived from the target service).
func (b *Breaker) Name() string { return b.name }

// CanExecute reports whether a call may proceed. In the open state it
// lazily transitions to half-open once the recovery timeout has elapsed;
// that transition is what lets probing calls through. When remote
// reconciliation is configured it runs first, so a force-open from the
// gateway takes effect before the local decision.
func (b *Breaker) CanExecute(ctx context.Context) bool {
	b.maybeSync(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastStateChange) > b.cfg.RecoveryTimeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// Multiple concurrent probes are allowed; a single failed probe
		// re-opens immediately.
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call. In half-open it counts toward
// the close threshold; in closed it resets the consecutive-failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount = 0
		}
	}
}

// RecordFailure records a failed call. In closed it opens the circuit once
// the failure threshold is reached; in half-open any failure re-opens.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed with all counters zeroed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.failureCount = 0
	b.successCount = 0
}

// Snapshot is a point-in-time view of a breaker, for the admin surface.
type Snapshot struct {
	Name            string    `json:"name"`
	Target          string    `json:"target"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
	LastStateChange time.Time `json:"last_state_change"`
}

// Snapshot returns the breaker's current counters and state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		Target:          b.target,
		State:           b.state.String(),
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

// maybeSync reconciles with the gateway's breaker view at most once per
// sync interval. Any failure to reach the remote is swallowed and local
// state is retained; the cycle is simply skipped.
func (b *Breaker) maybeSync(ctx context.Context) {
	if b.statusFn == nil {
		return
	}

	b.mu.Lock()
	if time.Since(b.lastSync) < b.syncInterval {
		b.mu.Unlock()
		return
	}
	b.lastSync = time.Now()
	b.mu.Unlock()

	// The remote query runs outside the lock so a slow gateway never
	// blocks concurrent permission checks.
	remote, err := b.statusFn(ctx, b.name)
	if err != nil {
		b.logger.Debug("circuit breaker sync skipped",
			"circuit", b.name,
			"error", err,
		)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case remote == StateOpen && b.state != StateOpen:
		b.logger.Info("circuit breaker force-opened by gateway", "circuit", b.name)
		b.transitionTo(StateOpen)
	case remote == StateClosed && b.state != StateClosed:
		b.logger.Info("circuit breaker force-closed by gateway", "circuit", b.name)
		b.transitionTo(StateClosed)
	}
}

// transitionTo changes the breaker state, maintaining counter invariants
// and emitting metrics and logging. Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState
	b.lastStateChange = time.Now()

	switch newState {
	case StateClosed:
		b.failureCount = 0
		b.successCount = 0
	case StateHalfOpen:
		b.successCount = 0
	}

	if b.reg != nil {
		b.reg.SetCircuitState(b.target, int(newState))
	}

	b.logger.Info("circuit breaker state change",
		"circuit", b.name,
		"from", from.String(),
		"to", newState.String(),
	)
}
