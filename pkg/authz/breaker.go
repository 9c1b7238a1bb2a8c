package authz

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/policygate/policygate/pkg/observability"
)

// BreakerState mirrors the circuit breaker state machine: CLOSED passes
// calls through, OPEN rejects them, HALF_OPEN admits a single probe.
type BreakerState int

// Breaker states
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Health strings exposed for liveness probes.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive upstream failures
	// that trips CLOSED to OPEN
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
	// Cooldown is how long the breaker stays OPEN before admitting a
	// probe call
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// DefaultBreakerConfig returns the reference breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker guards calls to one upstream dependency. State is owned
// here and mutated only through recorded call outcomes; instances are
// injected into the engine, never reached through a package global.
type CircuitBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// NewCircuitBreaker creates a breaker named after its upstream dependency.
// Every state transition is emitted on the sink.
func NewCircuitBreaker(name string, config BreakerConfig, sink EventSink, logger observability.Logger) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown == 0 {
		config.Cooldown = 30 * time.Second
	}
	if sink == nil {
		sink = NopSink{}
	}

	settings := gobreaker.Settings{
		Name: name,
		// One probe at a time in half-open; concurrent calls during the
		// probe are rejected as if the breaker were still open.
		MaxRequests: 1,
		Timeout:     config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			sink.Emit(BreakerTransitionEvent{
				Breaker: name,
				From:    fromGobreakerState(from),
				To:      fromGobreakerState(to),
				At:      time.Now(),
			})
		},
	}

	return &CircuitBreaker{
		name:   name,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger.WithPrefix("breaker"),
	}
}

// Execute runs fn under the breaker. The call runs on its own goroutine: if
// ctx is cancelled the caller returns immediately, but fn still completes
// and its outcome is recorded, so caller-side timeouts never corrupt
// breaker accounting. A rejected call returns ErrAuthorityUnavailable.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	type outcome struct {
		result interface{}
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		result, err := b.cb.Execute(fn)
		resultCh <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.err == gobreaker.ErrOpenState || res.err == gobreaker.ErrTooManyRequests {
			return nil, ErrAuthorityUnavailable
		}
		return res.result, res.err
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	return fromGobreakerState(b.cb.State())
}

// Health maps the breaker state to the liveness value exposed to external
// probes: degraded only while OPEN.
func (b *CircuitBreaker) Health() string {
	if b.State() == BreakerOpen {
		return HealthDegraded
	}
	return HealthHealthy
}

func fromGobreakerState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}
