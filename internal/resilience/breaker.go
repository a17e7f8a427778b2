// Package resilience provides error classification, recovery routing, and
// circuit breaking for the realtime core's external boundaries.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/EmmaGarrr/ai-pm/internal/metrics"
)

// ErrCircuitOpen is returned when a guarded call is rejected without being
// attempted.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is one of closed, half-open, open.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateHalfOpen BreakerState = "half_open"
	StateOpen     BreakerState = "open"
)

func (s BreakerState) gaugeValue() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Breaker is a consecutive-failure circuit breaker. The circuit opens after
// FailureThreshold consecutive failures, probes again after Cooldown has
// elapsed since the last failure, and closes after SuccessesToClose
// consecutive probe successes. Any probe failure reopens it.
type Breaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	successesToClose int
	clock            clockwork.Clock

	mu           sync.Mutex
	state        BreakerState
	failures     int
	successes    int
	lastFailure  time.Time
	stateChanges int
}

// NewBreaker creates a closed breaker. successesToClose below 1 is raised
// to 1.
func NewBreaker(name string, failureThreshold int, cooldown time.Duration, successesToClose int, clock clockwork.Clock) *Breaker {
	if successesToClose < 1 {
		successesToClose = 1
	}
	b := &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		successesToClose: successesToClose,
		clock:            clock,
		state:            StateClosed,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(StateClosed.gaugeValue())
	return b
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed transitions to half-open and admits the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.clock.Since(b.lastFailure) >= b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	}
	return true
}

// RecordSuccess feeds a successful call outcome into the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.successesToClose {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure feeds a failed call outcome into the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.clock.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// Do runs op through the breaker, recording its outcome. A rejected call
// returns ErrCircuitOpen wrapped with the breaker name.
func (b *Breaker) Do(op func() error) error {
	if !b.Allow() {
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	if err := op(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.clock.Since(b.lastFailure) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// BreakerSnapshot is a point-in-time view of a breaker for operator endpoints.
type BreakerSnapshot struct {
	Name             string       `json:"name"`
	State            BreakerState `json:"state"`
	Failures         int          `json:"consecutive_failures"`
	FailureThreshold int          `json:"failure_threshold"`
	Cooldown         float64      `json:"cooldown_seconds"`
	LastFailure      *time.Time   `json:"last_failure,omitempty"`
	StateChanges     int          `json:"state_changes"`
}

func (b *Breaker) snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerSnapshot{
		Name:             b.name,
		State:            b.state,
		Failures:         b.failures,
		FailureThreshold: b.failureThreshold,
		Cooldown:         b.cooldown.Seconds(),
		StateChanges:     b.stateChanges,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	return s
}

// transition must be called with the lock held.
func (b *Breaker) transition(to BreakerState) {
	if b.state == to {
		b.failures = 0
		b.successes = 0
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	b.stateChanges++
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(to.gaugeValue())
	metrics.CircuitBreakerStateChanges.WithLabelValues(b.name, string(to)).Inc()
}
