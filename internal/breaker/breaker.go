// Package breaker implements a three-state circuit breaker guarding calls to
// the generative-content dependency.
//
// The breaker prevents cascading failures by rejecting requests while the
// dependency is failing:
//
//   - Closed: normal operation, requests pass through
//   - Open: dependency failing, requests rejected immediately
//   - HalfOpen: testing recovery, a bounded number of probes allowed
package breaker

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// State is the current circuit state.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests immediately.
	StateOpen
	// StateHalfOpen allows a bounded number of trial requests.
	StateHalfOpen
)

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

// Config defines breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold uint32
	// OpenDuration is how long the circuit stays open before half-open.
	OpenDuration time.Duration
	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	// All of them must succeed for the circuit to close.
	HalfOpenMaxRequests uint32
}

// DefaultConfig mirrors the operational defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		OpenDuration:        60 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// halfOpenBackoff is the retry hint returned when the half-open probe budget
// is exhausted and callers should wait for outstanding probes to finish.
const halfOpenBackoff = time.Second

// OpenError is returned when the breaker rejects a request.
type OpenError struct {
	// RetryAfter is the remaining wait before the circuit allows a probe.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry after %s", e.RetryAfter)
}

// Transition records a state change for observers.
type Transition struct {
	From State
	To   State
}

type internalState struct {
	state             State
	openedAt          time.Time
	halfOpenRequests  uint32
	halfOpenSuccesses uint32
}

// Breaker is a concurrency-safe circuit breaker. It lives for the process
// lifetime; Reset is the only way to clear its counters.
type Breaker struct {
	cfg Config

	mu sync.RWMutex
	st internalState

	// consecutiveFailures is the fast-path counter; no lock on record paths
	// that do not transition.
	consecutiveFailures atomic.Uint32
	totalFailures       atomic.Uint64
	totalSuccesses      atomic.Uint64
	openCount           atomic.Uint64

	// observer, when set, fires strictly after the state lock is released.
	observer func(Transition)
	now      func() time.Time
}

// New creates a breaker with the given configuration.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg: cfg,
		st:  internalState{state: StateClosed},
		now: time.Now,
	}
}

// WithObserver registers a transition observer. The observer is invoked after
// the internal lock is released, so re-entrant breaker calls are safe.
func (b *Breaker) WithObserver(fn func(Transition)) *Breaker {
	b.observer = fn
	return b
}

// State returns the current state. Reading while Open lazily performs the
// Open -> HalfOpen transition once the open duration has elapsed; exactly one
// caller performs the transition under concurrent reads.
func (b *Breaker) State() State {
	b.mu.RLock()
	st := b.st
	b.mu.RUnlock()

	if st.state == StateOpen && b.now().Sub(st.openedAt) >= b.cfg.OpenDuration {
		return b.tryHalfOpen()
	}
	return st.state
}

// tryHalfOpen transitions Open -> HalfOpen if the open duration has elapsed.
// The write lock plus the double-check makes the transition linearizable.
func (b *Breaker) tryHalfOpen() State {
	var transition *Transition

	b.mu.Lock()
	if b.st.state == StateOpen && b.now().Sub(b.st.openedAt) >= b.cfg.OpenDuration {
		transition = &Transition{From: b.st.state, To: StateHalfOpen}
		b.st.state = StateHalfOpen
		b.st.halfOpenRequests = 0
		b.st.halfOpenSuccesses = 0
		log.Printf("breaker: transitioning from %s to %s", transition.From, transition.To)
	}
	current := b.st.state
	b.mu.Unlock()

	b.notify(transition)
	return current
}

// Allow reports whether a request should proceed. In Open it returns an
// OpenError with the remaining wait; in HalfOpen it permits up to
// HalfOpenMaxRequests concurrent probes and rejects extras with a short
// fixed backoff.
func (b *Breaker) Allow() error {
	switch b.State() {
	case StateClosed:
		return nil
	case StateOpen:
		b.mu.RLock()
		elapsed := b.now().Sub(b.st.openedAt)
		b.mu.RUnlock()
		retryAfter := b.cfg.OpenDuration - elapsed
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &OpenError{RetryAfter: retryAfter}
	default: // StateHalfOpen
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.st.state != StateHalfOpen {
			// Raced with another transition; closed lets it pass, open rejects.
			if b.st.state == StateClosed {
				return nil
			}
			return &OpenError{RetryAfter: halfOpenBackoff}
		}
		if b.st.halfOpenRequests < b.cfg.HalfOpenMaxRequests {
			b.st.halfOpenRequests++
			return nil
		}
		return &OpenError{RetryAfter: halfOpenBackoff}
	}
}

// RecordSuccess resets the consecutive-failure count. In HalfOpen the circuit
// closes only once every allowed probe has succeeded; there is no partial
// credit.
func (b *Breaker) RecordSuccess() {
	b.totalSuccesses.Add(1)
	b.consecutiveFailures.Store(0)

	var transition *Transition

	b.mu.Lock()
	if b.st.state == StateHalfOpen {
		b.st.halfOpenSuccesses++
		if b.st.halfOpenSuccesses >= b.cfg.HalfOpenMaxRequests {
			transition = &Transition{From: b.st.state, To: StateClosed}
			b.st.state = StateClosed
			b.st.openedAt = time.Time{}
			log.Printf("breaker: closing after %d successful half-open probes", b.st.halfOpenSuccesses)
		}
	}
	b.mu.Unlock()

	b.notify(transition)
}

// RecordFailure increments the consecutive-failure count. In Closed the
// circuit opens once the threshold is reached; in HalfOpen a single failure
// reopens immediately; in Open it only refreshes the open timestamp.
func (b *Breaker) RecordFailure() {
	b.totalFailures.Add(1)
	failures := b.consecutiveFailures.Add(1)

	var transition *Transition

	b.mu.Lock()
	switch b.st.state {
	case StateClosed:
		if failures >= b.cfg.FailureThreshold {
			transition = &Transition{From: b.st.state, To: StateOpen}
			b.st.state = StateOpen
			b.st.openedAt = b.now()
			b.openCount.Add(1)
			log.Printf("breaker: opening after %d consecutive failures (threshold %d)", failures, b.cfg.FailureThreshold)
		}
	case StateHalfOpen:
		transition = &Transition{From: b.st.state, To: StateOpen}
		b.st.state = StateOpen
		b.st.openedAt = b.now()
		b.openCount.Add(1)
		log.Printf("breaker: re-opening after failure in half-open state")
	case StateOpen:
		b.st.openedAt = b.now()
	}
	b.mu.Unlock()

	b.notify(transition)
}

// Metrics is a point-in-time snapshot of breaker counters.
type Metrics struct {
	State               State
	ConsecutiveFailures uint32
	TotalFailures       uint64
	TotalSuccesses      uint64
	OpenCount           uint64
	// TimeUntilHalfOpen is the remaining open wait; zero unless Open.
	TimeUntilHalfOpen time.Duration
}

// Metrics returns counters for monitoring.
func (b *Breaker) Metrics() Metrics {
	b.mu.RLock()
	st := b.st
	b.mu.RUnlock()

	m := Metrics{
		State:               st.state,
		ConsecutiveFailures: b.consecutiveFailures.Load(),
		TotalFailures:       b.totalFailures.Load(),
		TotalSuccesses:      b.totalSuccesses.Load(),
		OpenCount:           b.openCount.Load(),
	}
	if st.state == StateOpen {
		remaining := b.cfg.OpenDuration - b.now().Sub(st.openedAt)
		if remaining > 0 {
			m.TimeUntilHalfOpen = remaining
		}
	}
	return m
}

// ForceState moves the breaker to a specific state for operational recovery
// or tests.
func (b *Breaker) ForceState(next State) {
	var transition *Transition

	b.mu.Lock()
	prev := b.st.state
	b.st.state = next
	switch next {
	case StateClosed:
		b.st.openedAt = time.Time{}
		b.consecutiveFailures.Store(0)
	case StateOpen:
		b.st.openedAt = b.now()
	case StateHalfOpen:
		b.st.halfOpenRequests = 0
		b.st.halfOpenSuccesses = 0
	}
	if prev != next {
		transition = &Transition{From: prev, To: next}
		log.Printf("breaker: state forced from %s to %s", prev, next)
	}
	b.mu.Unlock()

	b.notify(transition)
}

// Reset restores the closed state and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.st = internalState{state: StateClosed}
	b.mu.Unlock()

	b.consecutiveFailures.Store(0)
	b.totalFailures.Store(0)
	b.totalSuccesses.Store(0)
	b.openCount.Store(0)
	log.Printf("breaker: reset to closed state")
}

func (b *Breaker) notify(transition *Transition) {
	if transition != nil && b.observer != nil {
		b.observer(*transition)
	}
}
