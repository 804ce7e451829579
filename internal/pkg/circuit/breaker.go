package circuit

import (
	"sync"
	"time"

	"riskcore/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker isolates one failing dependency. A single mutex guards all state;
// Allow/RecordSuccess/RecordFailure are safe for concurrent callers.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	threshold        int
	timeout          time.Duration
	halfOpenMax      int
	halfOpenAttempts int
	lastFailure      time.Time
	openedAt         time.Time
	name             string
	onStateChange    func(name string, from, to State)
	nowFn            func() time.Time
}

func NewBreaker(name string, threshold int, timeout time.Duration, halfOpenMax int) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if halfOpenMax <= 0 {
		halfOpenMax = 1
	}
	return &Breaker{
		name:        name,
		threshold:   threshold,
		timeout:     timeout,
		halfOpenMax: halfOpenMax,
		state:       StateClosed,
		nowFn:       time.Now,
	}
}

func (cb *Breaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

// Allow reports whether a call may proceed. An open breaker transitions to
// half-open once the timeout has elapsed since it opened.
func (cb *Breaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.nowFn().Sub(cb.openedAt) >= cb.timeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenAttempts = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *Breaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateClosed)
		cb.failures = 0
		cb.halfOpenAttempts = 0
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *Breaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.nowFn()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.halfOpenAttempts++
		if cb.halfOpenAttempts >= cb.halfOpenMax {
			// back to open with a fresh timeout window
			cb.open()
		}
	}
}

// State returns the current state without transitioning.
func (cb *Breaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot reports the breaker internals for status surfaces.
func (cb *Breaker) Snapshot() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Status{
		Name:             cb.name,
		State:            cb.state.String(),
		FailureCount:     cb.failures,
		LastFailure:      cb.lastFailure,
		OpenedAt:         cb.openedAt,
		HalfOpenAttempts: cb.halfOpenAttempts,
	}
}

// Status is a read-only view of one breaker.
type Status struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	FailureCount     int       `json:"failure_count"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
	OpenedAt         time.Time `json:"opened_at,omitempty"`
	HalfOpenAttempts int       `json:"half_open_attempts"`
}

func (cb *Breaker) open() {
	cb.openedAt = cb.nowFn()
	cb.transition(StateOpen)
}

func (cb *Breaker) transition(to State) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
	} else {
		logger.Warnf("Breaker %s state change: %s -> %s (failures=%d/%d, timeout=%s)",
			cb.name, from, to, cb.failures, cb.threshold, cb.timeout)
	}
}
