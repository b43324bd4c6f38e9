package errors

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the position of a CircuitBreaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen             = errors.New("circuit breaker is open")
	ErrHalfOpenTooManyRequests = errors.New("too many requests in half-open")
)

// BreakerSettings tune a CircuitBreaker. Zero fields take the defaults.
type BreakerSettings struct {
	// FailureRatio of calls in the current window that opens the circuit.
	FailureRatio float64
	// MinRequests in a window before FailureRatio is considered.
	MinRequests int
	// OpenFor is how long the circuit stays open before letting trial calls through.
	OpenFor time.Duration
	// TrialCalls is how many successful half-open calls close the circuit.
	TrialCalls int
	// Counts reports whether err says something about the dependency.
	// Errors it rejects, such as a user who blocked the bot, are neither
	// failures nor successes. Nil counts every error.
	Counts func(err error) bool
	// OnStateChange is called with the lock held; keep it short.
	OnStateChange func(from, to BreakerState)
}

// DefaultBreakerSettings fit calls to the Telegram Bot API.
var DefaultBreakerSettings = BreakerSettings{
	FailureRatio: 0.5,
	MinRequests:  10,
	OpenFor:      30 * time.Second,
	TrialCalls:   3,
}

// CircuitBreaker stops calling a failing dependency and tries it again
// after a pause. Outgoing bot notifications go through one.
type CircuitBreaker struct {
	settings BreakerSettings
	now      func() time.Time

	mu            sync.Mutex
	state         BreakerState
	openedAt      time.Time
	calls         int
	failures      int
	trialsRunning int
	trialsPassed  int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	d := DefaultBreakerSettings
	if settings.FailureRatio <= 0 {
		settings.FailureRatio = d.FailureRatio
	}
	if settings.MinRequests <= 0 {
		settings.MinRequests = d.MinRequests
	}
	if settings.OpenFor <= 0 {
		settings.OpenFor = d.OpenFor
	}
	if settings.TrialCalls <= 0 {
		settings.TrialCalls = d.TrialCalls
	}
	return &CircuitBreaker{settings: settings, now: time.Now}
}

// State returns the current state, moving an expired open circuit to
// half-open.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	return cb.state
}

// Call runs fn unless the circuit is open or enough trial calls are in flight.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}

	trial, err := cb.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	cb.record(trial, callErr)
	return callErr
}

func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expireLocked()
	switch cb.state {
	case StateOpen:
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if cb.trialsRunning+cb.trialsPassed >= cb.settings.TrialCalls {
			return false, ErrHalfOpenTooManyRequests
		}
		cb.trialsRunning++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trialsRunning--
	}
	if err != nil && cb.settings.Counts != nil && !cb.settings.Counts(err) {
		return
	}

	switch {
	case cb.state == StateHalfOpen && err != nil:
		cb.setLocked(StateOpen)
	case cb.state == StateHalfOpen:
		cb.trialsPassed++
		if cb.trialsPassed >= cb.settings.TrialCalls {
			cb.setLocked(StateClosed)
		}
	case cb.state == StateClosed:
		cb.calls++
		if err != nil {
			cb.failures++
		}
		if cb.calls >= cb.settings.MinRequests &&
			float64(cb.failures)/float64(cb.calls) >= cb.settings.FailureRatio {
			cb.setLocked(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) expireLocked() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.settings.OpenFor {
		cb.setLocked(StateHalfOpen)
	}
}

// setLocked switches state and starts a fresh counting window.
func (cb *CircuitBreaker) setLocked(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.calls, cb.failures, cb.trialsPassed = 0, 0, 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if from != to && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(from, to)
	}
}
