// Package resilience keeps the live voice path usable while a speech provider
// misbehaves.
//
// A [CircuitBreaker] guards one provider. After MaxFailures consecutive
// failures it opens and rejects calls with [ErrCircuitOpen], which the speech
// device treats like any other synthesis failure: the line is paced by
// reading time instead of audio. After ResetTimeout the breaker lets a few
// trial calls through and closes again once they all succeed.
//
// [TTSFallback] chains several TTS providers, each behind its own breaker, so
// a tripped primary hands over to the next configured voice service.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects every call until the reset timeout has passed.
	StateOpen
	// StateHalfOpen admits up to HalfOpenMax trial calls.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// package defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and state-change callbacks, usually
	// the provider name.
	Name string

	MaxFailures  int
	ResetTimeout time.Duration
	HalfOpenMax  int

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now.
	Now func() time.Time
}

// CircuitBreaker is a three-state breaker. It is safe for concurrent use and
// satisfies the speech device's guard.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int       // consecutive failures while closed
	openedAt  time.Time // last transition into StateOpen
	trials    int       // trials admitted in the current half-open phase
	successes int       // trials that succeeded in that phase
}

// transition is one state change, reported after the lock is released.
type transition struct{ from, to State }

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the breaker rejects the call.
//
// A call that fails because ctx was cancelled counts neither as a failure
// nor as a success: an interrupted line says nothing about the provider.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(trial, err, ctx.Err() != nil)
	return err
}

// admit decides whether a call may proceed and whether it is a half-open
// trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	var changes []transition
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.setLocked(StateHalfOpen, &changes)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			cb.trials++
			trial = true
		}
	}
	cb.mu.Unlock()
	cb.report(changes)
	return trial, err
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(trial bool, err error, interrupted bool) {
	var changes []transition
	cb.mu.Lock()
	halfOpen := trial && cb.state == StateHalfOpen
	switch {
	case interrupted && err != nil:
		if halfOpen {
			cb.trials--
		}
	case err != nil && halfOpen:
		cb.setLocked(StateOpen, &changes)
	case err != nil:
		cb.failures++
		if cb.state == StateOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.setLocked(StateOpen, &changes)
			cb.openedAt = cb.cfg.Now()
		}
	case halfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax {
			cb.setLocked(StateClosed, &changes)
		}
	case cb.state == StateClosed:
		cb.failures = 0
	}
	cb.mu.Unlock()
	cb.report(changes)
}

// setLocked moves to state to and resets the counters of the phase it
// enters. cb.mu must be held.
func (cb *CircuitBreaker) setLocked(to State, changes *[]transition) {
	if cb.state == to {
		return
	}
	*changes = append(*changes, transition{from: cb.state, to: to})
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
	case StateHalfOpen:
		cb.trials, cb.successes = 0, 0
	case StateClosed:
		cb.failures, cb.trials, cb.successes = 0, 0, 0
	}
}

func (cb *CircuitBreaker) report(changes []transition) {
	for _, c := range changes {
		level := slog.LevelInfo
		if c.to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state change",
			"name", cb.cfg.Name,
			"from", c.from.String(),
			"to", c.to.String(),
		)
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, c.from, c.to)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	var changes []transition
	cb.mu.Lock()
	cb.setLocked(StateClosed, &changes)
	cb.failures = 0
	cb.mu.Unlock()
	cb.report(changes)
}
