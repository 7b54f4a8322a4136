// Package breaker gates calls to a flaky downstream. It never retries; it only
// decides whether a call is attempted.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

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
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
	DefaultMonitoringWindow = 5 * time.Minute
)

type Settings struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
	MonitoringWindow time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
	// OnStateChange is called with the lock released.
	OnStateChange func(name string, from, to State)
	// IsFailure decides which errors count against the circuit. Defaults to
	// every non-nil error.
	IsFailure func(err error) bool
}

// Snapshot is a point-in-time copy of the breaker's bookkeeping.
type Snapshot struct {
	State           State
	FailureCount    int
	LastFailureTime time.Time
	NextAttempt     time.Time
}

type Breaker struct {
	settings Settings

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	nextAttempt     time.Time
	trialInFlight   bool
	// generation changes on every state transition; outcomes of calls
	// admitted under an older generation are dropped.
	generation uint64
}

func New(s Settings) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = DefaultResetTimeout
	}
	if s.MonitoringWindow <= 0 {
		s.MonitoringWindow = DefaultMonitoringWindow
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{settings: s, state: StateClosed}
}

func (b *Breaker) Name() string {
	return b.settings.Name
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		NextAttempt:     b.nextAttempt,
	}
}

// Do runs fn unless the circuit is open, and records the outcome. fn's error
// is returned unchanged so callers can still inspect it.
func (b *Breaker) Do(fn func() error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.after(gen, false)
			panic(r)
		}
	}()

	err = fn()
	b.after(gen, !b.settings.IsFailure(err))
	return err
}

// Execute is Do for calls that return a value.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	now := b.settings.Now()

	switch b.state {
	case StateOpen:
		if now.Before(b.nextAttempt) {
			b.mu.Unlock()
			return 0, ErrOpen
		}
		b.setState(StateHalfOpen)
		b.trialInFlight = true
		gen := b.generation
		b.mu.Unlock()
		b.notify(StateOpen, StateHalfOpen)
		return gen, nil

	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return 0, ErrOpen
		}
		b.trialInFlight = true
	}

	gen := b.generation
	b.mu.Unlock()
	return gen, nil
}

func (b *Breaker) after(gen uint64, success bool) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}
	now := b.settings.Now()
	from := b.state
	to := from

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		if success {
			b.failureCount = 0
			b.setState(StateClosed)
			to = StateClosed
		} else {
			b.lastFailureTime = now
			b.trip(now)
			to = StateOpen
		}

	case StateClosed:
		if success {
			if b.failureCount > 0 && now.Sub(b.lastFailureTime) > b.settings.MonitoringWindow {
				b.failureCount = 0
			}
			break
		}
		if b.failureCount > 0 && now.Sub(b.lastFailureTime) > b.settings.MonitoringWindow {
			b.failureCount = 0
		}
		b.failureCount++
		b.lastFailureTime = now
		if b.failureCount >= b.settings.FailureThreshold {
			b.trip(now)
			to = StateOpen
		}
	}
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.setState(StateOpen)
	b.nextAttempt = now.Add(b.settings.ResetTimeout)
}

func (b *Breaker) setState(s State) {
	b.state = s
	b.generation++
}

func (b *Breaker) notify(from, to State) {
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.setState(StateClosed)
	b.failureCount = 0
	b.trialInFlight = false
	b.nextAttempt = time.Time{}
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}
