// Package circuitbreaker provides a sliding-window circuit breaker for
// external dependencies. One Breaker guards one dependency and is safe for
// concurrent use by many jobs.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker mode.
type State string

const (
	StateClosed   State = "closed"    // calls pass through, failures are counted
	StateOpen     State = "open"      // calls fail immediately
	StateHalfOpen State = "half_open" // one trial call is in flight
)

// ErrOpen matches every error returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// OpenError is returned instead of invoking the wrapped operation.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q open, retry after %s", e.Name, e.RetryAfter)
}

// Is makes errors.Is(err, ErrOpen) true for every *OpenError.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// IsOpen reports whether err was produced by a rejecting breaker.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}

// Settings configures a Breaker.
type Settings struct {
	Name string
	// Threshold is the failure count within Window that trips the breaker.
	Threshold int
	// Window is the sliding window for counting failures.
	Window time.Duration
	// ResetTimeout is the cool-down before a trial is admitted.
	ResetTimeout time.Duration
	// OnStateChange is invoked outside the lock after every transition.
	OnStateChange func(name string, from, to State)
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Breaker is a per-dependency circuit breaker.
type Breaker struct {
	name          string
	threshold     int
	window        time.Duration
	resetTimeout  time.Duration
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu            sync.Mutex
	state         State
	failures      []time.Time
	openedAt      time.Time
	trialInFlight bool
}

// New creates a closed breaker. Defaults: threshold 5, window 60s, reset 30s.
func New(s Settings) *Breaker {
	if s.Threshold <= 0 {
		s.Threshold = 5
	}
	if s.Window <= 0 {
		s.Window = 60 * time.Second
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{
		name:          s.Name,
		threshold:     s.Threshold,
		window:        s.Window,
		resetTimeout:  s.ResetTimeout,
		onStateChange: s.OnStateChange,
		now:           s.Now,
		state:         StateClosed,
	}
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string { return b.name }

// State returns the current mode.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the number of failures still inside the window.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = pruneBefore(b.failures, b.now().Add(-b.window))
	return len(b.failures)
}

// Reset forces the breaker closed and clears the failure history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = nil
	b.trialInFlight = false
	b.openedAt = time.Time{}
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// Execute runs op through the breaker.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is the value-returning form of Breaker.Execute.
func Do[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	trial, err := b.admit()
	if err != nil {
		return zero, err
	}

	result, opErr := op(ctx)
	b.record(trial, opErr)
	if opErr != nil {
		return zero, opErr
	}
	return result, nil
}

// admit decides whether a call may proceed and whether it is the half-open trial.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	now := b.now()

	switch b.state {
	case StateOpen:
		elapsed := now.Sub(b.openedAt)
		if elapsed < b.resetTimeout {
			b.mu.Unlock()
			return false, &OpenError{Name: b.name, RetryAfter: b.resetTimeout - elapsed}
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		b.mu.Unlock()
		b.notify(StateOpen, StateHalfOpen)
		return true, nil
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return false, &OpenError{Name: b.name, RetryAfter: b.resetTimeout}
		}
		b.trialInFlight = true
		b.mu.Unlock()
		return true, nil
	default:
		b.mu.Unlock()
		return false, nil
	}
}

func (b *Breaker) record(trial bool, opErr error) {
	b.mu.Lock()
	now := b.now()
	from := b.state

	switch {
	case trial && opErr == nil:
		b.state = StateClosed
		b.failures = nil
		b.trialInFlight = false
	case trial:
		b.state = StateOpen
		b.openedAt = now
		b.trialInFlight = false
	case opErr != nil && b.state == StateClosed:
		b.failures = append(pruneBefore(b.failures, now.Add(-b.window)), now)
		if len(b.failures) >= b.threshold {
			b.state = StateOpen
			b.openedAt = now
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to)
	}
}

// pruneBefore drops timestamps at or before cutoff, reusing the backing array.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
