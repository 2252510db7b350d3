// Package retry provides a bounded retry executor with exponential backoff.
// This is part of the platform layer and contains no business logic.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Options configures a Policy. Zero values fall back to the defaults in New.
type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps the computed delay, jitter included.
	MaxDelay time.Duration
	// Jitter adds a uniform random 0-50% of the computed delay.
	Jitter bool
	// ShouldRetry decides whether err from the given zero-based attempt is retried.
	// Nil means every error is retryable.
	ShouldRetry func(err error, attempt int) bool
	// OnRetry is called before waiting for the next attempt. It cannot alter control flow.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// Policy executes operations with bounded retries.
type Policy struct {
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

// New creates a Policy. Negative MaxRetries is treated as zero.
func New(opts Options) *Policy {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay < 0 {
		opts.BaseDelay = 0
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Policy{
		opts:   opts,
		sleep:  sleepContext,
		random: rand.Float64,
	}
}

// MaxAttempts returns the total number of invocations on persistent failure.
func (p *Policy) MaxAttempts() int {
	return p.opts.MaxRetries + 1
}

// Delay returns the wait before retrying after the given zero-based attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^62 overflows Duration arithmetic; the cap applies long before that.
	if attempt > 30 {
		return p.opts.MaxDelay
	}

	computed := p.opts.BaseDelay * time.Duration(1<<uint(attempt))
	if computed < 0 || computed > p.opts.MaxDelay {
		computed = p.opts.MaxDelay
	}
	if p.opts.Jitter && computed > 0 {
		computed += time.Duration(p.random() * 0.5 * float64(computed))
	}
	if computed > p.opts.MaxDelay {
		return p.opts.MaxDelay
	}
	return computed
}

// Execute runs op until it succeeds, ShouldRetry declines, or attempts run out.
// The most recent error is always returned unchanged when retries stop.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is the value-returning form of Policy.Execute.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if attempt >= p.opts.MaxRetries {
			return zero, err
		}
		if p.opts.ShouldRetry != nil && !p.opts.ShouldRetry(err, attempt) {
			return zero, err
		}

		delay := p.Delay(attempt)
		if p.opts.OnRetry != nil {
			p.opts.OnRetry(err, attempt, delay)
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("%w (retry aborted: %w)", err, sleepErr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
