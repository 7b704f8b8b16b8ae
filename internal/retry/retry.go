package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/keagan/reelcutter/internal/config"
)

// ErrExhausted marks a transient failure that survived every attempt
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds how an operation is retried. Only errors classified as
// transient are retried; anything else is returned immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Multiplier scales the delay after each attempt. Values <= 1 keep it fixed.
	Multiplier float64
	// Sleeper overrides how waits are performed (useful for tests).
	Sleeper func(time.Duration)
	// IsRetryable classifies errors in addition to Transient wrappers.
	IsRetryable func(error) bool
}

// FromConfig builds a policy from the retry section of the config
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   seconds(cfg.BaseDelay),
		MaxDelay:    seconds(cfg.MaxDelay),
		Multiplier:  cfg.Multiplier,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Fixed returns a policy that waits the same delay between attempts
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: delay, MaxDelay: delay, Multiplier: 1}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as safe to retry
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Do runs fn until it succeeds, fails permanently, or attempts run out
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !p.retryable(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if err := p.sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, lastErr)
}

// Delay returns the wait before the attempt following the given 1-based one
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay)
	if p.Multiplier > 1 {
		delay *= math.Pow(p.Multiplier, float64(attempt-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsTransient(err) {
		return true
	}
	return p.IsRetryable != nil && p.IsRetryable(err)
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if p.Sleeper != nil {
		p.Sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sleep waits for delay or until ctx is done
func Sleep(ctx context.Context, delay time.Duration) error {
	return Policy{}.sleep(ctx, delay)
}
