package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy is a bounded retry with a pluggable delay and error filter.
// Attempts are numbered from 1.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool

	// OnRetry runs after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Sleep replaces the real wait; tests use it to skip delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exponential waits base * 2^attempt: 2s, 4s, 8s for a one second base.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(1<<attempt)
	}
}

func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. The last error is wrapped on exhaustion.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}

	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", ctxErr, err)
			}
			return ctxErr
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == max {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if sleepErr := p.sleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("%w (last error: %v)", sleepErr, err)
		}
	}

	if max == 1 {
		return err
	}
	return fmt.Errorf("gave up after %d attempts: %w", max, err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
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
