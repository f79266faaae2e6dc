package escrow

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often a unit of work is re-run after a transient failure.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries three times starting at 20ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second}
}

// delay returns a full-jitter exponential delay in [0, min(max, base*2^attempt)).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay << attempt
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
