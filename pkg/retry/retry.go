package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// Policy is an exponential backoff schedule: Retries extra attempts after the first,
// waiting BaseDelay × Factor^(n-1) before retry n.
type Policy struct {
	Retries   int
	BaseDelay time.Duration
	Factor    float64
}

// Delay returns the wait before retry n (1-based), rounded to the millisecond.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	ms := float64(p.BaseDelay/time.Millisecond) * math.Pow(factor, float64(n-1))
	return time.Duration(math.Round(ms)) * time.Millisecond
}

// Total returns the sum of every delay in the schedule.
func (p Policy) Total() time.Duration {
	var total time.Duration
	for n := 1; n <= p.Retries; n++ {
		total += p.Delay(n)
	}
	return total
}

// RetryFunc is notified before each backoff sleep
type RetryFunc func(retry int, delay time.Duration, err error)

// Do calls fn until it succeeds or the policy is exhausted.
// fn receives the number of retries already spent (0 on the first call), which is also returned.
// On exhaustion the last error from fn is returned wrapped in utils.ErrRetryFailed; both stay visible to errors.Is/As.
func Do(ctx context.Context, p Policy, fn func(retry int) error, onRetry RetryFunc) (int, error) {
	retries := p.Retries
	if retries < 0 {
		retries = 0
	}

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		err := fn(n)
		if err == nil {
			return n, nil
		}
		if n >= retries {
			return n, fmt.Errorf("%w (%d retries): %w", utils.ErrRetryFailed, n, err)
		}

		delay := p.Delay(n + 1)
		if onRetry != nil {
			onRetry(n+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return n, fmt.Errorf("%w (after: %v)", ctx.Err(), err)
		}
	}
}
