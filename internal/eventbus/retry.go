package eventbus

import (
	"context"
	"time"
)

// RetryPolicy bounds redelivery of a failing message: geometric delays
// starting at InitialDelay, capped at MaxDelay, for at most MaxAttempts
// handler invocations.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultRetry mirrors the consume-side policy of the original system:
// 5 attempts, 200ms initial delay, 2s ceiling.
var DefaultRetry = RetryPolicy{
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	MaxAttempts:  5,
}

// Delay returns the wait before re-running the handler after the given
// attempt (1-based). Doubles each attempt, never exceeds MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.InitialDelay << (attempt - 1)
	if d > p.MaxDelay || d < p.InitialDelay {
		// the second clause catches shift overflow
		return p.MaxDelay
	}
	return d
}

// dispatch runs the handler until it succeeds or the policy is exhausted.
// Each attempt re-runs the handler from scratch, so handlers must be
// idempotent and re-read their state. Returns the last handler error when
// attempts are exhausted; the caller dead-letters the message then.
func dispatch(ctx context.Context, p RetryPolicy, timeout time.Duration, sleep func(time.Duration), h Handler, d Delivery) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		d.Attempt = attempt

		actx := ctx
		cancel := func() {}
		if timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, timeout)
		}
		err = h(actx, d)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < p.MaxAttempts {
			sleep(p.Delay(attempt))
		}
	}
	return err
}
