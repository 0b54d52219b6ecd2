package ledger

import (
	"context"
	"time"

	"github.com/iliyamo/event-checkin/internal/clock"
	"github.com/iliyamo/event-checkin/internal/model"
)

// RetryPolicy bounds calls to the remote authority.  Each attempt gets
// its own timeout; only NetworkUnavailable failures are retried, with
// the delay doubling after every attempt up to MaxDelay.
type RetryPolicy struct {
	Attempts       int
	AttemptTimeout time.Duration
	InitialDelay   time.Duration
	MaxDelay       time.Duration
}

// DefaultRetryPolicy is used when a zero policy is supplied.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:       3,
	AttemptTimeout: 2 * time.Second,
	InitialDelay:   200 * time.Millisecond,
	MaxDelay:       2 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryPolicy.Attempts
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultRetryPolicy.AttemptTimeout
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultRetryPolicy.InitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	return p
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out or ctx ends.  Timeouts of a single attempt count as
// NetworkUnavailable.  The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, c clock.Clock, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	backoff := p.InitialDelay
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = p.attempt(ctx, fn)
		if err == nil || !model.IsUnavailable(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}
		if !clock.Sleep(c, backoff, ctx.Done()) {
			return model.Unavailable(ctx.Err())
		}
		backoff *= 2
		if backoff > p.MaxDelay {
			backoff = p.MaxDelay
		}
	}
	return err
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	err := fn(actx)
	if err != nil && actx.Err() != nil && ctx.Err() == nil {
		return model.Unavailable(err)
	}
	return err
}
