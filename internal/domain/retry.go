package domain

import "time"

const (
	DefaultMaxAttempts = 5
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 60 * time.Second
)

// RetryPolicy decides what happens to an outbox entry after a failed delivery
// attempt. The delay curve is capped exponential: base, 2*base, 4*base, ...
// up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Next returns the status an entry moves to after its attempts counter has
// been incremented to attempts, plus the backoff delay before the next try
// when the entry stays pending.
//
// A non-retryable failure is terminal on the first attempt. A retryable
// failure stays pending until the attempt cap is reached, at which point
// exhaustion converts it to a permanent failure.
func (p RetryPolicy) Next(attempts int, retryable bool) (Status, time.Duration) {
	p = p.normalized()

	if !retryable {
		return StatusFailed, 0
	}
	if attempts >= p.MaxAttempts {
		return StatusFailed, 0
	}
	return StatusPending, p.Delay(attempts)
}

// Delay returns the backoff delay after the given attempt number (1-based).
func (p RetryPolicy) Delay(attempts int) time.Duration {
	p = p.normalized()
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
