package ratelimit

import "context"

// RateLimiter throttles delivery attempts per transport adapter.
type RateLimiter interface {
	Allow(ctx context.Context, adapterName string) (bool, error)
	Wait(ctx context.Context, adapterName string) error
}

// Unlimited is a pass-through limiter for setups without Redis throttling.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, adapterName string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, adapterName string) error { return nil }
