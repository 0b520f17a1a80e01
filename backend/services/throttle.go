package services

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// FixedDelay sleeps a constant delay on every Wait.
type FixedDelay struct {
	delay time.Duration
	after func(time.Duration) <-chan time.Time
}

func NewFixedDelay(d time.Duration) *FixedDelay {
	return &FixedDelay{delay: d, after: time.After}
}

func (f *FixedDelay) Wait(ctx context.Context) error {
	if f.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-f.after(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TokenBucket allows perSecond lookups on average with bursts up to burst.
type TokenBucket struct {
	limiter *rate.Limiter
}

func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// SetRate changes the allowed rate without dropping accumulated tokens.
func (t *TokenBucket) SetRate(perSecond float64) {
	t.limiter.SetLimit(rate.Limit(perSecond))
}
