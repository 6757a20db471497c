package bench

import (
	"context"
	randv2 "math/rand/v2"
	"sync/atomic"
	"time"
)

// RetryStrategy returns the next backoff, 0 means no more retries.
type RetryStrategy interface {
	Next() time.Duration
}

type linearBackoff time.Duration

func (backoff linearBackoff) Next() time.Duration {
	return time.Duration(backoff)
}

func NoRetry() RetryStrategy {
	return linearBackoff(0)
}

type exponentialBackoff struct {
	duration time.Duration
	factor   float64
	jitter   float64
	steps    int64
	cap      time.Duration
}

func (backoff *exponentialBackoff) Next() time.Duration {
	if atomic.LoadInt64(&backoff.steps) < 1 {
		return NoRetry().Next()
	}
	atomic.AddInt64(&backoff.steps, -1)
	duration := backoff.duration
	if backoff.factor != 0 {
		backoff.duration = time.Duration(float64(backoff.duration) * backoff.factor)
		if backoff.cap > 0 && backoff.duration > backoff.cap {
			backoff.duration = backoff.cap
		}
	}
	if backoff.jitter > 0 {
		duration = duration + time.Duration(randv2.Float64()*backoff.jitter*float64(duration))
	}
	return duration
}

func ExponentialBackoffRetry(maxSteps int64, initBackoff, maxBackoff time.Duration, backoffFactor, jitter float64) RetryStrategy {
	return &exponentialBackoff{
		cap:      maxBackoff,
		duration: initBackoff,
		factor:   backoffFactor,
		jitter:   jitter,
		steps:    maxSteps,
	}
}

func DefaultExponentialBackoffRetry() RetryStrategy {
	return ExponentialBackoffRetry(
		3,
		10*time.Millisecond,
		100*time.Millisecond,
		2.0,
		0.1,
	)
}

// withRetry runs fn until it succeeds, the strategy gives up or ctx
// is done. The last error of fn is returned.
func withRetry(ctx context.Context, strategy RetryStrategy, fn func(ctx context.Context) error) error {
	if strategy == nil {
		strategy = NoRetry()
	}
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		backoff := strategy.Next()
		if backoff <= 0 {
			return err
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
