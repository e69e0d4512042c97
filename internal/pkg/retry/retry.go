package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Strategy determines how the delay grows between attempts
type Strategy string

const (
	// StrategyFixed always waits BaseDelay
	StrategyFixed Strategy = "fixed"
	// StrategyLinear waits BaseDelay * attempt (1s, 2s, 3s, ...)
	StrategyLinear Strategy = "linear"
	// StrategyExponential waits BaseDelay * 2^(attempt-1)
	StrategyExponential Strategy = "exponential"
)

type Policy struct {
	Strategy    Strategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	MaxAttempts int
}

// Linear returns a linear backoff policy, the default for navigation retries
func Linear(base time.Duration, maxAttempts int) Policy {
	return Policy{
		Strategy:    StrategyLinear,
		BaseDelay:   base,
		MaxDelay:    base * time.Duration(maxAttempts),
		MaxAttempts: maxAttempts,
	}
}

// ExponentialBackoff returns an exponential backoff policy
func ExponentialBackoff(base, max time.Duration, jitter bool, maxAttempts int) Policy {
	return Policy{
		Strategy:    StrategyExponential,
		BaseDelay:   base,
		MaxDelay:    max,
		Jitter:      jitter,
		MaxAttempts: maxAttempts,
	}
}

func (p Policy) nextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	var delay time.Duration
	switch p.Strategy {
	case StrategyLinear:
		delay = p.BaseDelay * time.Duration(attempt)
	case StrategyExponential:
		factor := math.Pow(2, float64(attempt-1))
		delay = time.Duration(float64(p.BaseDelay) * factor)
	default:
		delay = p.BaseDelay
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter {
		j := rand.Float64()*0.4 + 0.8 // [0.8, 1.2)
		delay = time.Duration(float64(delay) * j)
	}
	return delay
}

// Do runs fn with retry upon error while isRetryable(err) is true
func Do[T any](ctx context.Context, policy Policy, fn func(context.Context) (T, error), isRetryable func(error) bool) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; policy.MaxAttempts == 0 || attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if isRetryable != nil && !isRetryable(err) {
			break
		}
		if policy.MaxAttempts != 0 && attempt == policy.MaxAttempts {
			break
		}
		delay := policy.nextDelay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
