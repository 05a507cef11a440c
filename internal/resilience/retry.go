package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RetryConfig controls retry behavior. MaxAttempts of 1 disables retries.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64 // fraction of the backoff randomised, 0..1

	// ShouldRetry decides whether err is worth another attempt. Nil uses IsTransient.
	ShouldRetry func(err error) bool
	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryConfig returns three attempts with exponential backoff from 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

// Do runs fn until it succeeds, fails permanently, attempts run out, or ctx
// is cancelled. The last error is returned wrapped with the attempt count.
func Do(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var (
		lastErr error
		tried   int
	)
	for tried < attempts {
		tried++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if tried == attempts || !shouldRetry(err) {
			break
		}

		wait := backoff(cfg, tried)
		if cfg.OnRetry != nil {
			cfg.OnRetry(tried, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, eris.Wrap(ctx.Err(), "resilience: retry cancelled")
		case <-t.C:
		}
	}
	if tried == 1 {
		return zero, lastErr
	}
	return zero, eris.Wrapf(lastErr, "resilience: gave up after %d attempts", tried)
}

// backoff returns the wait before the attempt following the given one.
func backoff(cfg RetryConfig, attempt int) time.Duration {
	base := cfg.InitialBackoff
	if base <= 0 {
		return 0
	}
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(base) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxBackoff > 0 && d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		j := math.Min(cfg.Jitter, 1)
		d = d * (1 - j + 2*j*rand.Float64()) //nolint:gosec // jitter does not need crypto randomness
	}
	return time.Duration(d)
}

// LogRetries returns an OnRetry hook that logs each retry at warn level.
func LogRetries(op string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		zap.L().Warn("resilience: retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
