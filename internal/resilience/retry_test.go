package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/relgraph/internal/config"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo_FirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(2), func(context.Context) error {
		calls++
		return NewTransientError(errors.New("overloaded"), 529)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "gave up after 2 attempts")
}

func TestDo_PermanentErrorStops(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return errors.New("invalid request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SingleAttemptReturnsRawError(t *testing.T) {
	sentinel := NewTransientError(errors.New("timeout"), 0)
	err := Do(context.Background(), fastRetry(1), func(context.Context) error { return sentinel })
	assert.Equal(t, sentinel, err)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour}
	calls := 0
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		cancel()
		return NewTransientError(errors.New("x"), 0)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryAndShouldRetry(t *testing.T) {
	var seen []int
	cfg := fastRetry(3)
	cfg.ShouldRetry = func(error) bool { return true }
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) }

	_ = Do(context.Background(), cfg, func(context.Context) error { return errors.New("plain") })
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDoVal(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransientError(errors.New("x"), 0)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = DoVal(context.Background(), fastRetry(1), func(context.Context) (int, error) { return 7, errors.New("no") })
	assert.Error(t, err)
	assert.Zero(t, v)
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, backoff(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, backoff(cfg, 2))
	assert.Equal(t, 400*time.Millisecond, backoff(cfg, 3))
	assert.Equal(t, time.Second, backoff(cfg, 10))

	cfg.Jitter = 0.5
	for range 20 {
		d := backoff(cfg, 1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}

	assert.Zero(t, backoff(RetryConfig{}, 3))
}

func TestExtractionRetry(t *testing.T) {
	rc := ExtractionRetry(config.ExtractConfig{MaxAttempts: 0, CallIntervalMs: 2000})
	assert.Equal(t, 1, rc.MaxAttempts)
	assert.Equal(t, 2*time.Second, rc.InitialBackoff)
	assert.NotNil(t, rc.OnRetry)

	rc = ExtractionRetry(config.ExtractConfig{MaxAttempts: 4})
	assert.Equal(t, 4, rc.MaxAttempts)
}

func TestBodyBreaker(t *testing.T) {
	b := BodyBreaker(config.ExtractConfig{BodyFailureThreshold: 2})
	ctx := context.Background()
	_ = b.Execute(ctx, fail)
	assert.Equal(t, Closed, b.State())
	_ = b.Execute(ctx, fail)
	assert.Equal(t, Open, b.State())
}
