package resilience

import (
	"time"

	"github.com/sells-group/relgraph/internal/config"
)

// ExtractionRetry builds the retry policy for model calls. The default of a
// single attempt leaves retries off.
func ExtractionRetry(cfg config.ExtractConfig) RetryConfig {
	rc := DefaultRetryConfig()
	rc.MaxAttempts = max(cfg.MaxAttempts, 1)
	if cfg.CallIntervalMs > 0 {
		rc.InitialBackoff = time.Duration(cfg.CallIntervalMs) * time.Millisecond
	}
	rc.OnRetry = LogRetries("extract")
	return rc
}

// BodyBreaker builds the breaker guarding the remote body source.
func BodyBreaker(cfg config.ExtractConfig) *Breaker {
	return NewBreaker(BreakerConfig{
		Name:      "body",
		Threshold: cfg.BodyFailureThreshold,
		Cooldown:  time.Minute,
	})
}
