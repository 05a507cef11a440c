// Package scorer computes bounded relationship-strength scores for person pairs.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/relgraph/internal/config"
)

// DefaultScoringConfig returns a config.ScoringConfig with the standard
// weights and thresholds. Weights sum to 100.
func DefaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		// Weights (sum = 100).
		VolumeWeight:      35,
		RecencyWeight:     25,
		ReciprocityWeight: 25,
		ReplyWeight:       15,

		VolumeSaturation:  200,
		HalfLifeDays:      365,
		RecencyWindowDays: 1095,

		// Group penalty: -5% per recipient over 5, floored at 0.5x.
		GroupThreshold: 5,
		GroupStep:      0.05,
		GroupFloor:     0.5,

		NewsletterPenalty:     0.7,
		NewsletterMinMessages: 3,
		NewsletterMaxCV:       0.5,
	}
}

// WeightSum returns the sum of all component weights.
func WeightSum(c config.ScoringConfig) float64 {
	return c.VolumeWeight + c.RecencyWeight + c.ReciprocityWeight + c.ReplyWeight
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	weights := []struct {
		name string
		w    float64
	}{
		{"volume_weight", c.VolumeWeight},
		{"recency_weight", c.RecencyWeight},
		{"reciprocity_weight", c.ReciprocityWeight},
		{"reply_weight", c.ReplyWeight},
	}
	for _, w := range weights {
		if w.w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", w.name))
		}
	}

	// Weights should be close to 100 (allow tolerance for floating-point).
	if sum := WeightSum(c); math.Abs(sum-100) > 1 {
		errs = append(errs, fmt.Sprintf("weights should sum to 100, got %.1f", sum))
	}

	if c.VolumeSaturation < 1 {
		errs = append(errs, "volume_saturation must be >= 1")
	}
	if c.HalfLifeDays <= 0 {
		errs = append(errs, "half_life_days must be > 0")
	}
	if c.RecencyWindowDays < c.HalfLifeDays {
		errs = append(errs, "recency_window_days must be >= half_life_days")
	}
	if c.GroupFloor < 0 || c.GroupFloor > 1 {
		errs = append(errs, "group_floor must be between 0 and 1")
	}
	if c.NewsletterPenalty < 0 || c.NewsletterPenalty > 1 {
		errs = append(errs, "newsletter_penalty must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
