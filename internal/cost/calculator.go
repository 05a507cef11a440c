// Package cost prices model calls from token usage.
package cost

import "github.com/sells-group/relgraph/internal/config"

// Rates holds per-model pricing.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (USD per million tokens). Cache
// multipliers scale the input price.
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Known reports whether the model has a price.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates.Anthropic[model]
	return ok
}

// Claude computes the cost of one call: input x input price + output x
// output price, with cache tokens priced off the input rate. Unknown models
// cost 0.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	in := float64(input) / 1e6 * rate.Input
	out := float64(output) / 1e6 * rate.Output
	cw := float64(cacheWrite) / 1e6 * rate.Input * rate.CacheWriteMul
	cr := float64(cacheRead) / 1e6 * rate.Input * rate.CacheReadMul
	return in + out + cw + cr
}

// DefaultRates returns list pricing for the models the extractor uses.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
	}
}

// RatesFromConfig overlays configured prices on the defaults. A configured
// model keeps the default cache multipliers.
func RatesFromConfig(p config.PricingConfig) Rates {
	r := DefaultRates()
	for model, mp := range p.Anthropic {
		rate := r.Anthropic[model]
		if rate.CacheWriteMul == 0 {
			rate.CacheWriteMul, rate.CacheReadMul = 1.25, 0.1
		}
		rate.Input, rate.Output = mp.Input, mp.Output
		r.Anthropic[model] = rate
	}
	return r
}
