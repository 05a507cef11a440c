package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/relgraph/internal/config"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku":  {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"sonnet": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name       string
		model      string
		input      int
		output     int
		cacheWrite int
		cacheRead  int
		want       float64
	}{
		{name: "haiku simple", model: "haiku", input: 1000000, output: 100000, want: 0.80 + 0.40},
		{
			name: "haiku with cache", model: "haiku",
			input: 500000, output: 50000, cacheWrite: 200000, cacheRead: 300000,
			// 0.40 + 0.20 + 0.20 + 0.024
			want: 0.824,
		},
		{name: "sonnet", model: "sonnet", input: 2000, output: 100, want: 0.006 + 0.0015},
		{name: "unknown model", model: "gpt", input: 1000000, output: 1000000, want: 0},
		{name: "zero usage", model: "haiku", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Claude(tt.model, tt.input, tt.output, tt.cacheWrite, tt.cacheRead)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestKnown(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.True(t, calc.Known("haiku"))
	assert.False(t, calc.Known("gpt"))
}

func TestRatesFromConfig(t *testing.T) {
	t.Parallel()

	r := RatesFromConfig(config.PricingConfig{})
	assert.Equal(t, DefaultRates(), r)

	r = RatesFromConfig(config.PricingConfig{Anthropic: map[string]config.ModelPricing{
		"claude-haiku-4-5-20251001": {Input: 2, Output: 10},
		"custom-model":              {Input: 1, Output: 1},
	}})
	haiku := r.Anthropic["claude-haiku-4-5-20251001"]
	assert.Equal(t, 2.0, haiku.Input)
	assert.Equal(t, 10.0, haiku.Output)
	assert.Equal(t, 1.25, haiku.CacheWriteMul)

	custom := r.Anthropic["custom-model"]
	assert.Equal(t, 0.1, custom.CacheReadMul)

	// 1000 in, 100 out at $2/$10 per MTok.
	assert.InDelta(t, 0.003, NewCalculator(r).Claude("claude-haiku-4-5-20251001", 1000, 100, 0, 0), 1e-12)
}
