// Package cost holds per-provider pricing and the estimator the pipeline
// consults before reserving budget for a paid call.
package cost

import "strings"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
	Image      map[string]ImageRate `yaml:"image" mapstructure:"image"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityRate holds Perplexity pricing.
type PerplexityRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// ImageRate holds per-image pricing for one synthesis model, keyed by
// "quality/size" (e.g. "medium/1024x1024"). Default applies when the exact
// combination is not listed.
type ImageRate struct {
	PerImage map[string]float64 `yaml:"per_image" mapstructure:"per_image"`
	Default  float64            `yaml:"default" mapstructure:"default"`
}

// Calculator computes costs for provider usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// PromptTokens computes the cost of a prompt-model call from token counts.
// Unknown models cost zero.
func (c *Calculator) PromptTokens(model string, input, output int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// PerplexityQuery returns the flat cost per Perplexity query.
func (c *Calculator) PerplexityQuery() float64 {
	return c.rates.Perplexity.PerQuery
}

// Image returns the cost of one synthesized image for the given model, size
// and quality. Unknown models cost zero; unknown combinations fall back to
// the model's default.
func (c *Calculator) Image(model, size, quality string) float64 {
	rate, ok := c.rates.Image[model]
	if !ok {
		return 0
	}
	key := strings.ToLower(quality) + "/" + strings.ToLower(size)
	if price, ok := rate.PerImage[key]; ok {
		return price
	}
	return rate.Default
}

// EstimatePromptCall returns a conservative pre-call reservation for one
// prompt-model request, assuming a short system prompt and a short reply.
func (c *Calculator) EstimatePromptCall(provider, model string) float64 {
	switch provider {
	case "perplexity":
		return c.rates.Perplexity.PerQuery
	default:
		// ~1k in, ~300 out covers the prompt-crafting exchanges seen in
		// practice with headroom.
		return c.PromptTokens(model, 1000, 300)
	}
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		Perplexity: PerplexityRate{PerQuery: 0.005},
		Image: map[string]ImageRate{
			"gpt-image-1": {
				PerImage: map[string]float64{
					"low/1024x1024":    0.011,
					"medium/1024x1024": 0.042,
					"high/1024x1024":   0.167,
					"medium/1536x1024": 0.063,
					"high/1536x1024":   0.25,
				},
				Default: 0.042,
			},
			"dall-e-3": {
				PerImage: map[string]float64{
					"standard/1024x1024": 0.04,
					"hd/1024x1024":       0.08,
					"standard/1792x1024": 0.08,
					"hd/1792x1024":       0.12,
				},
				Default: 0.04,
			},
		},
	}
}
