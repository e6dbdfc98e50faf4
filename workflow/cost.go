package workflow

import "strings"

// ModelPricing is the USD price per one million tokens for a model.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// PriceTable maps model names to pricing. Lookup falls back to prefix
// matching so dated releases (gpt-4o-2024-08-06) price like their base
// model.
type PriceTable map[string]ModelPricing

// DefaultPriceTable returns published per-million-token rates for the
// commonly used models. Update alongside provider price changes.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.00},
		"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
		"gpt-4-turbo":       {InputPer1M: 10.00, OutputPer1M: 30.00},
		"gpt-3.5-turbo":     {InputPer1M: 0.50, OutputPer1M: 1.50},
		"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
		"claude-3-opus":     {InputPer1M: 15.00, OutputPer1M: 75.00},
		"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
		"gemini-1.5-pro":    {InputPer1M: 1.25, OutputPer1M: 5.00},
		"gemini-1.5-flash":  {InputPer1M: 0.075, OutputPer1M: 0.30},
	}
}

// Lookup returns the pricing for a model, trying an exact match first
// and then the longest matching prefix.
func (t PriceTable) Lookup(model string) (ModelPricing, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	var best string
	for name := range t {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelPricing{}, false
	}
	return t[best], true
}

// Cost returns the USD cost of a call. Unknown models cost zero; the
// token totals still aggregate, so accounting stays complete even when
// pricing lags a release.
func (t PriceTable) Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*p.InputPer1M +
		float64(outputTokens)/1_000_000*p.OutputPer1M
}
