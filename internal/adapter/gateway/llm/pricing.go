package llm

import (
	"strings"

	"github.com/shopspring/decimal"
)

// modelRate holds per-1K-token prices in USD
type modelRate struct {
	inputPer1K  decimal.Decimal
	outputPer1K decimal.Decimal
}

func rate(input, output string) modelRate {
	return modelRate{
		inputPer1K:  decimal.RequireFromString(input),
		outputPer1K: decimal.RequireFromString(output),
	}
}

// modelRates maps model-name prefixes to prices. Longest matching prefix
// wins, so dated variants (gpt-4-turbo-2024-...) price like their family.
var modelRates = map[string]modelRate{
	"claude-3-opus":   rate("0.015", "0.075"),
	"claude-3-sonnet": rate("0.003", "0.015"),
	"claude-3-haiku":  rate("0.00025", "0.00125"),
	"gpt-4-turbo":     rate("0.01", "0.03"),
	"gpt-4":           rate("0.03", "0.06"),
	"gpt-3.5-turbo":   rate("0.0005", "0.0015"),
}

// defaultRate applies to models absent from the table so cost accounting
// never silently records zero.
var defaultRate = rate("0.01", "0.03")

func rateForModel(model string) modelRate {
	best := ""
	for prefix := range modelRates {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultRate
	}
	return modelRates[best]
}

// EstimateCost prices a call in USD from its token counts. Decimal arithmetic
// keeps sub-cent rates exact before the final float conversion.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	r := rateForModel(model)
	thousand := decimal.NewFromInt(1000)

	in := decimal.NewFromInt(int64(inputTokens)).Div(thousand).Mul(r.inputPer1K)
	out := decimal.NewFromInt(int64(outputTokens)).Div(thousand).Mul(r.outputPer1K)

	cost, _ := in.Add(out).Float64()
	return cost
}
