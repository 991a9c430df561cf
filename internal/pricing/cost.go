package pricing

import (
	"math"

	"github.com/vnmchuo/agentmeter/internal/usage"
)

// CostBreakdown is the monetary cost of one normalized usage record, USD.
// All amounts are rounded to micro-cent precision so repeated increments do
// not compound rounding error.
type CostBreakdown struct {
	InputCost    float64
	OutputCost   float64
	ThinkingCost float64
	TotalCost    float64
}

// CalculateCost prices a normalized usage record. Pure arithmetic, no I/O.
// Zero-token usage yields an exact-zero breakdown.
func CalculateCost(u *usage.Normalized, rates Rates) CostBreakdown {
	input := Round6(float64(u.InputTokens) / 1_000_000 * rates.InputPer1M)
	output := Round6(float64(u.OutputTokens) / 1_000_000 * rates.OutputPer1M)
	thinking := Round6(float64(u.ThinkingTokens) / 1_000_000 * rates.ThinkingPer1M)

	return CostBreakdown{
		InputCost:    input,
		OutputCost:   output,
		ThinkingCost: thinking,
		TotalCost:    Round6(input + output + thinking),
	}
}

// Round6 rounds to 6 decimal places, the storage-level precision.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Round2 rounds to 2 decimal places, used when surfacing aggregate totals.
func Round2(v float64) float64 {
	return math.Round(v*1e2) / 1e2
}
