package models

import "time"

// UsageEvent is an immutable record of consumption on one dimension. Events
// are appended to a per-key ledger and evicted once older than the window
// that consults them; they are never mutated.
type UsageEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Dimension Dimension `json:"dimension"`
}

// Usage holds the final counts reported by a provider for one completed
// attempt. Exact values are unknown until the provider responds, which is
// why token and cost admission checks are advisory before the call and
// authoritative after it.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Amount returns the usage value for the given dimension. A request always
// counts as one.
func (u Usage) Amount(d Dimension) float64 {
	switch d {
	case DimensionRequests:
		return 1
	case DimensionInputTokens:
		return float64(u.InputTokens)
	case DimensionOutputTokens:
		return float64(u.OutputTokens)
	case DimensionTotalTokens:
		return float64(u.TotalTokens())
	case DimensionCost:
		return u.CostUSD
	}
	return 0
}
