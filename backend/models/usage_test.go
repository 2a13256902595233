package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsage_TotalTokens(t *testing.T) {
	u := Usage{InputTokens: 120, OutputTokens: 30}
	assert.Equal(t, int64(150), u.TotalTokens())
}

func TestUsage_Amount(t *testing.T) {
	u := Usage{InputTokens: 100, OutputTokens: 50, CostUSD: 0.0125}

	tests := []struct {
		dimension Dimension
		want      float64
	}{
		{DimensionRequests, 1},
		{DimensionInputTokens, 100},
		{DimensionOutputTokens, 50},
		{DimensionTotalTokens, 150},
		{DimensionCost, 0.0125},
	}

	for _, tt := range tests {
		t.Run(string(tt.dimension), func(t *testing.T) {
			assert.Equal(t, tt.want, u.Amount(tt.dimension))
		})
	}
}

func TestUsage_AmountFreeModel(t *testing.T) {
	// Local models report zero cost; the request still counts as one.
	u := Usage{InputTokens: 200, OutputTokens: 80}
	assert.Equal(t, float64(1), u.Amount(DimensionRequests))
	assert.Equal(t, float64(0), u.Amount(DimensionCost))
}

func TestNewClient(t *testing.T) {
	c := NewClient("team-a", "strategy-1")
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "team-a", c.Name)
	assert.Equal(t, "strategy-1", c.StrategyID)
	assert.True(t, c.Enabled)
	assert.False(t, c.CreatedAt.IsZero())
	assert.Nil(t, c.LastUsed)
}
