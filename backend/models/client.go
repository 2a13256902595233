package models

import (
	"time"

	"github.com/google/uuid"
)

// Client is a consumer of the gateway. Every client references exactly one
// strategy; many clients may share a strategy.
type Client struct {
	ID         string     `toml:"id" json:"id"`
	Name       string     `toml:"name" json:"name"`
	Enabled    bool       `toml:"enabled" json:"enabled"`
	StrategyID string     `toml:"strategy_id" json:"strategy_id"`
	CreatedAt  time.Time  `toml:"created_at" json:"created_at"`
	LastUsed   *time.Time `toml:"last_used" json:"last_used,omitempty"`
}

// NewClient creates an enabled client bound to the given strategy.
func NewClient(name, strategyID string) *Client {
	return &Client{
		ID:         uuid.New().String(),
		Name:       name,
		Enabled:    true,
		StrategyID: strategyID,
		CreatedAt:  time.Now(),
	}
}
