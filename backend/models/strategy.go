package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAutoModelName is the virtual model name that triggers auto-routing
// when no custom name is configured on the strategy.
const DefaultAutoModelName = "router/auto"

// Dimension identifies what a rate limit or usage event measures.
type Dimension string

const (
	DimensionRequests     Dimension = "requests"
	DimensionInputTokens  Dimension = "input_tokens"
	DimensionOutputTokens Dimension = "output_tokens"
	DimensionTotalTokens  Dimension = "total_tokens"
	DimensionCost         Dimension = "cost"
)

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Dimension) UnmarshalText(text []byte) error {
	switch Dimension(text) {
	case DimensionRequests, DimensionInputTokens, DimensionOutputTokens,
		DimensionTotalTokens, DimensionCost:
		*d = Dimension(text)
		return nil
	}
	return fmt.Errorf("unknown rate limit dimension: %q", text)
}

// Window is the time span over which a rate limit applies.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return 0
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (w *Window) UnmarshalText(text []byte) error {
	switch Window(text) {
	case WindowMinute, WindowHour, WindowDay:
		*w = Window(text)
		return nil
	}
	return fmt.Errorf("unknown rate limit window: %q", text)
}

// LimitScope determines whether a rate limit entry counts a single client's
// usage or the aggregate usage of every client sharing the strategy.
type LimitScope string

const (
	ScopeClient   LimitScope = "client"
	ScopeStrategy LimitScope = "strategy"
)

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (s *LimitScope) UnmarshalText(text []byte) error {
	switch LimitScope(text) {
	case ScopeClient, ScopeStrategy:
		*s = LimitScope(text)
		return nil
	}
	return fmt.Errorf("unknown rate limit scope: %q", text)
}

// RateLimitEntry is a (dimension, window, limit) triple attached to a
// strategy. Entries are immutable for the duration of a server run and are
// replaced wholesale on configuration reload.
type RateLimitEntry struct {
	Dimension Dimension  `toml:"dimension" json:"dimension"`
	Window    Window     `toml:"window" json:"window"`
	Limit     float64    `toml:"limit" json:"limit"`
	Scope     LimitScope `toml:"scope" json:"scope"`
}

// Validate checks the entry for configuration errors.
func (e RateLimitEntry) Validate() error {
	if e.Limit <= 0 {
		return fmt.Errorf("rate limit for %s must be positive, got %v", e.Dimension, e.Limit)
	}
	if e.Window.Duration() == 0 {
		return fmt.Errorf("rate limit for %s has no window", e.Dimension)
	}
	return nil
}

// ModelRef identifies a model offered by a specific provider.
type ModelRef struct {
	Provider string `toml:"provider" json:"provider"`
	Model    string `toml:"model" json:"model"`
}

// String returns the canonical "provider/model" form.
func (m ModelRef) String() string {
	return m.Provider + "/" + m.Model
}

// UnmarshalText parses the "provider/model" form, so catalog files can list
// models as plain strings.
func (m *ModelRef) UnmarshalText(text []byte) error {
	provider, model, ok := strings.Cut(string(text), "/")
	if !ok || provider == "" || model == "" {
		return fmt.Errorf("model reference %q is not provider/model", text)
	}
	m.Provider = provider
	m.Model = model
	return nil
}

// AvailableModelsSelection determines which models a strategy may route to.
// The selection is evaluated in order:
//  1. If SelectedAll is true, all models are allowed (including future ones)
//  2. Otherwise, a provider listed in SelectedProviders allows all of its models
//  3. Otherwise, the specific (provider, model) pair must be in SelectedModels
type AvailableModelsSelection struct {
	SelectedAll       bool       `toml:"selected_all" json:"selected_all"`
	SelectedProviders []string   `toml:"selected_providers" json:"selected_providers"`
	SelectedModels    []ModelRef `toml:"selected_models" json:"selected_models"`
}

// AllModels returns a selection that allows every model.
func AllModels() AvailableModelsSelection {
	return AvailableModelsSelection{SelectedAll: true}
}

// IsModelAllowed reports whether the (provider, model) pair is within the
// selection. Comparison is case-insensitive, matching how providers report
// model identifiers.
func (s AvailableModelsSelection) IsModelAllowed(provider, model string) bool {
	if s.SelectedAll {
		return true
	}
	for _, p := range s.SelectedProviders {
		if strings.EqualFold(p, provider) {
			return true
		}
	}
	for _, m := range s.SelectedModels {
		if strings.EqualFold(m.Provider, provider) && strings.EqualFold(m.Model, model) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the selection allows no models at all.
func (s AvailableModelsSelection) IsEmpty() bool {
	return !s.SelectedAll && len(s.SelectedProviders) == 0 && len(s.SelectedModels) == 0
}

// AutoRouteConfig configures the strategy's auto-routing virtual model.
//
// PrioritizedModels is the strong tier, tried in order. When the classifier
// is enabled and the win rate falls below Threshold, WeakModels is used
// instead. List order is entirely operator-specified; it is the only
// mechanism for expressing "cheapest first" or "local first" policies.
type AutoRouteConfig struct {
	Enabled           bool       `toml:"enabled" json:"enabled"`
	ModelName         string     `toml:"model_name" json:"model_name"`
	PrioritizedModels []ModelRef `toml:"prioritized_models" json:"prioritized_models"`
	WeakModels        []ModelRef `toml:"weak_models" json:"weak_models"`

	// ClassifierEnabled turns on win-rate scoring for tier selection.
	ClassifierEnabled bool `toml:"classifier_enabled" json:"classifier_enabled"`

	// Threshold in [0,1]. win_rate >= threshold routes to the strong tier.
	// 0.3 is a balanced profile; higher values favor the weak tier.
	Threshold float64 `toml:"threshold" json:"threshold"`
}

// Name returns the virtual model name for this auto-routing config.
func (c *AutoRouteConfig) Name() string {
	if c != nil && c.ModelName != "" {
		return c.ModelName
	}
	return DefaultAutoModelName
}

// Strategy is a reusable routing policy. Strategies are referenced by many
// clients, have no owning client, and are mutated only through the
// configuration store.
type Strategy struct {
	ID            string                   `toml:"id" json:"id"`
	Name          string                   `toml:"name" json:"name"`
	AllowedModels AvailableModelsSelection `toml:"allowed_models" json:"allowed_models"`
	AutoRoute     *AutoRouteConfig         `toml:"auto_route" json:"auto_route,omitempty"`
	RateLimits    []RateLimitEntry         `toml:"rate_limits" json:"rate_limits"`
}

// NewStrategy creates a strategy that allows all models.
func NewStrategy(name string) *Strategy {
	return &Strategy{
		ID:            uuid.New().String(),
		Name:          name,
		AllowedModels: AllModels(),
	}
}

// IsModelAllowed reports whether the strategy permits the (provider, model)
// pair.
func (s *Strategy) IsModelAllowed(provider, model string) bool {
	return s.AllowedModels.IsModelAllowed(provider, model)
}

// Validate checks the strategy's internal consistency. Auto-routing lists
// referencing models outside the allowed selection are a configuration
// error, not a runtime error.
func (s *Strategy) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("strategy %q has no id", s.Name)
	}
	for _, e := range s.RateLimits {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("strategy %q: %w", s.Name, err)
		}
	}
	if s.AutoRoute == nil {
		return nil
	}
	if s.AutoRoute.Threshold < 0 || s.AutoRoute.Threshold > 1 {
		return fmt.Errorf("strategy %q: threshold %v outside [0,1]", s.Name, s.AutoRoute.Threshold)
	}
	for _, m := range s.AutoRoute.PrioritizedModels {
		if !s.IsModelAllowed(m.Provider, m.Model) {
			return fmt.Errorf("strategy %q: prioritized model %s not in allowed selection", s.Name, m)
		}
	}
	for _, m := range s.AutoRoute.WeakModels {
		if !s.IsModelAllowed(m.Provider, m.Model) {
			return fmt.Errorf("strategy %q: weak model %s not in allowed selection", s.Name, m)
		}
	}
	return nil
}
