package routing

import (
	"context"
	"strings"

	"github.com/upb/llm-router/backend/models"
	"github.com/upb/llm-router/backend/services"
	"go.uber.org/zap"
)

// Candidate is one (provider, model) pair eligible for an attempt. Position
// in the planner's output is its priority; candidates are recomputed per
// request and never persisted.
type Candidate struct {
	Provider string
	Model    string
}

func (c Candidate) String() string {
	return c.Provider + "/" + c.Model
}

// Target is a parsed routing destination: either an explicit provider/model
// pair or the strategy's auto-routing alias.
type Target struct {
	Auto     bool
	Provider string
	Model    string
}

// ParseTarget resolves a requested model name against a strategy. The
// strategy's auto alias selects auto-routing; anything else must be a
// "provider/model" pair.
func ParseTarget(strategy *models.Strategy, requested string) (Target, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		return Target{}, services.ErrInvalidModel
	}

	if strategy.AutoRoute != nil && strings.EqualFold(name, strategy.AutoRoute.Name()) {
		return Target{Auto: true}, nil
	}
	if strings.EqualFold(name, models.DefaultAutoModelName) {
		return Target{Auto: true}, nil
	}

	provider, model, ok := strings.Cut(name, "/")
	if ok {
		// Model identifiers may themselves contain slashes.
		if provider != "" && model != "" {
			return Target{Provider: provider, Model: model}, nil
		}
	}
	return Target{}, services.ErrInvalidModel.WithDetail("model", requested)
}

// Scorer estimates the win rate for a prompt. Satisfied by the classifier
// service.
type Scorer interface {
	Score(ctx context.Context, prompt string) (float64, error)
}

// Planner turns a strategy and a target into an ordered candidate chain.
type Planner struct {
	scorer Scorer
	logger *zap.Logger
}

// NewPlanner creates a planner. scorer may be nil when no classifier is
// deployed; auto-routing then always selects the strong tier.
func NewPlanner(scorer Scorer, logger *zap.Logger) *Planner {
	return &Planner{scorer: scorer, logger: logger}
}

// PlanResult is the planner's output: the candidate chain plus how it was
// chosen, for decision records and logs.
type PlanResult struct {
	Candidates []Candidate
	Tier       string
	WinRate    float64
}

// Plan produces the candidate chain for one request. The chain is never
// empty on success. Order is taken verbatim from the strategy's
// configuration; the planner never reorders. Operators express "cheapest
// first" or "local first" purely through list order.
func (p *Planner) Plan(ctx context.Context, strategy *models.Strategy, target Target, prompt string) (*PlanResult, error) {
	if strategy.AllowedModels.IsEmpty() {
		return nil, services.ErrNoModelsAllowed.WithDetail("strategy_id", strategy.ID)
	}

	if !target.Auto {
		if !strategy.AllowedModels.IsModelAllowed(target.Provider, target.Model) {
			return nil, services.ErrModelNotAllowed.
				WithDetail("provider", target.Provider).
				WithDetail("model", target.Model)
		}
		return &PlanResult{
			Candidates: []Candidate{{Provider: target.Provider, Model: target.Model}},
			Tier:       TierExplicit,
		}, nil
	}

	auto := strategy.AutoRoute
	if auto == nil {
		return nil, services.ErrAutoRouteNotConfigured.WithDetail("strategy_id", strategy.ID)
	}
	if !auto.Enabled {
		return nil, services.ErrAutoRouteDisabled.WithDetail("strategy_id", strategy.ID)
	}
	if len(auto.PrioritizedModels) == 0 {
		return nil, services.ErrNoPrioritizedModels.WithDetail("strategy_id", strategy.ID)
	}

	tier, winRate := p.selectTier(ctx, auto, prompt)

	refs := p.tierModels(auto, tier)
	candidates := make([]Candidate, 0, len(refs))
	for _, ref := range refs {
		candidates = append(candidates, Candidate{Provider: ref.Provider, Model: ref.Model})
	}

	p.logger.Debug("planned auto-route candidates",
		zap.String("strategy_id", strategy.ID),
		zap.String("tier", tier),
		zap.Float64("win_rate", winRate),
		zap.Int("candidates", len(candidates)))

	return &PlanResult{Candidates: candidates, Tier: tier, WinRate: winRate}, nil
}

// Tier labels for decision records.
const (
	TierExplicit = "explicit"
	TierStrong   = "strong"
	TierWeak     = "weak"
)

// selectTier applies the routing decision rule. win_rate >= threshold
// selects the strong tier; the boundary is inclusive. An empty weak list or
// a scoring failure resolves to strong: fail open to capability, not to
// cost.
func (p *Planner) selectTier(ctx context.Context, auto *models.AutoRouteConfig, prompt string) (string, float64) {
	if len(auto.WeakModels) == 0 {
		return TierStrong, 1
	}
	if !auto.ClassifierEnabled || p.scorer == nil {
		return TierStrong, 1
	}

	winRate, err := p.scorer.Score(ctx, prompt)
	if err != nil {
		p.logger.Warn("classifier scoring failed, routing to strong tier", zap.Error(err))
		return TierStrong, 1
	}

	if winRate >= auto.Threshold {
		return TierStrong, winRate
	}
	return TierWeak, winRate
}

func (p *Planner) tierModels(auto *models.AutoRouteConfig, tier string) []models.ModelRef {
	if tier == TierWeak {
		return auto.WeakModels
	}
	return auto.PrioritizedModels
}
