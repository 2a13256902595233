package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/backend/models"
	"github.com/upb/llm-router/backend/services"
	"go.uber.org/zap"
)

type fixedScorer struct {
	winRate float64
	err     error
	calls   int
}

func (s *fixedScorer) Score(ctx context.Context, prompt string) (float64, error) {
	s.calls++
	return s.winRate, s.err
}

func testStrategy() *models.Strategy {
	return &models.Strategy{
		ID:   "s1",
		Name: "default",
		AllowedModels: models.AvailableModelsSelection{
			SelectedModels: []models.ModelRef{
				{Provider: "openai", Model: "gpt-4o"},
				{Provider: "anthropic", Model: "claude-sonnet"},
				{Provider: "ollama", Model: "llama3"},
			},
		},
		AutoRoute: &models.AutoRouteConfig{
			Enabled: true,
			PrioritizedModels: []models.ModelRef{
				{Provider: "openai", Model: "gpt-4o"},
				{Provider: "anthropic", Model: "claude-sonnet"},
			},
			WeakModels: []models.ModelRef{
				{Provider: "ollama", Model: "llama3"},
			},
			ClassifierEnabled: true,
			Threshold:         0.3,
		},
	}
}

func TestParseTarget(t *testing.T) {
	strategy := testStrategy()

	t.Run("explicit provider/model", func(t *testing.T) {
		target, err := ParseTarget(strategy, "openai/gpt-4o")
		require.NoError(t, err)
		assert.False(t, target.Auto)
		assert.Equal(t, "openai", target.Provider)
		assert.Equal(t, "gpt-4o", target.Model)
	})

	t.Run("auto alias", func(t *testing.T) {
		target, err := ParseTarget(strategy, models.DefaultAutoModelName)
		require.NoError(t, err)
		assert.True(t, target.Auto)
	})

	t.Run("custom auto alias", func(t *testing.T) {
		strategy := testStrategy()
		strategy.AutoRoute.ModelName = "gateway/smart"
		target, err := ParseTarget(strategy, "gateway/smart")
		require.NoError(t, err)
		assert.True(t, target.Auto)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := ParseTarget(strategy, "  ")
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := ParseTarget(strategy, "gpt-4o")
		assert.True(t, services.IsValidationError(err))
	})
}

func TestPlan_EmptySelectionIsConfigurationError(t *testing.T) {
	planner := NewPlanner(nil, zap.NewNop())
	strategy := &models.Strategy{ID: "s1", Name: "empty"}

	_, err := planner.Plan(context.Background(), strategy, Target{Provider: "openai", Model: "gpt-4o"}, "")
	assert.True(t, services.IsConfigurationError(err))

	_, err = planner.Plan(context.Background(), strategy, Target{Auto: true}, "")
	assert.True(t, services.IsConfigurationError(err))
}

func TestPlan_ExplicitTargetOutsideSelectionIsForbidden(t *testing.T) {
	planner := NewPlanner(nil, zap.NewNop())

	_, err := planner.Plan(context.Background(), testStrategy(),
		Target{Provider: "mistral", Model: "large"}, "")
	assert.True(t, services.IsForbiddenError(err))
	assert.True(t, errors.Is(err, services.ErrModelNotAllowed))
}

func TestPlan_ExplicitTargetSingleCandidate(t *testing.T) {
	planner := NewPlanner(nil, zap.NewNop())

	plan, err := planner.Plan(context.Background(), testStrategy(),
		Target{Provider: "ollama", Model: "llama3"}, "")
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{Provider: "ollama", Model: "llama3"}}, plan.Candidates)
	assert.Equal(t, TierExplicit, plan.Tier)
}

func TestPlan_AutoWithoutConfigIsUnsupported(t *testing.T) {
	planner := NewPlanner(nil, zap.NewNop())
	strategy := testStrategy()
	strategy.AutoRoute = nil

	_, err := planner.Plan(context.Background(), strategy, Target{Auto: true}, "")
	assert.True(t, services.IsUnsupportedError(err))
	assert.True(t, errors.Is(err, services.ErrAutoRouteNotConfigured))
}

func TestPlan_AutoDisabledIsUnsupported(t *testing.T) {
	planner := NewPlanner(nil, zap.NewNop())
	strategy := testStrategy()
	strategy.AutoRoute.Enabled = false

	_, err := planner.Plan(context.Background(), strategy, Target{Auto: true}, "")
	assert.True(t, services.IsUnsupportedError(err))
}

func TestPlan_AutoWithoutPrioritizedModels(t *testing.T) {
	planner := NewPlanner(nil, zap.NewNop())
	strategy := testStrategy()
	strategy.AutoRoute.PrioritizedModels = nil

	_, err := planner.Plan(context.Background(), strategy, Target{Auto: true}, "")
	assert.True(t, services.IsConfigurationError(err))
}

func TestPlan_EmptyWeakListAlwaysStrong(t *testing.T) {
	// Even a rock-bottom win rate resolves to the strong tier when no
	// weak models exist.
	scorer := &fixedScorer{winRate: 0.01}
	planner := NewPlanner(scorer, zap.NewNop())
	strategy := testStrategy()
	strategy.AutoRoute.WeakModels = nil

	plan, err := planner.Plan(context.Background(), strategy, Target{Auto: true}, "trivial")
	require.NoError(t, err)
	assert.Equal(t, TierStrong, plan.Tier)
	assert.Len(t, plan.Candidates, 2)
	assert.Equal(t, 0, scorer.calls, "scorer must not run without a weak tier")
}

func TestPlan_ClassifierDisabledAlwaysStrong(t *testing.T) {
	scorer := &fixedScorer{winRate: 0.01}
	planner := NewPlanner(scorer, zap.NewNop())
	strategy := testStrategy()
	strategy.AutoRoute.ClassifierEnabled = false

	plan, err := planner.Plan(context.Background(), strategy, Target{Auto: true}, "trivial")
	require.NoError(t, err)
	assert.Equal(t, TierStrong, plan.Tier)
	assert.Equal(t, 0, scorer.calls)
}

func TestPlan_TierSelection(t *testing.T) {
	tests := []struct {
		name     string
		winRate  float64
		wantTier string
	}{
		{"below threshold routes weak", 0.15, TierWeak},
		{"above threshold routes strong", 0.45, TierStrong},
		{"boundary equality routes strong", 0.3, TierStrong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planner := NewPlanner(&fixedScorer{winRate: tt.winRate}, zap.NewNop())

			plan, err := planner.Plan(context.Background(), testStrategy(), Target{Auto: true}, "prompt")
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, plan.Tier)
			assert.Equal(t, tt.winRate, plan.WinRate)
		})
	}
}

func TestPlan_TierOrderPreserved(t *testing.T) {
	planner := NewPlanner(&fixedScorer{winRate: 0.9}, zap.NewNop())

	plan, err := planner.Plan(context.Background(), testStrategy(), Target{Auto: true}, "hard prompt")
	require.NoError(t, err)
	assert.Equal(t, []Candidate{
		{Provider: "openai", Model: "gpt-4o"},
		{Provider: "anthropic", Model: "claude-sonnet"},
	}, plan.Candidates)
}

func TestPlan_ScorerFailureFailsOpenToStrong(t *testing.T) {
	planner := NewPlanner(&fixedScorer{err: errors.New("weights corrupted")}, zap.NewNop())

	plan, err := planner.Plan(context.Background(), testStrategy(), Target{Auto: true}, "prompt")
	require.NoError(t, err)
	assert.Equal(t, TierStrong, plan.Tier)
}

func TestPlan_NilScorerRoutesStrong(t *testing.T) {
	planner := NewPlanner(nil, zap.NewNop())

	plan, err := planner.Plan(context.Background(), testStrategy(), Target{Auto: true}, "prompt")
	require.NoError(t, err)
	assert.Equal(t, TierStrong, plan.Tier)
}
