// Package routing is the admission and dispatch engine: it plans a
// candidate chain for each request, checks rate limits before every
// attempt, tries candidates in order through provider adapters and records
// usage for the ones that complete.
package routing

import (
	"context"
	"errors"
	"time"

	"github.com/upb/llm-router/backend/models"
	"github.com/upb/llm-router/backend/services"
	"github.com/upb/llm-router/backend/services/ledger"
	"github.com/upb/llm-router/backend/services/metrics"
	"github.com/upb/llm-router/backend/services/providers"
	"go.uber.org/zap"
)

// ConfigSource supplies client and strategy definitions. The routing engine
// only reads; definitions change through configuration reloads.
type ConfigSource interface {
	Client(id string) (*models.Client, bool)
	Strategy(id string) (*models.Strategy, bool)
}

// AttemptOutcome says how one candidate ended.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailed  AttemptOutcome = "failed"
	OutcomeSkipped AttemptOutcome = "skipped"
)

// AttemptRecord captures one candidate's fate for diagnostics.
type AttemptRecord struct {
	Provider string
	Model    string
	Outcome  AttemptOutcome
	Failure  FailureKind
	Latency  time.Duration
}

// DecisionRecord is the per-request routing trace: how the chain was
// planned and what happened to each candidate.
type DecisionRecord struct {
	ClientID   string
	StrategyID string
	Target     string
	Tier       string
	WinRate    float64
	Attempts   []AttemptRecord
}

// Result is a completed dispatch: the winning response plus its decision
// record.
type Result struct {
	Response *providers.Response
	Record   DecisionRecord
}

// Service is the dispatch loop.
type Service struct {
	source   ConfigSource
	registry *providers.Registry
	ledger   *ledger.Service
	planner  *Planner
	reader   metrics.Reader
	recorder metrics.Recorder
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService creates the routing service. reader and recorder may be nil;
// strategy-scoped limits are then skipped and aggregate usage not recorded.
func NewService(
	source ConfigSource,
	registry *providers.Registry,
	ledgerSvc *ledger.Service,
	planner *Planner,
	reader metrics.Reader,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *Service {
	return &Service{
		source:   source,
		registry: registry,
		ledger:   ledgerSvc,
		planner:  planner,
		reader:   reader,
		recorder: recorder,
		clock:    time.Now,
		logger:   logger,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Route dispatches one request for a client. It resolves the client and
// its strategy, plans the candidate chain once, then walks the chain:
// admission check, attempt, and on a retryable failure advance to the next
// candidate. Usage is recorded for the candidate that succeeds.
//
// Denial of the first candidate surfaces as a rate-limit error carrying a
// retry-after hint. A denied candidate later in the chain is skipped like
// any retryable failure; skipping over-limit candidates is the point of
// having fallbacks.
func (s *Service) Route(ctx context.Context, clientID, modelTarget string, req *providers.Request) (*Result, error) {
	client, ok := s.source.Client(clientID)
	if !ok {
		return nil, services.ErrClientNotFound.WithDetail("client_id", clientID)
	}
	if !client.Enabled {
		return nil, services.ErrClientDisabled.WithDetail("client_id", clientID)
	}

	strategy, ok := s.source.Strategy(client.StrategyID)
	if !ok {
		return nil, services.ErrStrategyNotFound.WithDetail("strategy_id", client.StrategyID)
	}

	target, err := ParseTarget(strategy, modelTarget)
	if err != nil {
		return nil, err
	}

	plan, err := s.planner.Plan(ctx, strategy, target, req.Prompt())
	if err != nil {
		return nil, err
	}

	s.logger.Debug("step 1: planned candidate chain",
		zap.String("client_id", clientID),
		zap.String("target", modelTarget),
		zap.String("tier", plan.Tier),
		zap.Int("candidates", len(plan.Candidates)))

	record := DecisionRecord{
		ClientID:   clientID,
		StrategyID: strategy.ID,
		Target:     modelTarget,
		Tier:       plan.Tier,
		WinRate:    plan.WinRate,
	}

	var lastFailure *RouterError
	for i, candidate := range plan.Candidates {
		decision := s.admit(ctx, client, strategy, candidate)
		if !decision.Allowed {
			if i == 0 {
				s.logger.Info("step 2: first candidate denied admission",
					zap.String("client_id", clientID),
					zap.String("candidate", candidate.String()),
					zap.Duration("retry_after", decision.RetryAfter))
				return nil, services.ErrRateLimitExceeded.
					WithDetail("candidate", candidate.String()).
					WithDetail("retry_after_seconds", int64(decision.RetryAfter/time.Second))
			}
			s.logger.Debug("candidate denied admission, skipping",
				zap.String("candidate", candidate.String()))
			record.Attempts = append(record.Attempts, AttemptRecord{
				Provider: candidate.Provider,
				Model:    candidate.Model,
				Outcome:  OutcomeSkipped,
				Failure:  FailureRateLimited,
			})
			continue
		}

		// The request itself is usage: recorded at admission, kept even
		// when the attempt fails.
		s.ledger.Record(ledger.ClientKey(client.ID, models.DimensionRequests),
			models.DimensionRequests, 1, s.clock())

		resp, rerr := s.attempt(ctx, candidate, req)
		if rerr == nil {
			record.Attempts = append(record.Attempts, AttemptRecord{
				Provider: candidate.Provider,
				Model:    candidate.Model,
				Outcome:  OutcomeSuccess,
				Latency:  resp.Latency,
			})
			s.recordUsage(ctx, client, strategy, resp.Usage)
			s.logger.Info("step 3: dispatch succeeded",
				zap.String("client_id", clientID),
				zap.String("candidate", candidate.String()),
				zap.Int("attempt", i+1),
				zap.Duration("latency", resp.Latency))
			return &Result{Response: resp, Record: record}, nil
		}

		record.Attempts = append(record.Attempts, AttemptRecord{
			Provider: candidate.Provider,
			Model:    candidate.Model,
			Outcome:  OutcomeFailed,
			Failure:  rerr.Kind,
		})
		lastFailure = rerr

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !rerr.Retryable() {
			s.logger.Warn("candidate failed with non-retryable error",
				zap.String("candidate", candidate.String()),
				zap.String("kind", string(rerr.Kind)),
				zap.Error(rerr.Err))
			break
		}

		s.logger.Debug("candidate failed, advancing",
			zap.String("candidate", candidate.String()),
			zap.String("kind", string(rerr.Kind)),
			zap.Error(rerr.Err))
	}

	if lastFailure == nil {
		// Every candidate after the first was denied admission and none
		// was ever attempted.
		return nil, services.ErrCandidatesExhausted.
			WithDetail("candidates", len(plan.Candidates))
	}
	exhausted := services.ErrCandidatesExhausted.
		WithDetail("last_provider", lastFailure.Provider).
		WithDetail("last_model", lastFailure.Model).
		WithDetail("last_failure", string(lastFailure.Kind))
	exhausted.Err = lastFailure
	return nil, exhausted
}

// admit checks every applicable rate-limit entry for one candidate. The
// first denial wins; its retry-after hints when the oldest counted event
// leaves the window.
func (s *Service) admit(ctx context.Context, client *models.Client, strategy *models.Strategy, candidate Candidate) ledger.Decision {
	for _, entry := range strategy.RateLimits {
		var decision ledger.Decision
		switch entry.Scope {
		case models.ScopeClient:
			decision = s.admitClient(client, entry)
		case models.ScopeStrategy:
			decision = s.admitStrategy(ctx, strategy, entry)
		default:
			continue
		}
		if !decision.Allowed {
			s.logger.Debug("admission denied",
				zap.String("candidate", candidate.String()),
				zap.String("scope", string(entry.Scope)),
				zap.String("dimension", string(entry.Dimension)),
				zap.String("window", string(entry.Window)),
				zap.Float64("current", decision.CurrentUsage),
				zap.Float64("limit", decision.Limit))
			return decision
		}
	}
	return ledger.Decision{Allowed: true}
}

// admitClient checks a client-scoped entry against the client's own ledger.
// Requests project one unit; token and cost checks are advisory before the
// attempt since actual usage is unknown until the provider responds.
func (s *Service) admitClient(client *models.Client, entry models.RateLimitEntry) ledger.Decision {
	projected := 0.0
	if entry.Dimension == models.DimensionRequests {
		projected = 1
	}
	key := ledger.ClientKey(client.ID, entry.Dimension)
	return s.ledger.Check(key, entry.Window, entry.Limit, projected)
}

// admitStrategy checks a strategy-scoped entry against aggregate usage of
// all clients sharing the strategy, projecting one request's expected
// amount. The expectation is the window's observed per-request average, so
// zero-cost traffic never trips a cost limit.
func (s *Service) admitStrategy(ctx context.Context, strategy *models.Strategy, entry models.RateLimitEntry) ledger.Decision {
	if s.reader == nil {
		return ledger.Decision{Allowed: true}
	}

	agg, err := s.reader.AggregateUsage(ctx, strategy.ID, entry.Dimension, entry.Window)
	if err != nil {
		// Metrics unavailability must not take down dispatch.
		s.logger.Warn("failed to read aggregate usage, admitting",
			zap.String("strategy_id", strategy.ID),
			zap.Error(err))
		return ledger.Decision{Allowed: true}
	}

	projected := 1.0
	if entry.Dimension != models.DimensionRequests {
		projected = agg.PerRequest()
	}

	if agg.Sum+projected > entry.Limit {
		return ledger.Decision{
			Allowed:      false,
			RetryAfter:   entry.Window.Duration(),
			CurrentUsage: agg.Sum,
			Limit:        entry.Limit,
		}
	}
	return ledger.Decision{Allowed: true, CurrentUsage: agg.Sum, Limit: entry.Limit}
}

// attempt runs one candidate through its provider adapter and classifies
// any failure.
func (s *Service) attempt(ctx context.Context, candidate Candidate, req *providers.Request) (*providers.Response, *RouterError) {
	adapter, err := s.registry.Get(candidate.Provider)
	if err != nil {
		if errors.Is(err, providers.ErrProviderNotFound) {
			// A deregistered provider is indistinguishable from a dead
			// one as far as the chain is concerned.
			return nil, &RouterError{
				Kind:     FailureUnreachable,
				Provider: candidate.Provider,
				Model:    candidate.Model,
				Err:      err,
			}
		}
		return nil, Classify(candidate.Provider, candidate.Model, err)
	}

	resp, err := adapter.Attempt(ctx, candidate.Model, req)
	if err != nil {
		return nil, Classify(candidate.Provider, candidate.Model, err)
	}
	return resp, nil
}

// recordUsage writes the completed attempt's usage into the client ledger
// and the strategy-level metrics. The request event itself was already
// recorded at admission.
func (s *Service) recordUsage(ctx context.Context, client *models.Client, strategy *models.Strategy, usage models.Usage) {
	now := s.clock()
	for _, d := range []models.Dimension{
		models.DimensionInputTokens,
		models.DimensionOutputTokens,
		models.DimensionTotalTokens,
		models.DimensionCost,
	} {
		if amount := usage.Amount(d); amount > 0 {
			s.ledger.Record(ledger.ClientKey(client.ID, d), d, amount, now)
		}
	}

	if s.recorder != nil {
		if err := s.recorder.RecordUsage(ctx, strategy.ID, usage); err != nil {
			s.logger.Error("failed to record strategy usage",
				zap.String("strategy_id", strategy.ID),
				zap.Error(err))
		}
	}
}
