// Package ledger implements the sliding-window usage ledger consulted on
// every admission check.
//
// Each (scope key, dimension) pair owns an ordered sequence of usage events
// bounded by the applicable window. Checks prune expired events, sum the
// remainder, and deny when the projected total would exceed the limit.
// Ledger state is flushed to durable storage on a fixed cadence and
// reloaded at startup so limits survive restarts; flush failures are
// logged, never fatal, and never block admission decisions.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/upb/llm-router/backend/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Store persists ledger state between runs. Implementations must tolerate
// concurrent Save calls from the flush worker and shutdown path.
type Store interface {
	// Load returns all persisted events keyed by scope key.
	Load(ctx context.Context) (map[string][]models.UsageEvent, error)

	// Save replaces the persisted state wholesale.
	Save(ctx context.Context, state map[string][]models.UsageEvent) error
}

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the projected usage stays within the limit
	Allowed bool

	// RetryAfter is how long until the oldest counted event leaves the
	// window, zero when Allowed
	RetryAfter time.Duration

	// CurrentUsage is the summed usage inside the window, before projection
	CurrentUsage float64

	// Limit is the configured maximum
	Limit float64
}

// ClientKey builds the scope key for a client-scoped limit.
func ClientKey(clientID string, d models.Dimension) string {
	return fmt.Sprintf("client:%s:%s", clientID, d)
}

// StrategyKey builds the scope key for a strategy-scoped limit.
func StrategyKey(strategyID string, d models.Dimension) string {
	return fmt.Sprintf("strategy:%s:%s", strategyID, d)
}

// windowState holds the events for one scope key. Each state has its own
// lock so contention stays local to requests sharing a client or strategy.
type windowState struct {
	mu     sync.Mutex
	events []models.UsageEvent
}

// prune drops events older than windowStart. Events are appended in
// timestamp order, so the survivors are a suffix.
func (s *windowState) prune(windowStart time.Time) {
	i := 0
	for i < len(s.events) && s.events[i].Timestamp.Before(windowStart) {
		i++
	}
	if i > 0 {
		s.events = append(s.events[:0], s.events[i:]...)
	}
}

func (s *windowState) sum() float64 {
	var total float64
	for _, e := range s.events {
		total += e.Amount
	}
	return total
}

// Service is the usage ledger. It is the single shared mutable resource of
// the routing engine and supports concurrent read-modify-write per scope
// key without serializing unrelated keys.
type Service struct {
	mu     sync.RWMutex
	states map[string]*windowState

	store  Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewService creates a ledger backed by the given store. A nil store
// disables persistence entirely.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		states: make(map[string]*windowState),
		store:  store,
		clock:  time.Now,
		logger: logger,
	}
}

// WithClock overrides the time source. Used by tests to advance the window
// without sleeping.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// state returns the window state for key, creating it on first use.
func (s *Service) state(key string) *windowState {
	s.mu.RLock()
	st, ok := s.states[key]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.states[key]; ok {
		return st
	}
	st = &windowState{}
	s.states[key] = st
	return st
}

// Check performs an admission check for one (key, dimension) pair. Expired
// events are pruned, remaining amounts summed, and the projected increment
// added; the check denies when the total would exceed limit. RetryAfter on
// denial is derived from the age of the oldest event still in the window.
func (s *Service) Check(key string, window models.Window, limit, projected float64) Decision {
	now := s.clock()
	windowStart := now.Add(-window.Duration())

	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.prune(windowStart)
	current := st.sum()

	if current+projected <= limit {
		return Decision{Allowed: true, CurrentUsage: current, Limit: limit}
	}

	var retryAfter time.Duration
	if len(st.events) > 0 {
		retryAfter = st.events[0].Timestamp.Add(window.Duration()).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}

	return Decision{
		Allowed:      false,
		RetryAfter:   retryAfter,
		CurrentUsage: current,
		Limit:        limit,
	}
}

// Record appends a usage event for the given key. Events are immutable once
// written; usage already incurred is never rolled back, even when the
// originating request was cancelled.
func (s *Service) Record(key string, d models.Dimension, amount float64, ts time.Time) {
	if ts.IsZero() {
		ts = s.clock()
	}

	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.events = append(st.events, models.UsageEvent{
		Timestamp: ts,
		Amount:    amount,
		Dimension: d,
	})
}

// Snapshot returns the summed usage and event count inside the window for
// one key, pruning expired events as a side effect.
func (s *Service) Snapshot(key string, window models.Window) (sum float64, count int) {
	windowStart := s.clock().Add(-window.Duration())

	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.prune(windowStart)
	return st.sum(), len(st.events)
}

// Keys returns all scope keys currently tracked.
func (s *Service) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadState restores persisted events from the store. Events older than a
// day (the widest supported window) are discarded on load.
func (s *Service) LoadState(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	state, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger state: %w", err)
	}

	cutoff := s.clock().Add(-models.WindowDay.Duration())

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, events := range state {
		kept := make([]models.UsageEvent, 0, len(events))
		for _, e := range events {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			continue
		}
		sort.Slice(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })
		s.states[key] = &windowState{events: kept}
	}

	s.logger.Debug("loaded ledger state", zap.Int("keys", len(state)))
	return nil
}

// Flush writes the current ledger state to the store. Per-key copy errors
// are aggregated so one bad key does not hide the others.
func (s *Service) Flush(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	state := s.copyState()
	if err := s.store.Save(ctx, state); err != nil {
		return multierr.Append(fmt.Errorf("failed to persist ledger state"), err)
	}

	s.logger.Debug("persisted ledger state", zap.Int("keys", len(state)))
	return nil
}

// copyState snapshots all window states without holding the registry lock
// across individual state locks longer than needed.
func (s *Service) copyState() map[string][]models.UsageEvent {
	s.mu.RLock()
	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	cutoff := s.clock().Add(-models.WindowDay.Duration())
	state := make(map[string][]models.UsageEvent, len(keys))
	for _, key := range keys {
		st := s.state(key)
		st.mu.Lock()
		st.prune(cutoff)
		if len(st.events) > 0 {
			events := make([]models.UsageEvent, len(st.events))
			copy(events, st.events)
			state[key] = events
		}
		st.mu.Unlock()
	}
	return state
}

// StartFlushWorker periodically persists ledger state until ctx is
// cancelled. Failed flushes are retried with capped exponential backoff and
// logged; they never propagate to request processing. A final flush runs on
// shutdown.
func (s *Service) StartFlushWorker(ctx context.Context, interval time.Duration) {
	if s.store == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started ledger flush worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
			err := backoff.Retry(func() error { return s.Flush(ctx) }, policy)
			if err != nil {
				s.logger.Error("failed to persist ledger state", zap.Error(err))
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Flush(flushCtx); err != nil {
				s.logger.Error("final ledger flush failed", zap.Error(err))
			}
			cancel()
			s.logger.Info("stopping ledger flush worker")
			return
		}
	}
}
