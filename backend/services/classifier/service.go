// Package classifier scores prompts for routing difficulty. The score is a
// win rate in [0, 1]: how likely a weak model is to answer the prompt as
// well as a strong one. Higher means the cheap tier suffices.
package classifier

import (
	"context"
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultConcurrency bounds how many prompts score at once so a burst
	// of auto-routed requests cannot starve dispatch.
	DefaultConcurrency = 4

	// DefaultCacheSize bounds the score memoization cache.
	DefaultCacheSize = 1024
)

// Service scores prompts through a Kernel, memoizing results and limiting
// concurrent evaluations.
type Service struct {
	kernel    Kernel
	tokenizer *Tokenizer
	sem       *semaphore.Weighted
	cache     *lru.Cache[[32]byte, float64]
	logger    *zap.Logger
}

// Options tunes a classifier service. Zero values fall back to defaults.
type Options struct {
	Concurrency int64
	CacheSize   int
}

// NewService creates a classifier around the given kernel.
func NewService(kernel Kernel, opts Options, logger *zap.Logger) (*Service, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}

	cache, err := lru.New[[32]byte, float64](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create score cache: %w", err)
	}

	return &Service{
		kernel:    kernel,
		tokenizer: NewTokenizer(kernel.Buckets()),
		sem:       semaphore.NewWeighted(opts.Concurrency),
		cache:     cache,
		logger:    logger,
	}, nil
}

// Score returns the win rate for a prompt. Identical prompts always score
// identically; results are cached by prompt digest.
func (s *Service) Score(ctx context.Context, prompt string) (float64, error) {
	digest := sha256.Sum256([]byte(prompt))
	if score, ok := s.cache.Get(digest); ok {
		return score, nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("failed to acquire scoring slot: %w", err)
	}

	type result struct {
		logit float64
		err   error
	}
	done := make(chan result, 1)

	// The kernel runs in its own goroutine so a stuck evaluation cannot
	// block dispatch past the caller's deadline. The slot is released by
	// the evaluation itself, not the caller, so a timed-out caller does
	// not free capacity a kernel is still using.
	go func() {
		defer s.sem.Release(1)
		ids := s.tokenizer.Tokenize(prompt)
		logit, err := s.kernel.Forward(ids)
		done <- result{logit: logit, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return 0, fmt.Errorf("failed to score prompt: %w", r.err)
		}
		score := Sigmoid(r.logit)
		s.cache.Add(digest, score)
		s.logger.Debug("scored prompt",
			zap.Float64("win_rate", score),
			zap.Int("prompt_length", len(prompt)))
		return score, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
