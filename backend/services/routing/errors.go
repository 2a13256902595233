package routing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/upb/llm-router/backend/services/providers"
)

// FailureKind buckets a provider failure for the dispatch loop. The kind,
// not the original error, decides whether the next candidate is tried.
type FailureKind string

const (
	// FailureRateLimited means the upstream throttled the request.
	FailureRateLimited FailureKind = "rate_limited"

	// FailurePolicyViolation means the upstream refused the content.
	// Providers enforce different policies, so another candidate may
	// still accept the same prompt.
	FailurePolicyViolation FailureKind = "policy_violation"

	// FailureContextLengthExceeded means the prompt did not fit the
	// model's context window.
	FailureContextLengthExceeded FailureKind = "context_length_exceeded"

	// FailureUnreachable means the provider could not be reached or
	// timed out.
	FailureUnreachable FailureKind = "unreachable"

	// FailureOther is everything else. Not retried.
	FailureOther FailureKind = "other"
)

// DefaultRateLimitRetryAfter is assumed when a throttling provider does not
// say when to come back.
const DefaultRateLimitRetryAfter = 60 * time.Second

// RouterError is a provider failure annotated with its classification and
// the candidate that produced it.
type RouterError struct {
	Kind       FailureKind
	Provider   string
	Model      string
	RetryAfter time.Duration
	Err        error
}

func (e *RouterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Provider, e.Model, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Provider, e.Model, e.Kind)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the dispatch loop should advance to the next
// candidate after this failure.
func (e *RouterError) Retryable() bool {
	switch e.Kind {
	case FailureRateLimited, FailurePolicyViolation, FailureContextLengthExceeded, FailureUnreachable:
		return true
	default:
		return false
	}
}

// Message fragments that identify failure families across providers.
// Upstreams rarely agree on error codes, so the message text is the only
// portable signal for these two categories.
var (
	contextLengthMarkers = []string{
		"context length",
		"maximum context",
		"context window",
		"too many tokens",
	}
	policyMarkers = []string{
		"policy",
		"safety",
		"content filter",
		"content_filter",
		"flagged",
	}
)

// Classify maps a raw provider error onto a RouterError. Structured
// signals (error category, status code, network errors) are preferred;
// message matching is the fallback for categories upstreams only express
// as text.
func Classify(provider, model string, err error) *RouterError {
	re := &RouterError{
		Kind:     FailureOther,
		Provider: provider,
		Model:    model,
		Err:      err,
	}
	if err == nil {
		return re
	}

	var pe *providers.ProviderError
	if errors.As(err, &pe) {
		switch pe.Category {
		case providers.CategoryRateLimited:
			re.Kind = FailureRateLimited
			re.RetryAfter = pe.RetryAfter
			if re.RetryAfter <= 0 {
				re.RetryAfter = DefaultRateLimitRetryAfter
			}
			return re
		case providers.CategoryTimeout, providers.CategoryConnection:
			re.Kind = FailureUnreachable
			return re
		case providers.CategoryAPI:
			if pe.StatusCode == 429 {
				re.Kind = FailureRateLimited
				re.RetryAfter = DefaultRateLimitRetryAfter
				return re
			}
			if kind, ok := classifyMessage(pe.Message); ok {
				re.Kind = kind
				return re
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		re.Kind = FailureUnreachable
		return re
	}

	if kind, ok := classifyMessage(err.Error()); ok {
		re.Kind = kind
	}
	return re
}

func classifyMessage(msg string) (FailureKind, bool) {
	lower := strings.ToLower(msg)
	for _, marker := range contextLengthMarkers {
		if strings.Contains(lower, marker) {
			return FailureContextLengthExceeded, true
		}
	}
	for _, marker := range policyMarkers {
		if strings.Contains(lower, marker) {
			return FailurePolicyViolation, true
		}
	}
	return FailureOther, false
}
