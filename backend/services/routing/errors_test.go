package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/upb/llm-router/backend/services/providers"
)

func TestRouterError_Retryable(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want bool
	}{
		{FailureRateLimited, true},
		{FailurePolicyViolation, true},
		{FailureContextLengthExceeded, true},
		{FailureUnreachable, true},
		{FailureOther, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := &RouterError{Kind: tt.kind}
			assert.Equal(t, tt.want, e.Retryable())
		})
	}
}

func TestClassify_StructuralSignals(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		wantKind       FailureKind
		wantRetryAfter time.Duration
	}{
		{
			name:     "timeout category",
			err:      providers.NewProviderError("openai", providers.CategoryTimeout, "request timed out", nil),
			wantKind: FailureUnreachable,
		},
		{
			name:     "connection category",
			err:      providers.NewProviderError("ollama", providers.CategoryConnection, "connection refused", nil),
			wantKind: FailureUnreachable,
		},
		{
			name: "rate limited with provider retry-after",
			err: &providers.ProviderError{
				Provider:   "openai",
				Category:   providers.CategoryRateLimited,
				Message:    "slow down",
				RetryAfter: 5 * time.Second,
			},
			wantKind:       FailureRateLimited,
			wantRetryAfter: 5 * time.Second,
		},
		{
			name:           "rate limited without retry-after gets the default",
			err:            providers.NewProviderError("openai", providers.CategoryRateLimited, "slow down", nil),
			wantKind:       FailureRateLimited,
			wantRetryAfter: DefaultRateLimitRetryAfter,
		},
		{
			name: "429 status on generic API error",
			err: &providers.ProviderError{
				Provider:   "anthropic",
				Category:   providers.CategoryAPI,
				Message:    "too many requests",
				StatusCode: 429,
			},
			wantKind:       FailureRateLimited,
			wantRetryAfter: DefaultRateLimitRetryAfter,
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			wantKind: FailureUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := Classify("p", "m", tt.err)
			assert.Equal(t, tt.wantKind, re.Kind)
			assert.Equal(t, tt.wantRetryAfter, re.RetryAfter)
			assert.ErrorIs(t, re, tt.err)
		})
	}
}

func TestClassify_MessageKeywords(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want FailureKind
	}{
		{"context length", "this model's maximum context length is 8192 tokens", FailureContextLengthExceeded},
		{"context window", "prompt exceeds the context window", FailureContextLengthExceeded},
		{"policy", "request violates usage policy", FailurePolicyViolation},
		{"safety", "blocked by safety system", FailurePolicyViolation},
		{"content filter", "the response was stopped by a content filter", FailurePolicyViolation},
		{"keywords are case-insensitive", "Maximum Context exceeded", FailureContextLengthExceeded},
		{"unmatched", "something strange happened", FailureOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := Classify("p", "m", errors.New(tt.msg))
			assert.Equal(t, tt.want, re.Kind)
		})
	}
}

func TestClassify_APIErrorMessageFallback(t *testing.T) {
	err := &providers.ProviderError{
		Provider:   "openai",
		Category:   providers.CategoryAPI,
		Message:    "maximum context length exceeded",
		StatusCode: 400,
	}
	re := Classify("openai", "gpt-4o", err)
	assert.Equal(t, FailureContextLengthExceeded, re.Kind)
}

func TestRouterError_Error(t *testing.T) {
	e := &RouterError{
		Kind:     FailureUnreachable,
		Provider: "ollama",
		Model:    "llama3",
		Err:      errors.New("dial tcp: connection refused"),
	}
	assert.Contains(t, e.Error(), "ollama/llama3")
	assert.Contains(t, e.Error(), "unreachable")
}
