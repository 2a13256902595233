package providers

import (
	"context"
	"time"

	"github.com/upb/llm-router/backend/models"
)

// Adapter is the boundary between the routing engine and one backend
// provider's wire protocol. The engine treats an adapter as opaque beyond
// success or error and the final usage counts; streaming, SSE parsing, and
// authentication all live behind this interface.
type Adapter interface {
	// Name returns the provider name (e.g., "openai", "anthropic", "ollama")
	Name() string

	// Attempt performs one completion attempt against the given model. It
	// must honor ctx cancellation and report final token and cost usage on
	// success.
	Attempt(ctx context.Context, model string, req *Request) (*Response, error)
}

// Request is the provider-agnostic completion request handed to adapters.
type Request struct {
	// Messages in the conversation
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// Stream enables streaming responses
	Stream bool `json:"stream,omitempty"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// Prompt returns the text of the last user message, which is what the
// win-rate classifier scores.
func (r *Request) Prompt() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Response is the provider-agnostic completion response.
type Response struct {
	// ID is the unique identifier for this completion
	ID string `json:"id"`

	// Provider that handled the request
	Provider string `json:"provider"`

	// Model used for the completion
	Model string `json:"model"`

	// Content is the completion text
	Content string `json:"content"`

	// FinishReason indicates why the completion finished
	FinishReason string `json:"finish_reason"`

	// Usage holds final token counts and cost
	Usage models.Usage `json:"usage"`

	// Latency of the attempt
	Latency time.Duration `json:"latency"`
}

// ErrorCategory is the structural classification an adapter attaches to a
// failure. Categories carry more signal than error text and are inspected
// before any keyword matching.
type ErrorCategory string

const (
	// CategoryTimeout covers request deadlines and provider-side timeouts.
	CategoryTimeout ErrorCategory = "timeout"

	// CategoryConnection covers DNS, dial, and transport failures.
	CategoryConnection ErrorCategory = "connection"

	// CategoryRateLimited covers HTTP 429 and explicit rate-limit signals.
	CategoryRateLimited ErrorCategory = "rate_limited"

	// CategoryAPI covers errors the provider returned in-band; only the
	// message text distinguishes them further.
	CategoryAPI ErrorCategory = "api"
)

// ProviderError represents an error from a provider adapter.
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Category is the structural classification of the failure
	Category ErrorCategory

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// RetryAfter is the provider-supplied backoff hint, zero if absent
	RetryAfter time.Duration

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, category ErrorCategory, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Category: category,
		Message:  message,
		Cause:    cause,
	}
}
