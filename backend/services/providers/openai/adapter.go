// Package openai implements a provider adapter for OpenAI-compatible chat
// completion APIs. Several backends (OpenAI itself, OpenRouter, local
// vLLM/Ollama gateways) speak this wire format, so the base URL and
// provider name are both configurable.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/llm-router/backend/models"
	"github.com/upb/llm-router/backend/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// Config holds the connection settings for one OpenAI-compatible backend.
type Config struct {
	// Name is the provider name this adapter registers under. Defaults
	// to "openai".
	Name string

	// BaseURL is the API root, without the trailing /chat/completions.
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// OrgID is sent as the OpenAI-Organization header when non-empty.
	OrgID string

	// Timeout bounds each attempt end to end.
	Timeout time.Duration

	// PromptTokenPrice and CompletionTokenPrice are per-token USD prices
	// used to derive cost when the backend does not report one. Zero
	// prices yield zero cost, which is correct for local models.
	PromptTokenPrice     float64
	CompletionTokenPrice float64
}

// Adapter performs chat completion attempts against one OpenAI-compatible
// endpoint.
type Adapter struct {
	config     Config
	httpClient *http.Client
}

// NewAdapter creates an adapter from the given config, applying defaults
// for the name, base URL, and timeout.
func NewAdapter(config Config) *Adapter {
	if config.Name == "" {
		config.Name = "openai"
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name this adapter serves.
func (a *Adapter) Name() string {
	return a.config.Name
}

// Attempt performs one chat completion against the configured backend.
// Failures come back as *providers.ProviderError with a structural
// category so the caller can classify without parsing messages.
func (a *Adapter) Attempt(ctx context.Context, model string, req *providers.Request) (*providers.Response, error) {
	start := time.Now()

	body, err := json.Marshal(a.buildRequest(model, req))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryAPI, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryAPI, "build request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}
	if a.config.OrgID != "" {
		httpReq.Header.Set("OpenAI-Organization", a.config.OrgID)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, a.transportError(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryConnection, "read response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.errorFromStatus(httpResp, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryAPI, "unmarshal response", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), providers.CategoryAPI, "response contained no choices", nil)
	}

	choice := chatResp.Choices[0]
	usage := models.Usage{
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}
	usage.CostUSD = float64(usage.InputTokens)*a.config.PromptTokenPrice +
		float64(usage.OutputTokens)*a.config.CompletionTokenPrice

	return &providers.Response{
		ID:           chatResp.ID,
		Provider:     a.Name(),
		Model:        chatResp.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        usage,
		Latency:      time.Since(start),
	}, nil
}

func (a *Adapter) buildRequest(model string, req *providers.Request) *chatRequest {
	out := &chatRequest{
		Model:    model,
		Messages: make([]chatMessage, len(req.Messages)),
	}
	for i, msg := range req.Messages {
		out.Messages[i] = chatMessage{Role: msg.Role, Content: msg.Content}
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = &req.Temperature
	}
	return out
}

// transportError maps a client-side failure to a structural category.
func (a *Adapter) transportError(err error) *providers.ProviderError {
	category := providers.CategoryConnection
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		category = providers.CategoryTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		category = providers.CategoryTimeout
	}
	return providers.NewProviderError(a.Name(), category, "request failed", err)
}

// errorFromStatus maps a non-200 response to a ProviderError, carrying the
// Retry-After hint on 429s when the backend supplies one.
func (a *Adapter) errorFromStatus(resp *http.Response, body []byte) *providers.ProviderError {
	message := string(body)
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	perr := providers.NewProviderError(a.Name(), providers.CategoryAPI, message, nil)
	perr.StatusCode = resp.StatusCode

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		perr.Category = providers.CategoryRateLimited
		perr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusGatewayTimeout:
		perr.Category = providers.CategoryTimeout
	case resp.StatusCode >= http.StatusInternalServerError:
		perr.Category = providers.CategoryConnection
	}
	return perr
}

// parseRetryAfter reads a Retry-After header in either seconds or HTTP-date
// form. Unparseable values map to zero, meaning no hint.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

var _ providers.Adapter = (*Adapter)(nil)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
