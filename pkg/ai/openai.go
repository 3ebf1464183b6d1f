package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	maxResponseBody  = 4 * 1024 * 1024
	defaultAttempts  = 3
	defaultRetryWait = 500 * time.Millisecond
)

// OpenAIConfig configures any OpenAI-compatible chat completions API.
type OpenAIConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
	Attempts int
	// RetryWait is the first backoff interval between attempts.
	RetryWait time.Duration
}

type OpenAIProvider struct {
	baseURL   string
	apiKey    string
	model     string
	attempts  int
	retryWait time.Duration
	client    *http.Client
	logger    *slog.Logger
}

func NewOpenAIProvider(cfg OpenAIConfig, logger *slog.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}

	return &OpenAIProvider{
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		model:     model,
		attempts:  attempts,
		retryWait: retryWait,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With("module", "ai", "provider", "openai"),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete calls /chat/completions. Rate limits and server errors are retried with
// exponential backoff; other failures are returned immediately.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	body, err := json.Marshal(toChatRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.retryWait
	policy.MaxElapsedTime = 0

	operation := func() (*CompletionResponse, error) {
		resp, err := p.do(ctx, body)
		if err != nil && !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}

		return resp, err
	}

	notify := func(err error, wait time.Duration) {
		p.logger.WarnContext(ctx, "retrying completion", "error", err, "wait", wait)
	}

	resp, err := backoff.RetryNotifyWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.attempts-1)), ctx), notify)
	if err != nil {
		return nil, err
	}

	p.logger.DebugContext(ctx, "completion finished", "model", resp.Model, "tokens", resp.Usage.TotalTokens)

	return resp, nil
}

func (p *OpenAIProvider) do(ctx context.Context, body []byte) (*CompletionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	var chat chatResponse

	err = json.Unmarshal(respBody, &chat)
	if err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if len(chat.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return &CompletionResponse{
		Text:         chat.Choices[0].Message.Content,
		Model:        chat.Model,
		FinishReason: chat.Choices[0].FinishReason,
		Usage:        chat.Usage,
	}, nil
}

func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, strings.TrimSpace(string(body)))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, detail)
	default:
		return errors.New(detail)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

func toChatRequest(req CompletionRequest) chatRequest {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}

	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	chat := chatRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}

	if req.Temperature > 0 {
		temperature := req.Temperature
		chat.Temperature = &temperature
	}

	if req.JSON {
		chat.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	return chat
}
