// Package ai is the AI-completion collaborator used by ai_completion nodes.
package ai

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured = errors.New("ai provider not configured")
	ErrRateLimited   = errors.New("ai provider rate limited")
	ErrUnavailable   = errors.New("ai provider unavailable")
	ErrUnauthorized  = errors.New("ai provider rejected credentials")
	ErrEmptyResponse = errors.New("ai provider returned no choices")
)

type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks the model for a JSON object response.
	JSON bool
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type CompletionResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Provider turns a prompt into text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Disabled is the provider used when no AI backend is configured.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	return nil, ErrNotConfigured
}
