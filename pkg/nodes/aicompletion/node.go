// Package aicompletion provides a node that asks the AI provider for a completion.
package aicompletion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gymops/automation/pkg/ai"
	"github.com/gymops/automation/pkg/models"
	"github.com/gymops/automation/pkg/protocol"
)

const defaultMaxTokens = 512

type Node struct {
	provider ai.Provider
}

func New(provider ai.Provider) *Node {
	if provider == nil {
		provider = ai.Disabled{}
	}

	return &Node{provider: provider}
}

func (n *Node) Capability() models.Capability {
	return models.CapabilityAICompletion
}

func (n *Node) Name() string {
	return "AI Completion"
}

func (n *Node) Description() string {
	return "Generates text with the configured AI provider, for example to qualify a lead or draft a reply."
}

func (n *Node) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "User prompt, supports {{path}} expressions",
			},
			"system": map[string]any{
				"type":        "string",
				"description": "System instructions",
			},
			"model": map[string]any{
				"type":        "string",
				"description": "Model override; the provider default is used when empty",
			},
			"temperature": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 2,
			},
			"max_tokens": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"default": defaultMaxTokens,
			},
			"json": map[string]any{
				"type":        "boolean",
				"description": "Request a JSON object and expose it as 'data'",
			},
		},
		"required": []string{"prompt"},
	}
}

func (n *Node) Validate(config map[string]any) error {
	if _, err := protocol.RequireString(config, "prompt"); err != nil {
		return err
	}

	temperature, err := protocol.FloatField(config, "temperature", 0)
	if err != nil {
		return err
	}

	if temperature < 0 || temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2", protocol.ErrInvalidConfig)
	}

	maxTokens, err := protocol.IntField(config, "max_tokens", defaultMaxTokens)
	if err != nil {
		return err
	}

	if maxTokens < 1 {
		return fmt.Errorf("%w: max_tokens must be positive", protocol.ErrInvalidConfig)
	}

	return nil
}

func (n *Node) Execute(ctx context.Context, input protocol.Input) (protocol.Output, error) {
	if err := n.Validate(input.Config); err != nil {
		return protocol.Output{}, err
	}

	temperature, _ := protocol.FloatField(input.Config, "temperature", 0)
	maxTokens, _ := protocol.IntField(input.Config, "max_tokens", defaultMaxTokens)
	wantJSON, _ := input.Config["json"].(bool)

	resp, err := n.provider.Complete(ctx, ai.CompletionRequest{
		Model:       protocol.StringField(input.Config, "model"),
		System:      protocol.StringField(input.Config, "system"),
		Prompt:      protocol.StringField(input.Config, "prompt"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		JSON:        wantJSON,
	})
	if err != nil {
		if errors.Is(err, ai.ErrNotConfigured) {
			return protocol.Output{}, fmt.Errorf("%w: %w", protocol.ErrInvalidConfig, err)
		}

		return protocol.Output{}, fmt.Errorf("%s completion failed: %w", n.provider.Name(), err)
	}

	data := map[string]any{
		"text":          resp.Text,
		"model":         resp.Model,
		"finish_reason": resp.FinishReason,
		"usage": map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}

	if wantJSON {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
			return protocol.Output{}, fmt.Errorf("completion is not a JSON object: %w", err)
		}

		data["data"] = parsed
	}

	return protocol.Output{Data: data}, nil
}
