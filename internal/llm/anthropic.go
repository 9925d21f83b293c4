package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// AnthropicCompleter talks to the Anthropic API directly.
type AnthropicCompleter struct {
	client    anthropic.Client
	maxTokens int64
	logger    logger.Logger
}

func NewAnthropicCompleter(cfg config.ModelsConfig, log logger.Logger) (*AnthropicCompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is not configured")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultModelMaxTokens
	}

	return &AnthropicCompleter{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		maxTokens: int64(maxTokens),
		logger:    log,
	}, nil
}

func (c *AnthropicCompleter) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic %s: %w", modelID, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty completion from %s", modelID)
	}

	c.logger.Debug("anthropic completion",
		"model", modelID,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens)
	return text, nil
}

func (c *AnthropicCompleter) ProviderName() string { return "anthropic" }
