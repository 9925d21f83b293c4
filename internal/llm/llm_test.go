package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

func TestTitanEmbedRequestShape(t *testing.T) {
	body, err := json.Marshal(titanEmbedRequest{InputText: "pod crash loop", Dimensions: embedDimensions, Normalize: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"inputText":"pod crash loop","dimensions":1024,"normalize":true}`, string(body))
}

func TestClaudeRequestShape(t *testing.T) {
	body, err := json.Marshal(claudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        256,
		Messages: []claudeMessage{
			{Role: "user", Content: []claudeContent{{Type: "text", Text: "analyse this"}}},
		},
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "bedrock-2023-05-31", decoded["anthropic_version"])
	assert.Equal(t, float64(256), decoded["max_tokens"])
}

func TestJoinTextBlocks(t *testing.T) {
	blocks := []claudeContent{
		{Type: "text", Text: "{\"root_cause\":"},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "\"oom\"}"},
	}
	assert.Equal(t, `{"root_cause":"oom"}`, joinTextBlocks(blocks))
}

func TestNewProviders_None(t *testing.T) {
	p, err := NewProviders(context.Background(), config.ModelsConfig{Provider: "none"}, "", logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, p.Embedder)
	assert.Nil(t, p.Completer)
	assert.Nil(t, p.Retriever)
}

func TestNewProviders_Unsupported(t *testing.T) {
	_, err := NewProviders(context.Background(), config.ModelsConfig{Provider: "gpt"}, "", logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported model provider")
}

func TestNewProviders_AnthropicRequiresKey(t *testing.T) {
	_, err := NewProviders(context.Background(), config.ModelsConfig{Provider: "anthropic"}, "", logger.Nop())
	require.Error(t, err)
}

func TestAnthropicCompleter_Construction(t *testing.T) {
	c, err := NewAnthropicCompleter(config.ModelsConfig{Provider: "anthropic", APIKey: "sk-test"}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.ProviderName())
}
