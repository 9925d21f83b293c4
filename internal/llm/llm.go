// Package llm hosts the model providers behind the inference cascade and
// the embedding/deep-retrieval layers of search.
package llm

import (
	"context"
	"fmt"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// Embedder turns text into a vector for the pattern index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedderModel() string
}

// Completer runs one prompt against a named model and returns raw text.
type Completer interface {
	Complete(ctx context.Context, modelID, prompt string) (string, error)
	ProviderName() string
}

// DeepHit is one result from a managed knowledge base.
type DeepHit struct {
	Text   string
	Score  float64
	Source string
}

// Retriever queries an external managed knowledge base (deep search layer).
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]DeepHit, error)
}

// Providers bundles whatever the configured provider can offer. Nil fields
// are legal: a missing Embedder disables the vector layer, a missing
// Completer limits inference to rule matching, a missing Retriever
// disables deep retrieval.
type Providers struct {
	Embedder  Embedder
	Completer Completer
	Retriever Retriever
}

// NewProviders builds providers from configuration.
func NewProviders(ctx context.Context, cfg config.ModelsConfig, knowledgeBaseID string, log logger.Logger) (*Providers, error) {
	switch cfg.Provider {
	case "bedrock":
		bc, err := NewBedrockClient(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: %w", err)
		}
		p := &Providers{Embedder: bc, Completer: bc}
		if knowledgeBaseID != "" {
			p.Retriever = NewKnowledgeBaseRetriever(bc.awsConfig, knowledgeBaseID, log)
		}
		return p, nil

	case "anthropic":
		ac, err := NewAnthropicCompleter(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		// No embedding endpoint on the direct API; the vector layer
		// degrades to keyword search.
		return &Providers{Completer: ac}, nil

	case "none":
		log.Warn("model provider disabled; inference limited to rule matching")
		return &Providers{}, nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}
