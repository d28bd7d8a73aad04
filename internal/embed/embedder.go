// Package embed generates fixed-dimension embedding vectors for media
// transcripts.
package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"nexus/internal/config"
	"nexus/internal/services"
)

// inputLimit caps the text sent to the embedding model.
const inputLimit = 8000

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OllamaEmbedder produces embeddings through a local ollama server.
type OllamaEmbedder struct {
	model     embeddings.Embedder
	dimension int
	modelName string
}

// NewOllamaEmbedder builds the embedder from configuration.
func NewOllamaEmbedder(cfg *config.Config) (*OllamaEmbedder, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.Embedder.Model),
		ollama.WithServerURL(cfg.Embedder.OllamaHost),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	model, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return &OllamaEmbedder{
		model:     model,
		dimension: cfg.Embedder.Dimension,
		modelName: cfg.Embedder.Model,
	}, nil
}

// Embed generates one vector and validates its dimension. A mismatch means
// the configured model and dimension disagree, which retrying cannot fix.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) > inputLimit {
		text = text[:inputLimit]
	}
	vectors, err := e.model.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "embed", "embed documents",
			"embedding call failed", err)
	}
	if len(vectors) == 0 {
		return nil, services.Wrap(services.ErrTransient, "embed", "embed documents",
			"no embedding returned", nil)
	}
	vector := vectors[0]
	if len(vector) != e.dimension {
		return nil, services.Wrap(services.ErrPermanent, "embed", "validate dimension",
			fmt.Sprintf("model %s returned %d dimensions, expected %d", e.modelName, len(vector), e.dimension), nil)
	}
	return vector, nil
}

// Dimension returns the expected vector width.
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}
