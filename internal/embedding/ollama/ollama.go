package ollama

import (
	"context"
	"fmt"
	"sync"

	"github.com/ollama/ollama/api"

	"segrag/internal/domain"
	"segrag/internal/embedding"
)

// Embedder calls the Ollama /api/embed endpoint with the whole batch.
type Embedder struct {
	api   *api.Client
	model string

	mu        sync.Mutex
	dimension int
}

// NewEmbedder wraps an Ollama API client. dimension may be 0 to learn it
// from the first response.
func NewEmbedder(c *api.Client, model string, dimension int) *Embedder {
	if model == "" {
		model = "all-minilm"
	}
	return &Embedder{api: c, model: model, dimension: dimension}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "ollama" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimension
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.api.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", domain.ErrEmbedding, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	dim, err := embedding.CheckBatch(e.Name(), texts, resp.Embeddings, e.dimension)
	if err != nil {
		return nil, err
	}
	e.dimension = dim
	return resp.Embeddings, nil
}
