package embedding

import (
	"context"
	"fmt"

	"segrag/internal/domain"
)

// Embedder converts a batch of texts into vectors. Output i is the
// embedding of input i and every vector has Dimension() elements.
type Embedder interface {
	Name() string
	// Dimension returns the vector length, or 0 when a remote model has not
	// been called yet and no dimension was configured.
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CheckBatch verifies a response against its request: one vector per text,
// all of the same length, matching want when want > 0. It returns the
// observed dimension.
func CheckBatch(name string, texts []string, vectors [][]float32, want int) (int, error) {
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("%w: %s returned %d vectors for %d inputs",
			domain.ErrEmbedding, name, len(vectors), len(texts))
	}
	dim := want
	for i, v := range vectors {
		if len(v) == 0 {
			return 0, fmt.Errorf("%w: %s returned an empty vector for input %d", domain.ErrEmbedding, name, i)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return 0, fmt.Errorf("%w: %s vector %d has %d dimensions, want %d: %w",
				domain.ErrEmbedding, name, i, len(v), dim, domain.ErrDimensionMismatch)
		}
	}
	return dim, nil
}
