package embedding

import (
	"errors"
	"testing"

	"segrag/internal/domain"
)

func TestCheckBatch(t *testing.T) {
	texts := []string{"a", "b"}
	dim, err := CheckBatch("test", texts, [][]float32{{1, 2, 3}, {4, 5, 6}}, 0)
	if err != nil || dim != 3 {
		t.Fatalf("dim = %d, err = %v", dim, err)
	}

	tests := map[string]struct {
		vectors [][]float32
		want    int
	}{
		"count mismatch":     {[][]float32{{1}}, 0},
		"ragged":             {[][]float32{{1, 2}, {1}}, 0},
		"configured differs": {[][]float32{{1, 2}, {3, 4}}, 384},
		"empty vector":       {[][]float32{{}, {1}}, 0},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := CheckBatch("test", texts, tc.vectors, tc.want); !errors.Is(err, domain.ErrEmbedding) {
				t.Fatalf("err = %v, want ErrEmbedding", err)
			}
		})
	}
}
