package vectorstore

import (
	"errors"
	"math"
	"testing"

	"segrag/internal/domain"
)

func TestScore(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 2}
	c := []float32{3, 0}
	if got := Score(domain.DistanceCosine, a, c); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("cosine parallel = %f", got)
	}
	if got := Score(domain.DistanceCosine, a, b); got != 0 {
		t.Errorf("cosine orthogonal = %f", got)
	}
	if got := Score(domain.DistanceCosine, a, []float32{0, 0}); got != 0 {
		t.Errorf("cosine zero vector = %f", got)
	}
	if got := Score(domain.DistanceDot, a, c); got != 3 {
		t.Errorf("dot = %f", got)
	}
	if got := Score(domain.DistanceEuclid, a, c); got != 2 {
		t.Errorf("euclid = %f", got)
	}
}

func TestRank(t *testing.T) {
	hits := func() []domain.ScoredPoint {
		return []domain.ScoredPoint{{ID: 1, Score: 0.2}, {ID: 2, Score: 0.9}, {ID: 3, Score: 0.5}}
	}
	got := Rank(domain.DistanceCosine, hits(), 2)
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Errorf("cosine rank = %+v", got)
	}
	got = Rank(domain.DistanceEuclid, hits(), 10)
	if len(got) != 3 || got[0].ID != 1 {
		t.Errorf("euclid rank = %+v", got)
	}
}

func TestMatchFilter(t *testing.T) {
	payload := map[string]any{"source": "book.txt", "chunk_index": 3}
	if !MatchFilter(payload, nil) {
		t.Error("nil filter must match")
	}
	if !MatchFilter(payload, domain.Filter{"source": "book.txt"}) {
		t.Error("equal value must match")
	}
	if MatchFilter(payload, domain.Filter{"source": "other.txt"}) {
		t.Error("different value must not match")
	}
	if MatchFilter(payload, domain.Filter{"chunk_index": "3"}) {
		t.Error("non-string field must not match")
	}
}

func TestCheckDimension(t *testing.T) {
	points := []domain.Point{{ID: 1, Vector: []float32{1, 2}}, {ID: 2, Vector: []float32{1}}}
	if err := CheckDimension(points[:1], 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckDimension(points, 2); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}
