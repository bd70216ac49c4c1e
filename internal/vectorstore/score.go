package vectorstore

import (
	"math"
	"sort"

	"segrag/internal/domain"
)

// Score compares two vectors under a distance. For Cosine and Dot higher is
// closer; for Euclid the score is the distance itself and lower is closer.
func Score(distance domain.Distance, a, b []float32) float32 {
	n := min(len(a), len(b))
	switch distance {
	case domain.DistanceDot:
		return float32(dot(a[:n], b[:n]))
	case domain.DistanceEuclid:
		sum := 0.0
		for i := 0; i < n; i++ {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	default:
		na, nb := math.Sqrt(dot(a[:n], a[:n])), math.Sqrt(dot(b[:n], b[:n]))
		if na == 0 || nb == 0 {
			return 0
		}
		return float32(dot(a[:n], b[:n]) / (na * nb))
	}
}

// Rank orders hits best first and truncates to limit.
func Rank(distance domain.Distance, hits []domain.ScoredPoint, limit int) []domain.ScoredPoint {
	sort.SliceStable(hits, func(i, j int) bool {
		if distance == domain.DistanceEuclid {
			return hits[i].Score < hits[j].Score
		}
		return hits[i].Score > hits[j].Score
	})
	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// MatchFilter reports whether every filter key is present in the payload
// with an equal string value.
func MatchFilter(payload map[string]any, filter domain.Filter) bool {
	for k, want := range filter {
		got, ok := payload[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
