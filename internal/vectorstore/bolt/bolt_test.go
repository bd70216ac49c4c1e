package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"segrag/internal/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "segrag.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateCollection(context.Background(), "book", 2, domain.DistanceCosine); err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestUpsertOverwritesByID(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	points := []domain.Point{
		{ID: 1, Vector: []float32{1, 0}, Payload: map[string]any{"text": "one"}},
		{ID: 1<<64 - 1, Vector: []float32{0, 1}, Payload: map[string]any{"text": "max"}},
	}
	for i := 0; i < 2; i++ {
		if err := s.Upsert(ctx, "book", points); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.Upsert(ctx, "book", []domain.Point{{ID: 1, Vector: []float32{1, 0}, Payload: map[string]any{"text": "uno"}}}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	info, err := s.CollectionInfo(ctx, "book")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.PointsCount != 2 || info.Dimension != 2 || info.Distance != domain.DistanceCosine {
		t.Fatalf("info = %+v", info)
	}
	hits, err := s.Search(ctx, "book", domain.SearchRequest{Vector: []float32{1, 0}, Limit: 1})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != 1 || hits[0].Text() != "uno" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestDimensionMismatchWritesNothing(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	err := s.Upsert(ctx, "book", []domain.Point{
		{ID: 1, Vector: []float32{1, 0}},
		{ID: 2, Vector: []float32{1, 0, 0}},
	})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v", err)
	}
	info, _ := s.CollectionInfo(ctx, "book")
	if info.PointsCount != 0 {
		t.Fatalf("points = %d, want 0", info.PointsCount)
	}
}

func TestSearchWrongDimension(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if err := s.CreateCollection(ctx, "wide", 3, domain.DistanceCosine); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, "wide", []domain.Point{{ID: 1, Vector: []float32{1, 0, 0}}}); err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(ctx, "wide", domain.SearchRequest{Vector: []float32{1}, Limit: 1})
	if !errors.Is(err, domain.ErrDimensionMismatch) || hits != nil {
		t.Fatalf("hits = %+v, err = %v", hits, err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segrag.db")
	ctx := context.Background()
	s, err := NewStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCollection(ctx, "book", 2, domain.DistanceDot); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, "book", []domain.Point{{ID: 9, Vector: []float32{2, 0}, Payload: map[string]any{"source": "a.txt"}}}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	hits, err := s.Search(ctx, "book", domain.SearchRequest{Vector: []float32{1, 0}, Limit: 5, Filter: domain.Filter{"source": "a.txt"}, WithVector: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != 9 || hits[0].Score != 2 || len(hits[0].Vector) != 2 {
		t.Fatalf("hits = %+v", hits)
	}
	hits, _ = s.Search(ctx, "book", domain.SearchRequest{Vector: []float32{1, 0}, Limit: 5, Filter: domain.Filter{"source": "b.txt"}})
	if len(hits) != 0 {
		t.Fatalf("filtered hits = %+v", hits)
	}
}

func TestMissingCollection(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	if _, err := s.Search(ctx, "nope", domain.SearchRequest{Vector: []float32{1, 0}, Limit: 1}); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("search err = %v", err)
	}
	if err := s.DeleteCollection(ctx, "nope"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("delete err = %v", err)
	}
	if err := s.DeleteCollection(ctx, "book"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.CollectionInfo(ctx, "book"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("info err = %v", err)
	}
}
