package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"segrag/internal/domain"
	"segrag/internal/vectorstore"
)

type collection struct {
	dimension int
	distance  domain.Distance
	points    map[uint64]domain.Point
}

// Storage is a simple in-memory vector store using brute-force similarity.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewStorage() *Storage {
	return &Storage{collections: make(map[string]*collection)}
}

func (s *Storage) CreateCollection(_ context.Context, name string, dimension int, distance domain.Distance) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("collection %s already exists", name)
	}
	s.collections[name] = &collection{
		dimension: dimension,
		distance:  distance,
		points:    make(map[uint64]domain.Point),
	}
	return nil
}

func (s *Storage) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	delete(s.collections, name)
	return nil
}

func (s *Storage) CollectionInfo(_ context.Context, name string) (domain.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return domain.CollectionInfo{}, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	return domain.CollectionInfo{
		Name:        name,
		PointsCount: uint64(len(c.points)),
		Dimension:   c.dimension,
		Distance:    c.distance,
	}, nil
}

// Upsert validates the whole batch before writing any of it.
func (s *Storage) Upsert(_ context.Context, name string, points []domain.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err := vectorstore.CheckDimension(points, c.dimension); err != nil {
		return err
	}
	for _, p := range points {
		c.points[p.ID] = domain.Point{
			ID:      p.ID,
			Vector:  slices.Clone(p.Vector),
			Payload: maps.Clone(p.Payload),
		}
	}
	return nil
}

func (s *Storage) Search(_ context.Context, name string, req domain.SearchRequest) ([]domain.ScoredPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if len(req.Vector) != c.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			domain.ErrDimensionMismatch, len(req.Vector), c.dimension)
	}
	hits := make([]domain.ScoredPoint, 0, len(c.points))
	for _, p := range c.points {
		if !vectorstore.MatchFilter(p.Payload, req.Filter) {
			continue
		}
		hit := domain.ScoredPoint{
			ID:      p.ID,
			Score:   vectorstore.Score(c.distance, req.Vector, p.Vector),
			Payload: maps.Clone(p.Payload),
		}
		if req.WithVector {
			hit.Vector = slices.Clone(p.Vector)
		}
		hits = append(hits, hit)
	}
	// Map iteration order is random; tie-break on id for stable results.
	slices.SortFunc(hits, func(a, b domain.ScoredPoint) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return vectorstore.Rank(c.distance, hits, req.Limit), nil
}

func (s *Storage) Close() error { return nil }
