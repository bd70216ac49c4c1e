package vectorstore

import (
	"context"
	"fmt"

	"segrag/internal/domain"
)

// Storage is a vector store holding named collections of points.
type Storage interface {
	// CreateCollection declares the vector dimension and distance of a new
	// collection.
	CreateCollection(ctx context.Context, name string, dimension int, distance domain.Distance) error
	DeleteCollection(ctx context.Context, name string) error
	// CollectionInfo fails with domain.ErrCollectionNotFound for unknown names.
	CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error)
	// Upsert writes points and returns once the store has acknowledged them.
	// A point with an existing ID replaces the stored one.
	Upsert(ctx context.Context, collection string, points []domain.Point) error
	// Search returns at most req.Limit points, best match first.
	Search(ctx context.Context, collection string, req domain.SearchRequest) ([]domain.ScoredPoint, error)
	Close() error
}

// CheckDimension rejects points whose vectors do not have dim elements.
func CheckDimension(points []domain.Point, dim int) error {
	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("%w: point %d has %d dimensions, collection has %d",
				domain.ErrDimensionMismatch, p.ID, len(p.Vector), dim)
		}
	}
	return nil
}
