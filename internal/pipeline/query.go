package pipeline

import (
	"context"
	"errors"
	"fmt"

	"segrag/internal/domain"
)

// Query embeds the question and returns up to k stored segments, best match
// first. An empty result is not an error.
func (s *Service) Query(ctx context.Context, question string, k int) ([]domain.ScoredPoint, error) {
	return s.QueryFiltered(ctx, question, k, nil)
}

// QueryFiltered is Query restricted to points whose payload matches filter.
func (s *Service) QueryFiltered(ctx context.Context, question string, k int, filter domain.Filter) ([]domain.ScoredPoint, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrQuery, k)
	}
	var vectors [][]float32
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = s.embedder.Embed(ctx, []string{question})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrQuery, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d vectors for one question", domain.ErrQuery, s.embedder.Name(), len(vectors))
	}
	if d := s.embedder.Dimension(); d > 0 && len(vectors[0]) != d {
		return nil, fmt.Errorf("%w: %w: %s returned %d dimensions, want %d",
			domain.ErrQuery, domain.ErrDimensionMismatch, s.embedder.Name(), len(vectors[0]), d)
	}
	var hits []domain.ScoredPoint
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		hits, err = s.store.Search(ctx, s.opts.Collection, domain.SearchRequest{
			Vector: vectors[0],
			Limit:  k,
			Filter: filter,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrQuery, err)
	}
	s.logger.Debug("query answered", "k", k, "hits", len(hits))
	return hits, nil
}

// EnsureCollection creates the collection with the embedder's dimension when
// it does not exist, and fails when an existing one disagrees with it. It
// returns the collection as found or created.
func (s *Service) EnsureCollection(ctx context.Context) (domain.CollectionInfo, error) {
	dim, err := s.dimension(ctx)
	if err != nil {
		return domain.CollectionInfo{}, err
	}
	var info domain.CollectionInfo
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = s.store.CollectionInfo(ctx, s.opts.Collection)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound):
		err = s.call(ctx, func(ctx context.Context) error {
			return s.store.CreateCollection(ctx, s.opts.Collection, dim, s.opts.Distance)
		})
		if err != nil {
			return info, err
		}
		s.logger.Info("collection created", "dimension", dim, "distance", s.opts.Distance)
		return domain.CollectionInfo{Name: s.opts.Collection, Dimension: dim, Distance: s.opts.Distance}, nil
	case err != nil:
		return info, err
	}
	if info.Dimension != dim {
		return info, fmt.Errorf("%w: collection %s has %d dimensions, %s produces %d",
			domain.ErrDimensionMismatch, s.opts.Collection, info.Dimension, s.embedder.Name(), dim)
	}
	return info, nil
}

// CollectionInfo reports on the configured collection.
func (s *Service) CollectionInfo(ctx context.Context) (domain.CollectionInfo, error) {
	var info domain.CollectionInfo
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = s.store.CollectionInfo(ctx, s.opts.Collection)
		return err
	})
	return info, err
}

// DeleteCollection drops the configured collection and all its points.
func (s *Service) DeleteCollection(ctx context.Context) error {
	return s.call(ctx, func(ctx context.Context) error {
		return s.store.DeleteCollection(ctx, s.opts.Collection)
	})
}

// dimension asks the embedder, probing the model once when it cannot tell
// without a call.
func (s *Service) dimension(ctx context.Context) (int, error) {
	if dim := s.embedder.Dimension(); dim > 0 {
		return dim, nil
	}
	var vectors [][]float32
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = s.embedder.Embed(ctx, []string{"dimension probe"})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return 0, fmt.Errorf("%w: %s returned no vector for the dimension probe", domain.ErrEmbedding, s.embedder.Name())
	}
	return len(vectors[0]), nil
}
