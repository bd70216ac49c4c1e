package uploader

import (
	"context"
	"fmt"

	"segrag/internal/domain"
	"segrag/internal/vectorstore"
)

// Uploader writes segment records into one collection.
type Uploader struct {
	store      vectorstore.Storage
	collection string
	dimension  int
}

// New returns an uploader for collection. A dimension of 0 skips the local
// vector length check and leaves validation to the store.
func New(store vectorstore.Storage, collection string, dimension int) *Uploader {
	return &Uploader{store: store, collection: collection, dimension: dimension}
}

// Collection returns the target collection name.
func (u *Uploader) Collection() string { return u.collection }

// Upload stores texts[i] with vectors[i] under ids[i]. The three slices must
// have equal length; nothing is sent otherwise.
func (u *Uploader) Upload(ctx context.Context, ids []uint64, texts []string, vectors [][]float32) error {
	records, err := domain.Bundle(ids, texts, vectors)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}
	return u.UploadRecords(ctx, records)
}

// UploadRecords sends all records in a single blocking upsert.
func (u *Uploader) UploadRecords(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]domain.Point, len(records))
	for i, r := range records {
		points[i] = r.Point()
	}
	if u.dimension > 0 {
		if err := vectorstore.CheckDimension(points, u.dimension); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrUpload, err)
		}
	}
	if err := u.store.Upsert(ctx, u.collection, points); err != nil {
		return fmt.Errorf("%w: collection %s: %w", domain.ErrUpload, u.collection, err)
	}
	return nil
}
