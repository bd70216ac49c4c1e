package domain

import "errors"

// Failure kinds surfaced by the pipeline. Components wrap the upstream error
// text around one of these with %w.
var (
	ErrChunkDecode   = errors.New("chunk decode failed")
	ErrSegmentation  = errors.New("segmentation failed")
	ErrPoolExhausted = errors.New("identifier pool exhausted")
	ErrEmbedding     = errors.New("embedding failed")
	ErrArityMismatch = errors.New("ids, texts and vectors differ in length")
	ErrUpload        = errors.New("upload failed")
	ErrQuery         = errors.New("query failed")

	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrCollectionNotFound = errors.New("collection not found")
)
