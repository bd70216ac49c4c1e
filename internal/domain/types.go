package domain

import (
	"fmt"
	"strings"
)

// Distance is the similarity metric a collection is created with.
type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
	DistanceEuclid Distance = "Euclid"
)

// ParseDistance accepts the metric name in any case. Empty means cosine.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return DistanceCosine, nil
	case "dot":
		return DistanceDot, nil
	case "euclid", "euclidean":
		return DistanceEuclid, nil
	}
	return "", fmt.Errorf("unknown distance %q", s)
}

// Payload keys written with every point.
const (
	PayloadText         = "text"
	PayloadSource       = "source"
	PayloadRunID        = "run_id"
	PayloadChunkIndex   = "chunk_index"
	PayloadSegmentIndex = "segment_index"
)

// Point is the durable unit stored in a collection. Upserting a point with
// an existing ID replaces it entirely.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      uint64
	Score   float32
	Vector  []float32
	Payload map[string]any
}

// Text returns the segment text stored in the payload, if any.
func (p ScoredPoint) Text() string {
	if v, ok := p.Payload[PayloadText].(string); ok {
		return v
	}
	return ""
}

// Filter restricts a search to points whose payload string fields equal the
// given values.
type Filter map[string]string

// SearchRequest is a similarity search against one collection.
type SearchRequest struct {
	Vector     []float32
	Limit      int
	Filter     Filter
	WithVector bool
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name        string
	PointsCount uint64
	Dimension   int
	Distance    Distance
}

// Record bundles one segment with everything needed to upsert it, so the
// id, text and vector of a segment never travel in separate slices.
type Record struct {
	ID           uint64
	Text         string
	Vector       []float32
	Source       string
	RunID        string
	ChunkIndex   int
	SegmentIndex int
}

// Bundle zips parallel id/text/vector slices into records. The slices must
// have equal length.
func Bundle(ids []uint64, texts []string, vectors [][]float32) ([]Record, error) {
	if len(ids) != len(texts) || len(ids) != len(vectors) {
		return nil, fmt.Errorf("%w: %d ids, %d texts, %d vectors",
			ErrArityMismatch, len(ids), len(texts), len(vectors))
	}
	records := make([]Record, len(ids))
	for i := range ids {
		records[i] = Record{ID: ids[i], Text: texts[i], Vector: vectors[i], SegmentIndex: i}
	}
	return records, nil
}

// Point converts the record to a storable point. The text is trimmed of
// surrounding whitespace.
func (r Record) Point() Point {
	payload := map[string]any{
		PayloadText:         strings.TrimSpace(r.Text),
		PayloadChunkIndex:   r.ChunkIndex,
		PayloadSegmentIndex: r.SegmentIndex,
	}
	if r.Source != "" {
		payload[PayloadSource] = r.Source
	}
	if r.RunID != "" {
		payload[PayloadRunID] = r.RunID
	}
	return Point{ID: r.ID, Vector: r.Vector, Payload: payload}
}
