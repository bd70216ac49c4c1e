package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"segrag/internal/domain"
	"segrag/internal/vectorstore"
)

var (
	keyMeta      = []byte("_meta")
	bucketPoints = []byte("points")
)

type meta struct {
	Dimension int             `json:"dimension"`
	Distance  domain.Distance `json:"distance"`
}

type storedPoint struct {
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Storage keeps each collection in its own top-level bucket of a bbolt
// file. Search is a full scan.
type Storage struct {
	db *bbolt.DB
}

func NewStorage(path string) (*Storage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) CreateCollection(_ context.Context, name string, dimension int, distance domain.Distance) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucket([]byte(name))
		if err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		data, err := json.Marshal(meta{Dimension: dimension, Distance: distance})
		if err != nil {
			return err
		}
		if err := b.Put(keyMeta, data); err != nil {
			return err
		}
		_, err = b.CreateBucket(bucketPoints)
		return err
	})
}

func (s *Storage) DeleteCollection(_ context.Context, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(name))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
		}
		return err
	})
}

func (s *Storage) CollectionInfo(_ context.Context, name string) (domain.CollectionInfo, error) {
	info := domain.CollectionInfo{Name: name}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, m, err := open(tx, name)
		if err != nil {
			return err
		}
		info.Dimension = m.Dimension
		info.Distance = m.Distance
		info.PointsCount = uint64(b.Bucket(bucketPoints).Stats().KeyN)
		return nil
	})
	return info, err
}

// Upsert validates the whole batch before writing any point.
func (s *Storage) Upsert(_ context.Context, collection string, points []domain.Point) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, m, err := open(tx, collection)
		if err != nil {
			return err
		}
		if err := vectorstore.CheckDimension(points, m.Dimension); err != nil {
			return err
		}
		pb := b.Bucket(bucketPoints)
		for _, p := range points {
			data, err := json.Marshal(storedPoint{Vector: p.Vector, Payload: p.Payload})
			if err != nil {
				return fmt.Errorf("encode point %d: %w", p.ID, err)
			}
			if err := pb.Put(idKey(p.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) Search(_ context.Context, collection string, req domain.SearchRequest) ([]domain.ScoredPoint, error) {
	var (
		hits     []domain.ScoredPoint
		distance domain.Distance
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, m, err := open(tx, collection)
		if err != nil {
			return err
		}
		if len(req.Vector) != m.Dimension {
			return fmt.Errorf("%w: query has %d dimensions, collection has %d",
				domain.ErrDimensionMismatch, len(req.Vector), m.Dimension)
		}
		distance = m.Distance
		return b.Bucket(bucketPoints).ForEach(func(k, v []byte) error {
			var sp storedPoint
			if err := json.Unmarshal(v, &sp); err != nil {
				return fmt.Errorf("decode point %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if !vectorstore.MatchFilter(sp.Payload, req.Filter) {
				return nil
			}
			hit := domain.ScoredPoint{
				ID:      binary.BigEndian.Uint64(k),
				Score:   vectorstore.Score(m.Distance, req.Vector, sp.Vector),
				Payload: sp.Payload,
			}
			if req.WithVector {
				hit.Vector = sp.Vector
			}
			hits = append(hits, hit)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vectorstore.Rank(distance, hits, req.Limit), nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func open(tx *bbolt.Tx, name string) (*bbolt.Bucket, meta, error) {
	var m meta
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, m, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err := json.Unmarshal(b.Get(keyMeta), &m); err != nil {
		return nil, m, fmt.Errorf("collection %s metadata: %w", name, err)
	}
	return b, m, nil
}

func idKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
