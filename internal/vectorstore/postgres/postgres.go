package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"segrag/internal/domain"
	"segrag/internal/vectorstore"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_]{1,48}$`)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS segrag_collections (
	name       TEXT PRIMARY KEY,
	dimension  INTEGER NOT NULL,
	distance   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Storage keeps each collection in its own pgvector table. Point ids are
// stored in a BIGINT column by reinterpreting their bits, so the full
// unsigned range round-trips.
type Storage struct {
	db *sql.DB
}

func NewStorage(ctx context.Context, databaseURL string) (*Storage, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) CreateCollection(ctx context.Context, name string, dimension int, distance domain.Distance) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO segrag_collections (name, dimension, distance) VALUES ($1, $2, $3)`,
		name, dimension, string(distance)); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE %s (
		id      BIGINT PRIMARY KEY,
		payload JSONB NOT NULL DEFAULT '{}',
		vector  vector(%d) NOT NULL
	)`, table, dimension)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table for %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM segrag_collections WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
		return fmt.Errorf("drop table for %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *Storage) CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error) {
	info := domain.CollectionInfo{Name: name}
	dim, distance, err := s.lookup(ctx, name)
	if err != nil {
		return info, err
	}
	info.Dimension, info.Distance = dim, distance
	table, _ := tableName(name)
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
		return info, fmt.Errorf("count points: %w", err)
	}
	info.PointsCount = uint64(count)
	return info, nil
}

// Upsert writes the batch in one transaction.
func (s *Storage) Upsert(ctx context.Context, collection string, points []domain.Point) error {
	dim, _, err := s.lookup(ctx, collection)
	if err != nil {
		return err
	}
	if err := vectorstore.CheckDimension(points, dim); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	table, _ := tableName(collection)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, payload, vector) VALUES ($1, $2::jsonb, $3::vector)
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, vector = EXCLUDED.vector`, table))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of point %d: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, int64(p.ID), string(payload), vectorToString(p.Vector)); err != nil {
			return fmt.Errorf("upsert point %d: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Storage) Search(ctx context.Context, collection string, req domain.SearchRequest) ([]domain.ScoredPoint, error) {
	_, distance, err := s.lookup(ctx, collection)
	if err != nil {
		return nil, err
	}
	table, _ := tableName(collection)
	filter, err := json.Marshal(req.Filter)
	if err != nil {
		return nil, err
	}
	if req.Filter == nil {
		filter = []byte("{}")
	}
	query := fmt.Sprintf(`SELECT id, payload, vector::text, vector %s $1::vector AS d
	          FROM %s
	          WHERE payload @> $2::jsonb
	          ORDER BY d
	          LIMIT $3`, operator(distance), table)

	rows, err := s.db.QueryContext(ctx, query, vectorToString(req.Vector), string(filter), req.Limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	defer rows.Close()

	var hits []domain.ScoredPoint
	for rows.Next() {
		var (
			id      int64
			payload []byte
			vec     string
			d       float64
		)
		if err := rows.Scan(&id, &payload, &vec, &d); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hit := domain.ScoredPoint{ID: uint64(id), Score: score(distance, d)}
		if err := json.Unmarshal(payload, &hit.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of point %d: %w", hit.ID, err)
		}
		if req.WithVector {
			if hit.Vector, err = parseVector(vec); err != nil {
				return nil, err
			}
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) lookup(ctx context.Context, name string) (int, domain.Distance, error) {
	if _, err := tableName(name); err != nil {
		return 0, "", err
	}
	var (
		dim      int
		distance string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT dimension, distance FROM segrag_collections WHERE name = $1`, name).Scan(&dim, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err != nil {
		return 0, "", fmt.Errorf("lookup collection %s: %w", name, err)
	}
	return dim, domain.Distance(distance), nil
}

func tableName(collection string) (string, error) {
	if !validName.MatchString(collection) {
		return "", fmt.Errorf("collection name %q must match %s", collection, validName)
	}
	return pq.QuoteIdentifier("segrag_" + collection), nil
}

// operator picks the pgvector operator whose ascending order is best first.
func operator(d domain.Distance) string {
	switch d {
	case domain.DistanceDot:
		return "<#>"
	case domain.DistanceEuclid:
		return "<->"
	default:
		return "<=>"
	}
}

func score(distance domain.Distance, d float64) float32 {
	switch distance {
	case domain.DistanceDot:
		return float32(-d)
	case domain.DistanceEuclid:
		return float32(d)
	default:
		return float32(1 - d)
	}
}

// vectorToString converts a float32 slice to pgvector text format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return []float32{}, nil
	}
	fields := strings.Split(body, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector %q: %w", s, err)
		}
		out[i] = float32(x)
	}
	return out, nil
}
