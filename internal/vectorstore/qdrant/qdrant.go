package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"segrag/internal/domain"
)

// Storage is a minimal REST client to Qdrant.
type Storage struct {
	url    string
	apiKey string
	client *http.Client
}

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	u := cfg.URL
	if u == "" {
		u = "http://127.0.0.1:6333"
	}
	return &Storage{
		url:    u,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

// statusError carries a non-2xx response.
type statusError struct {
	method, url string
	status      int
	body        string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.url, e.status, e.body)
}

func (s *Storage) collectionURL(name string) string {
	return fmt.Sprintf("%s/collections/%s", s.url, url.PathEscape(name))
}

func (s *Storage) CreateCollection(ctx context.Context, name string, dimension int, distance domain.Distance) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": string(distance),
		},
	}
	return s.do(ctx, http.MethodPut, s.collectionURL(name), body, nil)
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	return s.notFound(name, s.do(ctx, http.MethodDelete, s.collectionURL(name), nil, nil))
}

func (s *Storage) CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error) {
	var resp struct {
		Result struct {
			PointsCount *uint64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, s.collectionURL(name), nil, &resp); err != nil {
		return domain.CollectionInfo{}, s.notFound(name, err)
	}
	info := domain.CollectionInfo{
		Name:      name,
		Dimension: resp.Result.Config.Params.Vectors.Size,
		Distance:  domain.Distance(resp.Result.Config.Params.Vectors.Distance),
	}
	if resp.Result.PointsCount != nil {
		info.PointsCount = *resp.Result.PointsCount
	}
	return info, nil
}

// Upsert waits for the points to be persisted before returning.
func (s *Storage) Upsert(ctx context.Context, collection string, points []domain.Point) error {
	wire := make([]map[string]any, len(points))
	for i, p := range points {
		wire[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}
	body := map[string]any{"points": wire}
	err := s.do(ctx, http.MethodPut, s.collectionURL(collection)+"/points?wait=true", body, nil)
	return s.notFound(collection, err)
}

func (s *Storage) Search(ctx context.Context, collection string, req domain.SearchRequest) ([]domain.ScoredPoint, error) {
	body := map[string]any{
		"vector":       req.Vector,
		"limit":        req.Limit,
		"with_payload": true,
		"with_vector":  req.WithVector,
	}
	if len(req.Filter) > 0 {
		must := make([]map[string]any, 0, len(req.Filter))
		for k, v := range req.Filter {
			must = append(must, map[string]any{"key": k, "match": map[string]any{"value": v}})
		}
		body["filter"] = map[string]any{"must": must}
	}
	var resp struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float32         `json:"score"`
			Payload map[string]any  `json:"payload"`
			Vector  []float32       `json:"vector"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL(collection)+"/points/search", body, &resp); err != nil {
		return nil, s.notFound(collection, err)
	}
	results := make([]domain.ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		id, err := strconv.ParseUint(string(r.ID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("qdrant returned non-numeric point id %s", r.ID)
		}
		results = append(results, domain.ScoredPoint{ID: id, Score: r.Score, Payload: r.Payload, Vector: r.Vector})
	}
	return results, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) notFound(name string, err error) error {
	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %v", domain.ErrCollectionNotFound, name, err)
	}
	return err
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{method: method, url: url, status: resp.StatusCode, body: string(bytes.TrimSpace(msg))}
	}
	if out != nil {
		dec := json.NewDecoder(resp.Body)
		return dec.Decode(out)
	}
	return nil
}
