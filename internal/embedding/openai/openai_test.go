package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"segrag/internal/domain"
)

func newTestClient(t *testing.T, cfg Config, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	cfg.BaseURL = srv.URL
	cfg.APIKeyEnv = "TEST_OPENAI_KEY"
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestEmbedPreservesInputOrder(t *testing.T) {
	c := newTestClient(t, Config{Model: "text-embedding-ada-002"}, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.Model != "text-embedding-ada-002" || len(req.Input) != 3 {
			t.Errorf("unexpected request %+v", req)
		}
		// Items deliberately out of order.
		w.Write([]byte(`{"data":[
			{"index":2,"embedding":[2,2]},
			{"index":0,"embedding":[0,0]},
			{"index":1,"embedding":[1,1]}]}`))
	})

	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vector %d = %v", i, v)
		}
	}
	if c.Dimension() != 2 {
		t.Errorf("dimension = %d, want 2", c.Dimension())
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	c := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	})
	_, err := c.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	c := newTestClient(t, Config{Dimension: 3}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2]}]}`))
	})
	_, err := c.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestEmbedNoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, Config{}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := c.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, Config{MaxRetries: 2}, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2,3]}]}`))
	})
	vecs, err := c.Embed(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 1 || calls.Load() != 3 {
		t.Fatalf("vectors = %d, calls = %d", len(vecs), calls.Load())
	}
}

func TestEmbedClientError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, Config{MaxRetries: 3}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	})
	if _, err := c.Embed(context.Background(), []string{""}); !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx retried: %d calls", calls.Load())
	}
}

func TestRetryDelayCapped(t *testing.T) {
	cases := map[int]time.Duration{
		-1: 200 * time.Millisecond,
		0:  200 * time.Millisecond,
		3:  1600 * time.Millisecond,
		5:  5 * time.Second,
		36: 5 * time.Second,
		63: 5 * time.Second,
	}
	for attempt, want := range cases {
		if got := retryDelay(attempt); got != want {
			t.Errorf("retryDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}
