package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ollama/ollama/api"

	"segrag/internal/domain"
)

func newTestEmbedder(t *testing.T, dim int, h http.HandlerFunc) *Embedder {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	return NewEmbedder(api.NewClient(u, srv.Client()), "all-minilm", dim)
}

func TestEmbedBatch(t *testing.T) {
	e := newTestEmbedder(t, 0, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.Model != "all-minilm" || len(req.Input) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"all-minilm","embeddings":[[0.1,0.2,0.3],[0.4,0.5,0.6]]}`))
	})
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[1]) != 3 || vecs[1][0] != float32(0.4) {
		t.Fatalf("vectors = %v", vecs)
	}
	if e.Dimension() != 3 {
		t.Errorf("dimension = %d", e.Dimension())
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	e := newTestEmbedder(t, 0, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"all-minilm","embeddings":[[0.1]]}`))
	})
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
}

func TestEmbedServerError(t *testing.T) {
	e := newTestEmbedder(t, 0, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model crashed"}`))
	})
	if _, err := e.Embed(context.Background(), []string{"a"}); !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
}
