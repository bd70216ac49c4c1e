package pipeline

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"testing"
	"time"

	"segrag/internal/chunker"
	"segrag/internal/domain"
	"segrag/internal/embedding"
	"segrag/internal/embedding/hashing"
	"segrag/internal/idpool"
	"segrag/internal/llm"
	"segrag/internal/segmenter"
	"segrag/internal/vectorstore/memory"
)

// wordEncoder turns every word plus its trailing whitespace into one token.
type wordEncoder struct {
	pieces []string
	ids    map[string]int
}

var wordRe = regexp.MustCompile(`\S+\s*`)

func newWordEncoder() *wordEncoder { return &wordEncoder{ids: map[string]int{}} }

func (e *wordEncoder) Encode(text string) []int {
	var tokens []int
	for _, p := range wordRe.FindAllString(text, -1) {
		id, ok := e.ids[p]
		if !ok {
			id = len(e.pieces)
			e.pieces = append(e.pieces, p)
			e.ids[p] = id
		}
		tokens = append(tokens, id)
	}
	return tokens
}

func (e *wordEncoder) Decode(tokens []int) (string, error) {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(e.pieces[t])
	}
	return b.String(), nil
}

// word spells n in base 26 so every generated word is letters only.
func word(n int) string {
	var b []byte
	for {
		b = append([]byte{byte('a' + n%26)}, b...)
		n /= 26
		if n == 0 {
			break
		}
	}
	return "q" + string(b)
}

// document builds words/10 sentences of ten distinct words each.
func document(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = word(i)
		if i%10 == 9 {
			parts[i] += "."
		}
	}
	return strings.Join(parts, " ")
}

type fakeChat struct{ reply string }

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) Chat(context.Context, llm.ChatRequest) (string, error) { return f.reply, nil }

// flakyEmbedder fails the calls listed in failOn (1-based).
type flakyEmbedder struct {
	*hashing.Embedder
	calls  int
	failOn map[int]bool
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failOn[f.calls] {
		return nil, errors.New("upstream unavailable")
	}
	return f.Embedder.Embed(ctx, texts)
}

func newService(t *testing.T, seg segmenter.Segmenter, emb embedding.Embedder, opts Options) (*Service, *memory.Storage) {
	t.Helper()
	store := memory.NewStorage()
	if opts.Collection == "" {
		opts.Collection = "book"
	}
	if opts.IDStrategy == "" {
		opts.IDStrategy = idpool.Counter
	}
	svc := New(chunker.NewTokenChunker(newWordEncoder(), 4500), seg, emb, store, opts, nil)
	if _, err := svc.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}
	return svc, store
}

func TestIngestThenQuery(t *testing.T) {
	svc, store := newService(t, segmenter.NewSentence(10), hashing.NewEmbedder(256), Options{})
	ctx := context.Background()
	doc := document(12000)

	report, err := svc.Ingest(ctx, "book.txt", doc)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Chunks != 3 || report.Segments != 120 || report.Points != 120 {
		t.Fatalf("report = %+v", report)
	}
	if report.RunID == "" {
		t.Fatal("missing run id")
	}
	info, err := svc.CollectionInfo(ctx)
	if err != nil || info.PointsCount != 120 {
		t.Fatalf("info = %+v, %v", info, err)
	}

	segments, _ := segmenter.NewSentence(10).Segment(ctx, doc)
	question := segments[7]
	hits, err := svc.Query(ctx, question, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 5 {
		t.Fatalf("hits = %d, want 5", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("scores not descending: %v then %v", hits[i-1].Score, hits[i].Score)
		}
	}
	top := hits[0]
	if top.Text() != question {
		t.Fatalf("top hit = %q", top.Text())
	}
	if top.ID != math.MaxInt64-7 {
		t.Fatalf("top id = %d, want counter id %d", top.ID, uint64(math.MaxInt64-7))
	}
	if top.Payload[domain.PayloadRunID] != report.RunID || top.Payload[domain.PayloadSource] != "book.txt" {
		t.Fatalf("payload = %v", top.Payload)
	}

	// Re-ingesting with the same counter start overwrites instead of duplicating.
	if _, err := svc.Ingest(ctx, "book.txt", doc); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	info, _ = store.CollectionInfo(ctx, "book")
	if info.PointsCount != 120 {
		t.Fatalf("points after re-ingest = %d", info.PointsCount)
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	svc, _ := newService(t, segmenter.NewSentence(1), hashing.NewEmbedder(64), Options{})
	report, err := svc.Ingest(context.Background(), "empty.txt", "")
	if err != nil || report.Chunks != 0 || report.Points != 0 {
		t.Fatalf("report = %+v, err = %v", report, err)
	}
}

func TestIngestWithModelSegmenter(t *testing.T) {
	chat := &fakeChat{reply: "first part~>_^~ ~>_^~second part~>_^~"}
	seg := segmenter.NewLLM(chat, segmenter.Config{Model: "fake"}, nil)
	svc, _ := newService(t, seg, hashing.NewEmbedder(64), Options{
		IDStrategy: idpool.Random,
		IDOptions:  idpool.Options{Seed: 42},
	})
	report, err := svc.Ingest(context.Background(), "a.txt", document(100))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Chunks != 1 || report.Segments != 2 || report.Points != 2 {
		t.Fatalf("report = %+v", report)
	}
	hits, err := svc.Query(context.Background(), "second part", 1)
	if err != nil || len(hits) != 1 || hits[0].Text() != "second part" {
		t.Fatalf("hits = %+v, err = %v", hits, err)
	}
	if hits[0].ID == 0 || hits[0].ID > math.MaxInt64 {
		t.Fatalf("random id %d out of range", hits[0].ID)
	}
}

func TestIngestPoolCoversModelOutput(t *testing.T) {
	fields := make([]string, 100)
	for i := range fields {
		fields[i] = "sentence " + word(i) + "."
	}
	chat := &fakeChat{reply: strings.Join(fields, segmenter.DefaultDelimiter)}
	seg := segmenter.NewLLM(chat, segmenter.Config{Model: "fake"}, nil)
	svc, store := newService(t, seg, hashing.NewEmbedder(64), Options{})

	report, err := svc.Ingest(context.Background(), "book.txt", document(12000))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Chunks != 3 || report.Segments != 300 || report.Points != 300 {
		t.Fatalf("report = %+v", report)
	}
	info, _ := store.CollectionInfo(context.Background(), "book")
	if info.PointsCount != 300 {
		t.Fatalf("stored = %d, want 300", info.PointsCount)
	}
}

func TestPoolSize(t *testing.T) {
	chunks := []string{document(30), document(20)}
	llmSeg := segmenter.NewLLM(&fakeChat{}, segmenter.Config{MaxOutputTokens: 50}, nil)
	cases := []struct {
		name string
		seg  segmenter.Segmenter
		opts Options
		want int
	}{
		{"explicit size", llmSeg, Options{PoolSize: 7, MaxSegmentsPerChunk: 3}, 7},
		{"per chunk bound", llmSeg, Options{MaxSegmentsPerChunk: 3}, 6},
		{"model reply bound", llmSeg, Options{}, 102},
		{"sentence count", segmenter.NewSentence(2), Options{}, 3},
		{"unbounded segmenter", segmenterFunc(nil), Options{}, 2 * DefaultMaxSegmentsPerChunk},
	}
	for _, tc := range cases {
		svc := New(nil, tc.seg, hashing.NewEmbedder(8), memory.NewStorage(), tc.opts, nil)
		if got := svc.poolSize(chunks); got != tc.want {
			t.Errorf("%s: pool size = %d, want %d", tc.name, got, tc.want)
		}
	}
}

type segmenterFunc func(context.Context, string) ([]string, error)

func (f segmenterFunc) Segment(ctx context.Context, chunk string) ([]string, error) {
	return f(ctx, chunk)
}

func TestIngestAbortsOnEmbeddingFailure(t *testing.T) {
	emb := &flakyEmbedder{Embedder: hashing.NewEmbedder(64), failOn: map[int]bool{2: true}}
	svc, store := newService(t, segmenter.NewSentence(10), emb, Options{})
	report, err := svc.Ingest(context.Background(), "book.txt", document(12000))
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
	if report.Points != 45 {
		t.Fatalf("points = %d, want only the first chunk", report.Points)
	}
	info, _ := store.CollectionInfo(context.Background(), "book")
	if info.PointsCount != 45 {
		t.Fatalf("stored = %d", info.PointsCount)
	}
}

func TestIngestRetriesEmbedding(t *testing.T) {
	emb := &flakyEmbedder{Embedder: hashing.NewEmbedder(64), failOn: map[int]bool{1: true}}
	svc, _ := newService(t, segmenter.NewSentence(10), emb, Options{MaxRetries: 1, CallTimeout: time.Second})
	report, err := svc.Ingest(context.Background(), "a.txt", document(200))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Points != 2 || emb.calls != 2 {
		t.Fatalf("points = %d, calls = %d", report.Points, emb.calls)
	}
}

func TestIngestEmbedBatches(t *testing.T) {
	emb := &flakyEmbedder{Embedder: hashing.NewEmbedder(64)}
	svc, _ := newService(t, segmenter.NewSentence(1), emb, Options{EmbedBatchSize: 4})
	report, err := svc.Ingest(context.Background(), "a.txt", document(100))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Points != 10 || emb.calls != 3 {
		t.Fatalf("points = %d, calls = %d, want 10 points in 3 calls", report.Points, emb.calls)
	}
}

func TestIngestPoolExhausted(t *testing.T) {
	svc, store := newService(t, segmenter.NewSentence(1), hashing.NewEmbedder(64), Options{PoolSize: 3})
	_, err := svc.Ingest(context.Background(), "a.txt", document(100))
	if !errors.Is(err, domain.ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
	info, _ := store.CollectionInfo(context.Background(), "book")
	if info.PointsCount != 0 {
		t.Fatalf("stored = %d, want 0", info.PointsCount)
	}
}

func TestQueryErrors(t *testing.T) {
	svc, _ := newService(t, segmenter.NewSentence(1), hashing.NewEmbedder(64), Options{})
	if _, err := svc.Query(context.Background(), "anything", 0); !errors.Is(err, domain.ErrQuery) {
		t.Fatalf("k=0 err = %v", err)
	}
	hits, err := svc.Query(context.Background(), "anything", 3)
	if err != nil || len(hits) != 0 {
		t.Fatalf("empty collection: hits = %v, err = %v", hits, err)
	}
	if err := svc.DeleteCollection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Query(context.Background(), "anything", 3); !errors.Is(err, domain.ErrQuery) || !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("missing collection err = %v", err)
	}
}

// shortEmbedder drops the last component of every vector.
type shortEmbedder struct{ *hashing.Embedder }

func (e shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := e.Embedder.Embed(ctx, texts)
	for i := range out {
		out[i] = out[i][:len(out[i])-1]
	}
	return out, err
}

func TestQueryRejectsWrongDimension(t *testing.T) {
	svc, _ := newService(t, segmenter.NewSentence(1), shortEmbedder{hashing.NewEmbedder(64)}, Options{})
	_, err := svc.Query(context.Background(), "anything", 3)
	if !errors.Is(err, domain.ErrQuery) || !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestEnsureCollectionDimensionMismatch(t *testing.T) {
	store := memory.NewStorage()
	ctx := context.Background()
	if err := store.CreateCollection(ctx, "book", 32, domain.DistanceCosine); err != nil {
		t.Fatal(err)
	}
	svc := New(chunker.NewTokenChunker(newWordEncoder(), 100), segmenter.NewSentence(1),
		hashing.NewEmbedder(64), store, Options{Collection: "book", IDStrategy: idpool.Counter}, nil)
	if _, err := svc.EnsureCollection(ctx); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	if retryDelay(0) != 200*time.Millisecond || retryDelay(2) != 800*time.Millisecond || retryDelay(10) != 5*time.Second {
		t.Fatal("unexpected backoff")
	}
	for _, attempt := range []int{4, 5, 36, 63, 1000} {
		if d := retryDelay(attempt); d <= 0 || d > 5*time.Second {
			t.Fatalf("retryDelay(%d) = %v", attempt, d)
		}
	}
	if retryDelay(63) != 5*time.Second {
		t.Fatalf("retryDelay(63) = %v", retryDelay(63))
	}
}
