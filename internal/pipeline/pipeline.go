package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"segrag/internal/domain"
	"segrag/internal/embedding"
	"segrag/internal/idpool"
	"segrag/internal/segmenter"
	"segrag/internal/uploader"
	"segrag/internal/vectorstore"
)

// DefaultMaxSegmentsPerChunk sizes the identifier pool for segmenters that
// cannot bound their own output. It matches the bound of a model segmenter
// with the default reply length.
const DefaultMaxSegmentsPerChunk = segmenter.DefaultMaxOutputTokens + 1

// Chunker splits a document into bounded pieces.
type Chunker interface {
	Chunk(document string) ([]string, error)
}

// Options configures a Service. Zero values pick the defaults.
type Options struct {
	Collection string
	Distance   domain.Distance

	IDStrategy idpool.Strategy
	IDOptions  idpool.Options
	// PoolSize fixes the number of identifiers per run when positive.
	PoolSize int
	// MaxSegmentsPerChunk sizes the pool as chunks × MaxSegmentsPerChunk
	// when positive. Otherwise the segmenter's own bound is used.
	MaxSegmentsPerChunk int

	// EmbedBatchSize splits a chunk's segments into several embedding
	// calls. 0 sends them all at once.
	EmbedBatchSize int
	// CallTimeout bounds every remote call. 0 means no deadline.
	CallTimeout time.Duration
	// MaxRetries applies to embedding and upload calls only.
	MaxRetries int
}

// Report summarises one ingestion run.
type Report struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
	// ChunksDone counts chunks fully processed before the run ended.
	ChunksDone int           `json:"chunks_done"`
	Segments   int           `json:"segments"`
	Points     int           `json:"points"`
	Duration   time.Duration `json:"duration"`
}

// Service runs ingestion and queries against one collection.
type Service struct {
	chunker   Chunker
	segmenter segmenter.Segmenter
	embedder  embedding.Embedder
	store     vectorstore.Storage
	opts      Options
	logger    *slog.Logger
}

// New wires the ingestion and query stages over one collection.
func New(chunker Chunker, seg segmenter.Segmenter, embedder embedding.Embedder, store vectorstore.Storage, opts Options, logger *slog.Logger) *Service {
	if opts.Distance == "" {
		opts.Distance = domain.DistanceCosine
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		chunker:   chunker,
		segmenter: seg,
		embedder:  embedder,
		store:     store,
		opts:      opts,
		logger:    logger.With("collection", opts.Collection),
	}
}

func (s *Service) Collection() string { return s.opts.Collection }

func (s *Service) Embedder() embedding.Embedder { return s.embedder }

// Ingest chunks text and, one chunk at a time, segments, embeds and uploads
// it. The first failure aborts the run; chunks already uploaded stay.
func (s *Service) Ingest(ctx context.Context, source, text string) (Report, error) {
	started := time.Now()
	report := Report{RunID: uuid.NewString(), Source: source}
	log := s.logger.With("run_id", report.RunID, "source", source)

	chunks, err := s.chunker.Chunk(text)
	if err != nil {
		return report, err
	}
	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		log.Info("nothing to ingest")
		report.Duration = time.Since(started)
		return report, nil
	}

	pool, err := idpool.New(s.opts.IDStrategy, s.poolSize(chunks), s.opts.IDOptions)
	if err != nil {
		return report, fmt.Errorf("allocate ids: %w", err)
	}
	up := uploader.New(s.store, s.opts.Collection, s.embedder.Dimension())
	log.Info("ingest started", "chunks", len(chunks), "pool", pool.Size())

	for i, chunk := range chunks {
		var segments []string
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			segments, err = s.segmenter.Segment(ctx, chunk)
			return err
		})
		if err != nil {
			return s.finish(report, started), fmt.Errorf("chunk %d: %w", i, err)
		}
		if len(segments) == 0 {
			log.Warn("chunk produced no segments", "chunk", i)
			report.ChunksDone++
			continue
		}
		report.Segments += len(segments)

		ids, err := pool.Take(len(segments))
		if err != nil {
			return s.finish(report, started), fmt.Errorf("chunk %d: %w", i, err)
		}
		records := make([]domain.Record, len(segments))
		for j, text := range segments {
			records[j] = domain.Record{
				ID:           ids[j],
				Text:         text,
				Source:       source,
				RunID:        report.RunID,
				ChunkIndex:   i,
				SegmentIndex: j,
			}
		}
		if err := s.embed(ctx, records); err != nil {
			return s.finish(report, started), fmt.Errorf("chunk %d: %w", i, err)
		}
		err = s.retry(ctx, func(ctx context.Context) error {
			return up.UploadRecords(ctx, records)
		})
		if err != nil {
			return s.finish(report, started), fmt.Errorf("chunk %d: %w", i, err)
		}
		report.Points += len(records)
		report.ChunksDone++
		log.Info("chunk uploaded",
			"chunk", i+1,
			"of", len(chunks),
			"segments", len(segments),
			"ids_left", pool.Remaining(),
		)
	}

	report = s.finish(report, started)
	log.Info("ingest finished",
		"segments", report.Segments,
		"points", report.Points,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

// poolSize returns enough identifiers for the most segments the chunks can
// yield, unless a size or per-chunk bound is configured.
func (s *Service) poolSize(chunks []string) int {
	switch {
	case s.opts.PoolSize > 0:
		return s.opts.PoolSize
	case s.opts.MaxSegmentsPerChunk > 0:
		return len(chunks) * s.opts.MaxSegmentsPerChunk
	}
	b, ok := s.segmenter.(segmenter.Bounded)
	if !ok {
		return len(chunks) * DefaultMaxSegmentsPerChunk
	}
	n := 0
	for _, c := range chunks {
		n += b.MaxSegments(c)
	}
	return n
}

func (s *Service) finish(r Report, started time.Time) Report {
	r.Duration = time.Since(started)
	return r
}

// embed fills in the vector of every record, in batches of EmbedBatchSize.
func (s *Service) embed(ctx context.Context, records []domain.Record) error {
	batch := s.opts.EmbedBatchSize
	if batch <= 0 || batch > len(records) {
		batch = len(records)
	}
	for start := 0; start < len(records); start += batch {
		end := min(start+batch, len(records))
		texts := make([]string, 0, end-start)
		for _, r := range records[start:end] {
			texts = append(texts, r.Text)
		}
		var out [][]float32
		err := s.retry(ctx, func(ctx context.Context) error {
			var err error
			out, err = s.embedder.Embed(ctx, texts)
			return err
		})
		if err != nil {
			if !errors.Is(err, domain.ErrEmbedding) {
				err = fmt.Errorf("%w: %s: %w", domain.ErrEmbedding, s.embedder.Name(), err)
			}
			return err
		}
		if _, err := embedding.CheckBatch(s.embedder.Name(), texts, out, s.embedder.Dimension()); err != nil {
			return err
		}
		for j, v := range out {
			records[start+j].Vector = v
		}
	}
	return nil
}
