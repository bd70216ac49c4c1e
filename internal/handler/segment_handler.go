package handler

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"

	"segrag/internal/domain"
	"segrag/internal/pipeline"
)

// Service is the pipeline surface exposed over HTTP.
type Service interface {
	Ingest(ctx context.Context, source, text string) (pipeline.Report, error)
	QueryFiltered(ctx context.Context, question string, k int, filter domain.Filter) ([]domain.ScoredPoint, error)
	CollectionInfo(ctx context.Context) (domain.CollectionInfo, error)
}

// MaxK caps the number of hits a single query may ask for.
const MaxK = 100

// SegmentHandler serves ingestion and search over one collection.
type SegmentHandler struct {
	svc Service
	// ingestMu keeps ingestion runs strictly one at a time.
	ingestMu sync.Mutex
}

func NewSegmentHandler(svc Service) *SegmentHandler {
	return &SegmentHandler{svc: svc}
}

// Register sets up segment routes.
func (h *SegmentHandler) Register(router fiber.Router) {
	router.Post("/query", h.Query)
	router.Post("/ingest", h.Ingest)
	router.Get("/collection", h.Collection)
}

type hit struct {
	ID      uint64         `json:"id"`
	Score   float32        `json:"score"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Query embeds a question and returns the closest segments.
func (h *SegmentHandler) Query(c fiber.Ctx) error {
	var body struct {
		Question string            `json:"question"`
		K        int               `json:"k"`
		Filter   map[string]string `json:"filter"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(body.Question) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "question is required"})
	}
	if body.K == 0 {
		body.K = 5
	}
	if body.K < 0 || body.K > MaxK {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "k must be between 1 and 100"})
	}

	points, err := h.svc.QueryFiltered(c.Context(), body.Question, body.K, body.Filter)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	hits := make([]hit, len(points))
	for i, p := range points {
		hits[i] = hit{ID: p.ID, Score: p.Score, Text: p.Text(), Payload: p.Payload}
	}
	return c.JSON(fiber.Map{"hits": hits})
}

// Ingest segments and stores one document. Concurrent requests wait for the
// running one to finish.
func (h *SegmentHandler) Ingest(c fiber.Ctx) error {
	var body struct {
		Source string `json:"source"`
		Text   string `json:"text"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if strings.TrimSpace(body.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}

	h.ingestMu.Lock()
	defer h.ingestMu.Unlock()
	report, err := h.svc.Ingest(c.Context(), body.Source, body.Text)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error(), "report": report})
	}
	return c.JSON(report)
}

func (h *SegmentHandler) Collection(c fiber.Ctx) error {
	info, err := h.svc.CollectionInfo(c.Context())
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"name":         info.Name,
		"points_count": info.PointsCount,
		"dimension":    info.Dimension,
		"distance":     info.Distance,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrSegmentation), errors.Is(err, domain.ErrEmbedding):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
