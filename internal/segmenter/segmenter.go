package segmenter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"segrag/internal/domain"
	"segrag/internal/llm"
)

// DefaultMaxOutputTokens bounds the length of the model's reply.
const DefaultMaxOutputTokens = 7000

// Segmenter splits one chunk into ordered segments.
type Segmenter interface {
	Segment(ctx context.Context, chunk string) ([]string, error)
}

// Bounded is implemented by segmenters that know the most segments a chunk
// can yield.
type Bounded interface {
	MaxSegments(chunk string) int
}

// Config configures the model-backed segmenter.
type Config struct {
	Model           string
	MaxOutputTokens int
	Delimiter       string
	EmptyPolicy     EmptyPolicy
	// Context describes where the text comes from, e.g. "Chapter 1 of the
	// book 'Rust in Action'". Optional.
	Context string
}

// LLM asks a chat model to restructure a chunk into short segments separated
// by a delimiter.
type LLM struct {
	chat   llm.ChatClient
	cfg    Config
	logger *slog.Logger
}

// NewLLM returns a segmenter backed by chat, filling in config defaults.
func NewLLM(chat llm.ChatClient, cfg Config, logger *slog.Logger) *LLM {
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}
	if cfg.EmptyPolicy == "" {
		cfg.EmptyPolicy = DropEmpty
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{chat: chat, cfg: cfg, logger: logger}
}

// MaxSegments bounds the fields of one reply. Every delimiter costs at least
// one output token, so a reply of MaxOutputTokens tokens splits into at most
// MaxOutputTokens+1 fields.
func (s *LLM) MaxSegments(string) int { return s.cfg.MaxOutputTokens + 1 }

// Segment sends one request per chunk. There is no retry on malformed
// output; a reply without delimiters becomes a single segment.
func (s *LLM) Segment(ctx context.Context, chunk string) ([]string, error) {
	reply, err := s.chat.Chat(ctx, llm.ChatRequest{
		Model:     s.cfg.Model,
		Messages:  s.Messages(chunk),
		MaxTokens: s.cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSegmentation, s.chat.Name(), err)
	}
	if strings.TrimSpace(reply) == "" {
		return nil, fmt.Errorf("%w: %s returned no content", domain.ErrSegmentation, s.chat.Name())
	}
	segments := ParseReply(reply, s.cfg.Delimiter, s.cfg.EmptyPolicy)
	s.logger.Debug("chunk segmented",
		"chunk_chars", len(chunk),
		"reply_chars", len(reply),
		"segments", len(segments),
		"delimiters", strings.Count(reply, s.cfg.Delimiter),
	)
	return segments, nil
}

// Messages builds the system directive and the user message for a chunk.
func (s *LLM) Messages(chunk string) []llm.Message {
	d := s.cfg.Delimiter
	source := "a document"
	if s.cfg.Context != "" {
		source = s.cfg.Context
	}
	system := fmt.Sprintf("You restructure text into short, self-contained segments. "+
		"Keep every sentence and every code snippet exactly as written; do not summarize, "+
		"rephrase or add commentary. Output the segments in their original order and put the "+
		"marker %s between consecutive segments.", d)
	user := fmt.Sprintf(`You are examining %s. Split the text below into logically divided segments for further processing.
1. Break dense paragraphs into individual sentences; each sentence is one segment.
2. Treat every code snippet as a standalone segment, separate from the surrounding prose.
3. Use headings and other structural markers of the source to guide where segments begin.
Write the marker %s between segments and nothing else around them.

Text:
%s`, source, d, chunk)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}
