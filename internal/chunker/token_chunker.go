package chunker

import (
	"fmt"

	"segrag/internal/tokenizer"
)

// DefaultMaxTokens keeps a chunk plus the segmentation prompt well inside a
// 16k context window.
const DefaultMaxTokens = 3000

// maxPullback is how many tokens a window end may move back to land on a
// character boundary. A UTF-8 rune spans at most four byte-level tokens.
const maxPullback = 3

// TokenChunker splits a document into chunks of at most maxTokens tokens.
type TokenChunker struct {
	enc       tokenizer.Encoder
	maxTokens int
}

// NewTokenChunker returns a chunker over enc. maxTokens <= 0 picks
// DefaultMaxTokens.
func NewTokenChunker(enc tokenizer.Encoder, maxTokens int) *TokenChunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &TokenChunker{enc: enc, maxTokens: maxTokens}
}

// MaxTokens returns the window size.
func (c *TokenChunker) MaxTokens() int { return c.maxTokens }

// Chunk encodes the whole document once and decodes consecutive,
// non-overlapping windows of the token stream. Window ends are decided on the
// token stream; decoded text is never re-split.
func (c *TokenChunker) Chunk(document string) ([]string, error) {
	tokens := c.enc.Encode(document)
	if len(tokens) == 0 {
		return nil, nil
	}
	chunks := make([]string, 0, len(tokens)/c.maxTokens+1)
	start := 0
	for start < len(tokens) {
		end := min(start+c.maxTokens, len(tokens))
		text, next, err := c.decodeWindow(tokens, start, end)
		if err != nil {
			return nil, fmt.Errorf("chunk %d (tokens %d-%d): %w", len(chunks), start, end, err)
		}
		chunks = append(chunks, text)
		start = next
	}
	return chunks, nil
}

// decodeWindow decodes tokens[start:end]. If the window ends inside a
// multi-byte character and more tokens follow, the end moves back so the
// split tokens start the next window instead.
func (c *TokenChunker) decodeWindow(tokens []int, start, end int) (string, int, error) {
	text, err := c.enc.Decode(tokens[start:end])
	if err == nil {
		return text, end, nil
	}
	if end == len(tokens) {
		return "", 0, err
	}
	for back := 1; back <= maxPullback && end-back > start; back++ {
		if text, perr := c.enc.Decode(tokens[start : end-back]); perr == nil {
			return text, end - back, nil
		}
	}
	return "", 0, err
}
