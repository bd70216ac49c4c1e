package tokenizer

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"

	"segrag/internal/domain"
)

// DefaultEncoding is the BPE vocabulary used when none is configured.
const DefaultEncoding = "cl100k_base"

// Encoder turns text into token codes and back.
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) (string, error)
}

var loaderOnce sync.Once

// Tiktoken is an Encoder backed by an OpenAI BPE vocabulary. The ranks are
// compiled into the binary, nothing is downloaded.
type Tiktoken struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding, e.g. "cl100k_base".
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{name: encoding, enc: enc}, nil
}

// Name returns the encoding name.
func (t *Tiktoken) Name() string { return t.name }

// Encode treats special tokens as ordinary text.
func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode fails when the tokens do not decode to valid UTF-8, which happens
// when the slice starts or ends inside a multi-byte character.
func (t *Tiktoken) Decode(tokens []int) (string, error) {
	s := t.enc.Decode(tokens)
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: %d tokens decode to invalid UTF-8", domain.ErrChunkDecode, len(tokens))
	}
	return s, nil
}
