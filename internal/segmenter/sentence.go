package segmenter

import (
	"context"
	"regexp"
	"strings"
)

// Sentence groups regex-detected sentences into segments without calling a
// model.
type Sentence struct {
	sentencesPerSegment int
	splitter            *regexp.Regexp
}

// NewSentence groups sentencesPerSegment sentences into each segment.
func NewSentence(sentencesPerSegment int) *Sentence {
	if sentencesPerSegment <= 0 {
		sentencesPerSegment = 1
	}
	return &Sentence{
		sentencesPerSegment: sentencesPerSegment,
		splitter:            regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

// Segment splits chunk on sentence terminators. It never fails.
func (s *Sentence) Segment(_ context.Context, chunk string) ([]string, error) {
	return s.group(s.sentences(chunk)), nil
}

// MaxSegments is exact: splitting is deterministic.
func (s *Sentence) MaxSegments(chunk string) int {
	return len(s.group(s.sentences(chunk)))
}

func (s *Sentence) sentences(chunk string) []string {
	var sentences []string
	last := 0
	for _, loc := range s.splitter.FindAllStringIndex(chunk, -1) {
		sentences = append(sentences, chunk[loc[0]:loc[1]])
		last = loc[1]
	}
	// Text after the last terminator is still content.
	if t := strings.TrimSpace(chunk[last:]); t != "" {
		sentences = append(sentences, t)
	}
	return sentences
}

func (s *Sentence) group(sentences []string) []string {
	var segments []string
	for i := 0; i < len(sentences); i += s.sentencesPerSegment {
		end := min(i+s.sentencesPerSegment, len(sentences))
		parts := make([]string, 0, end-i)
		for _, p := range sentences[i:end] {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 0 {
			segments = append(segments, strings.Join(parts, " "))
		}
	}
	return segments
}
