package segmenter

import (
	"fmt"
	"strings"
)

// DefaultDelimiter separates segments in a model reply. It is chosen to be
// very unlikely in prose or code.
const DefaultDelimiter = "~>_^~"

// EmptyPolicy decides what happens to empty fields in a reply, e.g. the one
// after a trailing delimiter.
type EmptyPolicy string

const (
	// DropEmpty removes fields that are empty after trimming whitespace.
	DropEmpty EmptyPolicy = "drop"
	// KeepEmpty keeps every field, empty ones included.
	KeepEmpty EmptyPolicy = "keep"
)

// ParseEmptyPolicy accepts "drop" or "keep". Empty means drop.
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch EmptyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DropEmpty:
		return DropEmpty, nil
	case KeepEmpty:
		return KeepEmpty, nil
	}
	return "", fmt.Errorf("unknown empty segment policy %q", s)
}

// ParseReply splits a reply into delimiter-separated fields in reply order.
// A reply without the delimiter is a single field. Fields are returned
// verbatim; only the drop policy looks at whitespace.
func ParseReply(reply, delimiter string, policy EmptyPolicy) []string {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	fields := strings.Split(reply, delimiter)
	if policy == KeepEmpty {
		return fields
	}
	out := fields[:0]
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	return out
}
