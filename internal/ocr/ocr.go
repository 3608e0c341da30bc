// Package ocr reads registration text off cropped plate images.
package ocr

import (
	"context"
	"strings"
)

// Registration text length window. Reads outside it are treated as noise.
const (
	MinTextLen = 4
	MaxTextLen = 15
)

// TextExtractor turns an encoded plate crop into registration text. Extract
// returns an empty string when nothing legible was found; an error means
// the engine itself failed, which callers may treat as a degraded frame
// rather than a fatal condition.
type TextExtractor interface {
	Extract(ctx context.Context, img []byte) (string, error)
	Close() error
}

// Noop is the extractor wired in when text recognition is disabled. It
// never returns text, so every plate keeps a placeholder identity.
type Noop struct{}

func (Noop) Extract(context.Context, []byte) (string, error) { return "", nil }

func (Noop) Close() error { return nil }

var _ TextExtractor = Noop{}

// Normalize uppercases raw engine output and strips everything that cannot
// appear on a plate, including the stray spaces OCR inserts between
// character groups.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Plausible reports whether text is within the registration length window.
func Plausible(text string) bool {
	return len(text) >= MinTextLen && len(text) <= MaxTextLen
}
