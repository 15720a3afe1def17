package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

const defaultMaxRunes = 2000

// Sanitizer cleans operator-entered free text: markup is stripped, text is NFC-normalised,
// control characters are dropped and runs of whitespace collapse to one space.
type Sanitizer struct {
	policy   *bluemonday.Policy
	maxRunes int
}

// Option customises a Sanitizer.
type Option func(*Sanitizer)

// WithMaxRunes truncates cleaned text to n runes. Zero or less disables truncation.
func WithMaxRunes(n int) Option {
	return func(s *Sanitizer) {
		s.maxRunes = n
	}
}

// NewSanitizer returns a Sanitizer backed by bluemonday's strict policy.
func NewSanitizer(opts ...Option) *Sanitizer {
	s := &Sanitizer{
		policy:   bluemonday.StrictPolicy(),
		maxRunes: defaultMaxRunes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Sanitize returns the cleaned form of value. It is safe for concurrent use.
func (s *Sanitizer) Sanitize(value string) string {
	if s == nil {
		return strings.TrimSpace(value)
	}
	if strings.TrimSpace(value) == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(value))
	normalized := norm.NFC.String(stripped)

	var b strings.Builder
	b.Grow(len(normalized))
	pendingSpace := false
	runes := 0
	for _, r := range normalized {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			continue
		}
		if s.maxRunes > 0 && runes >= s.maxRunes {
			break
		}
		if pendingSpace {
			if s.maxRunes > 0 && runes+1 >= s.maxRunes {
				break
			}
			b.WriteByte(' ')
			runes++
			pendingSpace = false
		}
		b.WriteRune(r)
		runes++
	}
	return b.String()
}
