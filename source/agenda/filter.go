package agenda

import (
	"strings"
	"unicode/utf8"
)

// Filter decides whether an extracted text node looks like a cultural-event
// announcement. It is a precision filter against navigation and legal
// boilerplate, not a classifier: false positives and negatives are expected.
//
// The keyword lists are fixed at construction and never mutated.
type Filter struct {
	allow  []string
	deny   []string
	minLen int
}

// NewFilter builds a Filter from the configured keyword lists. Keywords are
// lower-cased once here; matching is case-insensitive substring matching.
func NewFilter(allow, deny []string, minLen int) *Filter {
	return &Filter{
		allow:  lowerAll(allow),
		deny:   lowerAll(deny),
		minLen: minLen,
	}
}

// Accept returns true when the text is longer than the minimum length,
// contains at least one allow-keyword and contains no deny-keyword.
func (f *Filter) Accept(text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= f.minLen {
		return false
	}

	lower := strings.ToLower(text)
	for _, kw := range f.deny {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	for _, kw := range f.allow {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
