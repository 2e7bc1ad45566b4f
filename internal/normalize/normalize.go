// Package normalize prepares event-name strings for embedding. Raw extracted
// names vary in casing, punctuation, and boilerplate framing ("1st annual
// flood relief drive" vs "Flood Relief Drive"); normalizing before embedding
// keeps those variants close in vector space.
package normalize

import (
	"regexp"
	"strings"
)

var (
	ordinalPattern    = regexp.MustCompile(`\b(\d+)(st|nd|rd|th)\b`)
	punctuationChars  = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceCollaps = regexp.MustCompile(`\s+`)
)

// fillerWords are generic framing tokens that carry no event identity.
var fillerWords = map[string]bool{
	"a":        true,
	"an":       true,
	"the":      true,
	"of":       true,
	"in":       true,
	"at":       true,
	"on":       true,
	"for":      true,
	"and":      true,
	"annual":   true,
	"event":    true,
	"events":   true,
	"ceremony": true,
	"held":     true,
	"new":      true,
	"latest":   true,
	"ongoing":  true,
	"recent":   true,
	"various":  true,
}

// EventName lowercases an event name, strips punctuation, drops ordinal
// suffixes ("3rd" -> "3"), and removes generic filler words. Returns the
// original lowercased string when stripping would leave nothing.
func EventName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return ""
	}

	s := ordinalPattern.ReplaceAllString(lower, "$1")
	s = punctuationChars.ReplaceAllString(s, " ")

	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if !fillerWords[f] {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return whitespaceCollaps.ReplaceAllString(lower, " ")
	}
	return strings.Join(kept, " ")
}

// EventNames normalizes a slice of names, preserving order and length.
func EventNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = EventName(n)
	}
	return out
}
