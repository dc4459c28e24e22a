package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults for gibberish detection, overridable via GIBBERISH_* env vars.
const (
	DefaultReplacementRatio = 0.05
	DefaultUnprintableRatio = 0.10
	DefaultMinTextLength    = 20
)

// GibberishConfig holds the thresholds for broken-page detection.
type GibberishConfig struct {
	// ReplacementRatio is the maximum tolerated share of U+FFFD runes.
	ReplacementRatio float64
	// UnprintableRatio is the maximum tolerated share of control,
	// unassigned, private-use and surrogate runes.
	UnprintableRatio float64
	// MinTextLength is the minimum trimmed rune count below which a page
	// is never judged; shorter pages are likely blank.
	MinTextLength int
}

// DefaultGibberishConfig returns the production thresholds.
func DefaultGibberishConfig() GibberishConfig {
	return GibberishConfig{
		ReplacementRatio: DefaultReplacementRatio,
		UnprintableRatio: DefaultUnprintableRatio,
		MinTextLength:    DefaultMinTextLength,
	}
}

// IsGibberish reports whether extracted page text looks like garbled
// output from a broken PDF font encoding. All ratios are over the raw
// rune count of the input, not its byte length.
func (c GibberishConfig) IsGibberish(text string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < c.MinTextLength {
		return false
	}

	total := utf8.RuneCountInString(text)

	replacements := strings.Count(text, "�")
	if float64(replacements)/float64(total) > c.ReplacementRatio {
		return true
	}

	bad := 0
	for _, r := range text {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		}
		if isUnprintable(r) {
			bad++
		}
	}
	return float64(bad)/float64(total) > c.UnprintableRatio
}

// isUnprintable reports whether the rune falls in the Cc, Cn, Co or Cs
// Unicode categories. Cn has no range table; a rune is unassigned when it
// belongs to no assigned category.
func isUnprintable(r rune) bool {
	if unicode.In(r, unicode.Cc, unicode.Co, unicode.Cs) {
		return true
	}
	return !unicode.In(r, unicode.L, unicode.M, unicode.N, unicode.P, unicode.S, unicode.Z, unicode.Cf)
}
