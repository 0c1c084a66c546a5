package normalize

import (
	"unicode"
	"unicode/utf8"
)

// ContentPredicate decides whether remote text is fit for display. It is a
// display heuristic for catching corrupted or undecoded payloads, not a
// security boundary.
type ContentPredicate func(content string) bool

// Thresholds used by LooksLikeText.
const (
	minHeuristicLength = 24   // shorter strings are always accepted
	minTextRatio       = 0.3  // letters, digits and emoji over total runes
	maxSpaceRatio      = 0.6  // whitespace over total runes
	maxBadRatio        = 0.05 // control and replacement runes over total runes
	blobLength         = 40   // unbroken base64-looking runs at least this long are rejected
)

// LooksLikeText is the default ContentPredicate. It rejects invalid UTF-8,
// text dominated by control or replacement characters, symbol soup with too
// few letters, mostly-whitespace strings and long base64-looking blobs.
func LooksLikeText(s string) bool {
	if s == "" {
		return true
	}
	if !utf8.ValidString(s) {
		return false
	}

	var total, text, space, bad, b64 int
	for _, r := range s {
		total++
		switch {
		case r == utf8.RuneError:
			bad++
		case r == '\n' || r == '\t' || r == '\r' || unicode.IsSpace(r):
			space++
		case unicode.IsControl(r):
			bad++
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.So, r):
			text++
		}
		if isBase64Rune(r) {
			b64++
		}
	}

	if bad > 0 && float64(bad) >= maxBadRatio*float64(total) {
		return false
	}
	if total < minHeuristicLength {
		return true
	}
	if float64(text) < minTextRatio*float64(total) {
		return false
	}
	if float64(space) > maxSpaceRatio*float64(total) {
		return false
	}
	if total >= blobLength && space == 0 && b64 == total {
		return false
	}
	return true
}

func isBase64Rune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
		r == '+' || r == '/' || r == '='
}
