package geo

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	nonAlnum       = regexp.MustCompile(`[^a-z0-9]+`)
)

// NormalizeName folds a French place or river name into a plain-ASCII
// comparison key: diacritics removed, lowercased, "saint" collapsed to
// "st", punctuation turned into single spaces.
func NormalizeName(value string) string {
	folded, _, err := transform.String(foldDiacritics, value)
	if err != nil {
		folded = value
	}
	lowered := strings.ToLower(folded)
	lowered = strings.ReplaceAll(lowered, "saint", "st")
	lowered = strings.ReplaceAll(lowered, "'", " ")
	lowered = nonAlnum.ReplaceAllString(lowered, " ")
	return strings.TrimSpace(lowered)
}

// MatchesAllTokens reports whether every token appears in the normalized
// haystack.
func MatchesAllTokens(haystack string, tokens []string) bool {
	if haystack == "" || len(tokens) == 0 {
		return false
	}
	for _, token := range tokens {
		if !strings.Contains(haystack, token) {
			return false
		}
	}
	return true
}
