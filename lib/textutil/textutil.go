package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize collapses whitespace runs into a single space, trims the ends
// and casefolds to lowercase. All substring predicates operate on
// normalized text.
func Normalize(s string) string {
	s = whitespaceRegex.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ")
	return strings.ToLower(s)
}

// Contains reports whether needle appears in haystack, both normalized.
func Contains(haystack, needle string) bool {
	return strings.Contains(Normalize(haystack), Normalize(needle))
}

// ContainsAny reports whether any of the keywords appears in the text.
// The text is expected to already be normalized.
func ContainsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, Normalize(k)) {
			return true
		}
	}
	return false
}
