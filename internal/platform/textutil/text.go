package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup and collapses whitespace in user supplied display text such as
// product names and recipient names, then truncates to limit runes when limit > 0.
func SanitizeText(value string, limit int) string {
	// the policy entity-encodes what it keeps; stored text is plain, not HTML
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		cleaned = string([]rune(cleaned)[:limit])
	}
	return cleaned
}
