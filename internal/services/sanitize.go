package services

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var freeTextPolicy = bluemonday.StrictPolicy()

// sanitizeFreeText strips markup from operator-entered text, composes accents (NFC) and bounds
// its length in runes.
func sanitizeFreeText(value string, maxRunes int) string {
	cleaned := strings.TrimSpace(norm.NFC.String(html.UnescapeString(freeTextPolicy.Sanitize(value))))
	if maxRunes <= 0 || utf8.RuneCountInString(cleaned) <= maxRunes {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:maxRunes]))
}
