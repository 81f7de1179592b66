package trello

import (
	"regexp"
	"strings"
)

var cardURLPattern = regexp.MustCompile(`trello\.com/c/([a-zA-Z0-9]+)`)

// IsCardURL reports whether s looks like a Trello link rather than a
// registration number.
func IsCardURL(s string) bool {
	return strings.Contains(strings.ToLower(s), "trello.com")
}

// CardIDFromURL extracts the short link from a card URL.
func CardIDFromURL(s string) (string, bool) {
	m := cardURLPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// CardURL builds the canonical URL for a short link.
func CardURL(shortLink string) string {
	return "https://trello.com/c/" + shortLink
}
