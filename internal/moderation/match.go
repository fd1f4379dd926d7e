package moderation

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\b\w+\b`)

// ContainsBannedWord reports whether text hits the banned-word set, first on
// exact word-boundary tokens, then on raw substrings. The substring pass
// defeats punctuation splitting and affixing at the cost of false positives
// on short banned words inside longer innocuous ones; that trade is
// intentional and must stay.
func ContainsBannedWord(text string, words []string) bool {
	if text == "" || len(words) == 0 {
		return false
	}

	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}

	lower := strings.ToLower(text)

	for _, token := range tokenPattern.FindAllString(lower, -1) {
		if _, ok := set[token]; ok {
			return true
		}
	}

	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}

	return false
}
