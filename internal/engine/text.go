package engine

import (
	"strings"
	"unicode/utf8"
)

// truncate shortens s to at most maxLen runes, ending in "..." when cut.
func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return strings.TrimSpace(string([]rune(s)[:maxLen-3])) + "..."
}

// normalizeKeywords lowercases, trims and dedupes keywords, splitting any
// that contain whitespace.
func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]bool)
	for _, k := range keywords {
		for _, f := range strings.Fields(strings.ToLower(k)) {
			if seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
