package vision

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON pulls the JSON object out of a model reply. A fenced code
// block wins; otherwise the span from the first '{' to the last '}' is
// taken as a best effort.
func extractJSON(text string) string {
	if m := fenceRe.FindStringSubmatch(text); len(m) == 2 && m[1] != "" {
		return strings.TrimSpace(m[1])
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first >= 0 && last > first {
		return strings.TrimSpace(text[first : last+1])
	}

	return strings.TrimSpace(text)
}
