package publisher

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// textKeys are tried in order when content is an object.
var textKeys = []string{"caption", "text", "message", "body"}

// ExtractTextContent returns content itself when it is a string, otherwise
// the first non-empty caption, text, message or body field. Anything else
// yields "".
func ExtractTextContent(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return ""
		}
		return ExtractTextContent(decoded)
	case map[string]any:
		for _, k := range textKeys {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
	case map[string]string:
		for _, k := range textKeys {
			if s := v[k]; s != "" {
				return s
			}
		}
	}
	return ""
}

// extractField reads a named string field from object content.
func extractField(content any, key string) string {
	switch v := content.(type) {
	case map[string]any:
		s, _ := v[key].(string)
		return s
	case map[string]string:
		return v[key]
	}
	return ""
}

// truncate shortens s to at most n runes on a word boundary when possible.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)[:n]
	if i := strings.LastIndex(string(r), " "); i > n/2 {
		return strings.TrimSpace(string(r)[:i])
	}
	return string(r)
}

// firstLine returns the first non-empty line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
