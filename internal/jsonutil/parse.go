// Package jsonutil decodes JSON objects out of language-model responses, which
// may arrive bare, wrapped in markdown code fences, or surrounded by prose.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoObject is returned when the text contains no JSON object at all.
var ErrNoObject = errors.New("no JSON object found")

// StripMarkdownFences removes a ```json ... ``` (or bare ```) wrapper.
// Text without fences is returned trimmed and otherwise unchanged.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	end := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:end], "\n"))
}

// ExtractObject returns the span from the first '{' to the last '}'.
func ExtractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", ErrNoObject
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("%w: unterminated object", ErrNoObject)
	}
	return text[start : end+1], nil
}

// ParseObject strips fences, isolates the JSON object and unmarshals it into T.
// The error carries a bounded preview of the offending text.
func ParseObject[T any](raw string) (T, error) {
	var zero T

	text := StripMarkdownFences(raw)
	obj, err := ExtractObject(text)
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var result T
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(obj, 200))
	}
	return result, nil
}

// Preview truncates s to at most n bytes, marking the cut with "...".
func Preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
