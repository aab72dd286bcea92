package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const parseSnippetLen = 120

// ParseError reports that a model response could not be decoded as JSON.
// Snippet carries the start of the offending content for diagnostics.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("response is not valid JSON: %v (content starts: %q)", e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseJSON decodes a model response into T, tolerating the usual framing
// noise: markdown code fences and prose around the JSON payload. Recovery
// tries a direct decode, then fence stripping, then the outermost object or
// array; a *ParseError is returned when all fail.
func ParseJSON[T any](content string) (T, error) {
	var out T

	trimmed := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}

	if stripped, ok := stripCodeFences(trimmed); ok {
		if err := json.Unmarshal([]byte(stripped), &out); err == nil {
			return out, nil
		}
	}

	if obj, ok := outermost(trimmed, '{', '}'); ok {
		if err := json.Unmarshal([]byte(obj), &out); err == nil {
			return out, nil
		}
	}

	if arr, ok := outermost(trimmed, '[', ']'); ok {
		if err := json.Unmarshal([]byte(arr), &out); err == nil {
			return out, nil
		}
	}

	err := json.Unmarshal([]byte(trimmed), &out)
	return out, &ParseError{Snippet: snippet(trimmed), Err: err}
}

// stripCodeFences removes a leading ``` or ```json fence and the matching
// closing fence.
func stripCodeFences(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return "", false
	}
	body := s[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}

// outermost extracts the substring spanning the first open delimiter to the
// last matching close delimiter.
func outermost(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(s, close)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func snippet(s string) string {
	if len(s) > parseSnippetLen {
		return s[:parseSnippetLen]
	}
	return s
}
