package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rankedFile struct {
	File     string `json:"file"`
	Priority int    `json:"priority"`
}

func TestParseJSONDirect(t *testing.T) {
	out, err := ParseJSON[map[string]string](`{"category": "web_service"}`)
	require.NoError(t, err)
	assert.Equal(t, "web_service", out["category"])
}

func TestParseJSONCodeFence(t *testing.T) {
	content := "```json\n{\"category\": \"cli_tool\"}\n```"
	out, err := ParseJSON[map[string]string](content)
	require.NoError(t, err)
	assert.Equal(t, "cli_tool", out["category"])
}

func TestParseJSONBareFence(t *testing.T) {
	content := "```\n[{\"file\": \"a.go\", \"priority\": 9}]\n```"
	out, err := ParseJSON[[]rankedFile](content)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a.go", out[0].File)
}

func TestParseJSONSurroundingProse(t *testing.T) {
	content := "Here is the classification you asked for:\n{\"category\": \"library\"}\nLet me know if you need anything else."
	out, err := ParseJSON[map[string]string](content)
	require.NoError(t, err)
	assert.Equal(t, "library", out["category"])
}

func TestParseJSONProseAroundArray(t *testing.T) {
	content := "The ranked files are:\n[{\"file\": \"auth.go\", \"priority\": 10}, {\"file\": \"util.go\", \"priority\": 2}]"
	out, err := ParseJSON[[]rankedFile](content)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 10, out[0].Priority)
}

func TestParseJSONFailure(t *testing.T) {
	content := "I could not produce the requested output."
	_, err := ParseJSON[map[string]string](content)
	require.Error(t, err)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, content, parseErr.Snippet)
}

func TestParseJSONFailureSnippetTruncated(t *testing.T) {
	content := strings.Repeat("x", 500)
	_, err := ParseJSON[map[string]string](content)
	require.Error(t, err)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Len(t, parseErr.Snippet, 120)
}

func TestParseJSONObjectPreferredOverArray(t *testing.T) {
	// An object containing an array must decode as the object.
	content := `prefix {"findings": [{"file": "a.go", "priority": 1}]} suffix`
	out, err := ParseJSON[map[string][]rankedFile](content)
	require.NoError(t, err)
	require.Len(t, out["findings"], 1)
}
