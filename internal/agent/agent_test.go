package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch-go/internal/models"
)

type scriptedLLM struct {
	responses []*anthropic.Message
	errs      []error
	calls     int
	params    []anthropic.MessageNewParams
}

func (s *scriptedLLM) Do(_ context.Context, _ string, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	idx := s.calls
	s.calls++
	s.params = append(s.params, params)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	return s.responses[idx], nil
}

func (s *scriptedLLM) Model() string  { return "claude-test" }
func (s *scriptedLLM) MaxTokens() int { return 2048 }

type fakeComponentStore struct {
	projectID    string
	components   []*models.Component
	dependencies []*models.ProjectDependency
	calls        int
	err          error
}

func (f *fakeComponentStore) ReplaceComponents(_ context.Context, projectID string, components []*models.Component, dependencies []*models.ProjectDependency) error {
	f.calls++
	f.projectID = projectID
	f.components = components
	f.dependencies = dependencies
	return f.err
}

func writeComponentsTemplate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prompts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts", "components.md"),
		[]byte("Repositories:\n{{repoList}}"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

// assistantMessage builds an SDK message the same way the SDK does: by
// unmarshalling response JSON.
func assistantMessage(t *testing.T, body map[string]any) *anthropic.Message {
	t.Helper()
	body["id"] = "msg_test"
	body["type"] = "message"
	body["role"] = "assistant"
	body["model"] = "claude-test"
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	var msg anthropic.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return &msg
}

func endTurnMessage(t *testing.T, text string, in, out int) *anthropic.Message {
	return assistantMessage(t, map[string]any{
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": in, "output_tokens": out},
	})
}

func toolUseMessage(t *testing.T, tool string, input map[string]any) *anthropic.Message {
	return assistantMessage(t, map[string]any{
		"stop_reason": "tool_use",
		"content": []map[string]any{{
			"type":  "tool_use",
			"id":    "tu_1",
			"name":  tool,
			"input": input,
		}},
		"usage": map[string]any{"input_tokens": 50, "output_tokens": 10},
	})
}

const mappingAnswer = `{
  "components": [
    {
      "name": "API server",
      "description": "Serves the HTTP API",
      "role": "server",
      "repository": "acme/api",
      "languages": ["typescript"],
      "file_patterns": ["src/**"],
      "security_profile": {
        "summary": "Handles authentication",
        "sensitive_areas": ["src/auth.ts"],
        "threat_surface": ["public network"]
      }
    },
    {
      "name": "Ghost",
      "role": "worker",
      "repository": "acme/missing",
      "file_patterns": ["*"]
    }
  ],
  "dependencies": [
    {"name": "express", "version": "4.19.2", "ecosystem": "npm", "source_repo_url": "https://github.com/expressjs/express"},
    {"name": "", "ecosystem": "npm"}
  ]
}`

func mappingInput(t *testing.T) Input {
	t.Helper()
	_, files := seedRepo(t)
	return Input{
		ProjectID:    "proj-1",
		APIKey:       "sk-test",
		Files:        files,
		RepoIDByName: map[string]string{"acme/api": "repo-1"},
	}
}

func TestMapProjectPersistsComponents(t *testing.T) {
	writeComponentsTemplate(t)
	mock := &scriptedLLM{responses: []*anthropic.Message{
		endTurnMessage(t, mappingAnswer, 400, 120),
	}}
	st := &fakeComponentStore{}

	result, err := New(mock, st).MapProject(context.Background(), mappingInput(t))
	require.NoError(t, err)

	assert.Equal(t, 1, st.calls)
	assert.Equal(t, "proj-1", st.projectID)

	require.Len(t, st.components, 1, "component for unknown repository must be skipped")
	c := st.components[0]
	assert.Equal(t, "API server", c.Name)
	assert.Equal(t, "repo-1", c.RepoID)
	assert.Equal(t, models.RoleServer, c.Role)
	assert.Equal(t, []string{"acme/api/src/**"}, []string(c.FilePatterns))
	assert.Equal(t, 1, c.EstimatedFiles)
	assert.Equal(t, 7, c.EstimatedTokens)
	require.NotNil(t, c.SecurityProfile)
	assert.Equal(t, "Handles authentication", c.SecurityProfile.Summary)

	require.Len(t, st.dependencies, 1, "nameless dependency must be dropped")
	d := st.dependencies[0]
	assert.Equal(t, "express", d.Name)
	require.NotNil(t, d.Version)
	assert.Equal(t, "4.19.2", *d.Version)

	assert.Equal(t, 1, result.Turns)
	assert.Equal(t, 400, result.InputTokens)
	assert.Equal(t, 120, result.OutputTokens)

	require.Len(t, mock.params, 1)
	assert.Equal(t, anthropic.Model("claude-test"), mock.params[0].Model)
	assert.Len(t, mock.params[0].Tools, 3)
	assert.Contains(t, mock.params[0].System[0].Text, "acme/api")
}

func TestMapProjectToolLoop(t *testing.T) {
	writeComponentsTemplate(t)
	mock := &scriptedLLM{responses: []*anthropic.Message{
		toolUseMessage(t, toolReadFile, map[string]any{"repo_name": "acme/api", "path": "main.go"}),
		endTurnMessage(t, mappingAnswer, 400, 120),
	}}
	st := &fakeComponentStore{}

	result, err := New(mock, st).MapProject(context.Background(), mappingInput(t))
	require.NoError(t, err)

	assert.Equal(t, 2, mock.calls)
	assert.Equal(t, 2, result.Turns)
	assert.Equal(t, 450, result.InputTokens)
	assert.Equal(t, 130, result.OutputTokens)

	// kickoff, assistant tool_use, tool results
	second := mock.params[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, second[1].Role)
	assert.Equal(t, anthropic.MessageParamRoleUser, second[2].Role)
}

func TestMapProjectAbortsOnConsecutiveToolErrors(t *testing.T) {
	writeComponentsTemplate(t)
	mock := &scriptedLLM{responses: []*anthropic.Message{
		toolUseMessage(t, toolReadFile, map[string]any{"repo_name": "acme/missing", "path": "x"}),
	}}
	st := &fakeComponentStore{}

	_, err := New(mock, st).MapProject(context.Background(), mappingInput(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consecutive tool-error")
	assert.Equal(t, maxConsecutiveErrors, mock.calls)
	assert.Zero(t, st.calls)
}

func TestMapProjectRunsOutOfTurns(t *testing.T) {
	writeComponentsTemplate(t)
	mock := &scriptedLLM{responses: []*anthropic.Message{
		toolUseMessage(t, toolListDirectory, map[string]any{"repo_name": "acme/api", "path": "."}),
	}}
	st := &fakeComponentStore{}

	in := mappingInput(t)
	progressCalls := 0
	in.Progress = func(turns, limit, tokensUsed int, costUSD float64) {
		progressCalls++
		assert.Equal(t, maxTurns, limit)
	}

	_, err := New(mock, st).MapProject(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish within 40 turns")
	assert.Equal(t, maxTurns, mock.calls)
	assert.Equal(t, maxTurns/progressEvery, progressCalls)
	assert.Zero(t, st.calls)
}

func TestMapProjectBadFinalAnswer(t *testing.T) {
	writeComponentsTemplate(t)
	mock := &scriptedLLM{responses: []*anthropic.Message{
		endTurnMessage(t, "I could not map this project.", 100, 20),
	}}
	st := &fakeComponentStore{}

	_, err := New(mock, st).MapProject(context.Background(), mappingInput(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "component mapping output")
	assert.Zero(t, st.calls)
}

func TestMapProjectTransportError(t *testing.T) {
	writeComponentsTemplate(t)
	mock := &scriptedLLM{errs: []error{errors.New("boom")}}

	_, err := New(mock, &fakeComponentStore{}).MapProject(context.Background(), mappingInput(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn 1")
}

func TestComponentRoleNormalization(t *testing.T) {
	assert.Equal(t, models.RoleServer, componentRole("Server"))
	assert.Equal(t, models.RoleCLI, componentRole("cli"))
	assert.Equal(t, models.RoleShared, componentRole("frontend"))
	assert.Equal(t, models.RoleShared, componentRole(""))
}

func TestNamespacePatterns(t *testing.T) {
	got := namespacePatterns("acme/api", []string{"src/**", "/lib/*.ts", "acme/api/cmd/**", ""})
	assert.Equal(t, []string{"acme/api/src/**", "acme/api/lib/*.ts", "acme/api/cmd/**"}, got)
}
