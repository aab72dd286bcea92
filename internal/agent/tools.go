package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
)

const (
	toolListDirectory = "list_directory"
	toolReadFile      = "read_file"
	toolSearchFiles   = "search_files"
)

const (
	readFileMaxLines = 500
	searchResultsCap = 100
)

// toolDefinitions describes the three tools exposed to the model.
func toolDefinitions() []anthropic.ToolUnionParam {
	repoParam := map[string]interface{}{
		"type":        "string",
		"description": "Repository name, e.g. \"acme/api\"",
	}
	tools := []anthropic.ToolParam{
		{
			Name:        toolListDirectory,
			Description: anthropic.String("List entries at a path inside a repository. Directories end with '/'."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"repo_name": repoParam,
					"path":      map[string]interface{}{"type": "string", "description": "Directory path relative to the repository root; empty for the root"},
				},
				Required: []string{"repo_name", "path"},
			},
		},
		{
			Name:        toolReadFile,
			Description: anthropic.String("Read a file inside a repository. Output is truncated past 500 lines."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"repo_name": repoParam,
					"path":      map[string]interface{}{"type": "string", "description": "File path relative to the repository root"},
				},
				Required: []string{"repo_name", "path"},
			},
		},
		{
			Name:        toolSearchFiles,
			Description: anthropic.String("Glob-match file paths in a repository, e.g. \"src/**/*.ts\". Returns at most 100 paths."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"repo_name": repoParam,
					"pattern":   map[string]interface{}{"type": "string", "description": "Glob pattern matched against paths relative to the repository root"},
				},
				Required: []string{"repo_name", "pattern"},
			},
		},
	}

	union := make([]anthropic.ToolUnionParam, 0, len(tools))
	for i := range tools {
		union = append(union, anthropic.ToolUnionParam{OfTool: &tools[i]})
	}
	return union
}

type toolInput struct {
	RepoName string `json:"repo_name"`
	Path     string `json:"path"`
	Pattern  string `json:"pattern"`
}

// toolbox executes tool calls against the cloned checkouts.
type toolbox struct {
	roots map[string]string
	files []gitrepo.RepoFile
}

func newToolbox(files []gitrepo.RepoFile) *toolbox {
	roots := make(map[string]string)
	for _, f := range files {
		roots[f.RepoName] = f.RepoRoot
	}
	return &toolbox{roots: roots, files: files}
}

func (t *toolbox) execute(name string, rawInput []byte) (string, error) {
	var input toolInput
	if err := json.Unmarshal(rawInput, &input); err != nil {
		return "", fmt.Errorf("decode %s input: %w", name, err)
	}

	switch name {
	case toolListDirectory:
		return t.listDirectory(input.RepoName, input.Path)
	case toolReadFile:
		return t.readFile(input.RepoName, input.Path)
	case toolSearchFiles:
		return t.searchFiles(input.RepoName, input.Pattern)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func (t *toolbox) root(repoName string) (string, error) {
	root, ok := t.roots[repoName]
	if !ok {
		return "", fmt.Errorf("unknown repository %q", repoName)
	}
	return root, nil
}

// listDirectory returns sorted entries: directories with a trailing slash,
// files with their size. Directories in the scan skip set are hidden.
func (t *toolbox) listDirectory(repoName, path string) (string, error) {
	root, err := t.root(repoName)
	if err != nil {
		return "", err
	}
	resolved, err := gitrepo.ResolveUnder(root, path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", path, err)
	}

	var lines []string
	for _, e := range entries {
		if e.IsDir() {
			if gitrepo.SkippedDir(e.Name()) {
				continue
			}
			lines = append(lines, e.Name()+"/")
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%d bytes)", e.Name(), info.Size()))
	}
	sort.Strings(lines)

	if len(lines) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(lines, "\n"), nil
}

// readFile returns file contents truncated past readFileMaxLines.
func (t *toolbox) readFile(repoName, path string) (string, error) {
	root, err := t.root(repoName)
	if err != nil {
		return "", err
	}
	content, err := gitrepo.ReadFileContent(root, path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(content, "\n")
	if len(lines) <= readFileMaxLines {
		return content, nil
	}
	return strings.Join(lines[:readFileMaxLines], "\n") +
		fmt.Sprintf("\n\n[truncated: %d of %d lines shown]", readFileMaxLines, len(lines)), nil
}

// searchFiles globs the pre-scanned file list, capped at searchResultsCap.
func (t *toolbox) searchFiles(repoName, pattern string) (string, error) {
	if _, err := t.root(repoName); err != nil {
		return "", err
	}

	globs := gitrepo.NewGlobSet([]string{pattern})
	if globs.Empty() {
		return "", fmt.Errorf("invalid pattern %q", pattern)
	}

	var matches []string
	for _, f := range t.files {
		if f.RepoName != repoName {
			continue
		}
		if globs.Match(f.Relative) {
			matches = append(matches, f.Relative)
			if len(matches) >= searchResultsCap {
				break
			}
		}
	}
	if len(matches) == 0 {
		return "(no matches)", nil
	}
	return strings.Join(matches, "\n"), nil
}
