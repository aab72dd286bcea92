package gitrepo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		url   string
		host  string
		owner string
		name  string
	}{
		{"https://github.com/acme/widget", "github.com", "acme", "widget"},
		{"https://github.com/acme/widget.git", "github.com", "acme", "widget"},
		{"https://gitlab.example.com/team/tool/", "gitlab.example.com", "team", "tool"},
		{"git@github.com:acme/widget.git", "github.com", "acme", "widget"},
		{"ssh://git@github.com/acme/widget", "github.com", "acme", "widget"},
	}
	for _, tt := range tests {
		host, owner, name, err := ParseRepoURL(tt.url)
		require.NoError(t, err, "url %s", tt.url)
		assert.Equal(t, tt.host, host, "url %s", tt.url)
		assert.Equal(t, tt.owner, owner, "url %s", tt.url)
		assert.Equal(t, tt.name, name, "url %s", tt.url)
	}

	_, _, _, err := ParseRepoURL("not a url")
	assert.Error(t, err)
}

func TestLocalPathShared(t *testing.T) {
	m := NewManager("/srv/repos")
	p1, err := m.LocalPathFor("https://github.com/acme/widget.git")
	require.NoError(t, err)
	p2, err := m.LocalPathFor("https://github.com/acme/widget")
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "same repo should share one checkout")
	assert.Equal(t, filepath.Join("/srv/repos", "github.com", "acme", "widget"), p1)
}

func TestScanCodeFiles(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	write("src/main.ts", "console.log('hi')\n")
	write("src/util.py", "import os\n")
	write("Dockerfile", "FROM alpine\n")
	write("README.md", "docs\n")                    // not a code extension
	write("node_modules/dep/index.js", "ignored\n") // skip dir
	write("vendor/lib.go", "ignored\n")             // skip dir
	write("empty.go", "")                           // size 0

	big := strings.Repeat("x", maxScanFileSize+1)
	write("huge.js", big)

	files, err := ScanCodeFiles(root)
	require.NoError(t, err)

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.RelativePath
	}
	assert.ElementsMatch(t, []string{"src/main.ts", "src/util.py", "Dockerfile"}, paths)

	for _, f := range files {
		assert.Equal(t, RoughTokens(f.Size), f.RoughTokens)
		assert.Greater(t, f.RoughTokens, 0)
	}
}

func TestRoughTokens(t *testing.T) {
	// ceil(size / 3.3)
	assert.Equal(t, 0, RoughTokens(0))
	assert.Equal(t, 1, RoughTokens(1))
	assert.Equal(t, 1, RoughTokens(3))
	assert.Equal(t, 2, RoughTokens(4))
	assert.Equal(t, 10, RoughTokens(33))
	assert.Equal(t, 11, RoughTokens(34))
}

func TestParseNameStatus(t *testing.T) {
	out := strings.Join([]string{
		"A\tsrc/new.ts",
		"M\tsrc/changed.ts",
		"D\told/gone.ts",
		"R100\tsrc/before.ts\tsrc/after.ts",
		"T\tweird/typechange.ts",
		"",
	}, "\n")

	diff := parseNameStatus(out)
	assert.Equal(t, []string{"src/new.ts"}, diff.Added)
	assert.Equal(t, []string{"src/changed.ts"}, diff.Modified)
	assert.Equal(t, []string{"old/gone.ts"}, diff.Deleted)
	require.Len(t, diff.Renamed, 1)
	assert.Equal(t, "src/before.ts", diff.Renamed[0].From)
	assert.Equal(t, "src/after.ts", diff.Renamed[0].To)
	assert.False(t, diff.IsFallback)
}

func TestFallbackDiff(t *testing.T) {
	diff := FallbackDiff([]string{"a.ts", "b.ts"})
	assert.Equal(t, []string{"a.ts", "b.ts"}, diff.Added)
	assert.True(t, diff.IsFallback)
	assert.Empty(t, diff.Modified)
	assert.Empty(t, diff.Deleted)
}

func TestGlobSet(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/**/*.ts", "src/auth.ts", true},
		{"src/**/*.ts", "src/api/login.ts", true},
		{"src/**/*.ts", "lib/auth.ts", false},
		{"src/**/*.ts", "src/auth.go", false},
		{"acme/api/src/**", "acme/api/src/deep/file.py", true},
		{"acme/api/src/**", "acme/api/main.py", false},
		{"**/Dockerfile", "Dockerfile", true},
		{"**/Dockerfile", "services/web/Dockerfile", true},
		{"*.go", "main.go", true},
		{"cmd/?.go", "cmd/a.go", true},
		{"cmd/?.go", "cmd/ab.go", false},
	}
	for _, tt := range tests {
		g := NewGlobSet([]string{tt.pattern})
		require.False(t, g.Empty(), "pattern %s", tt.pattern)
		assert.Equal(t, tt.want, g.Match(tt.path), "pattern %s path %s", tt.pattern, tt.path)
	}
}

func TestGlobSetEmpty(t *testing.T) {
	assert.True(t, NewGlobSet(nil).Empty())
	assert.False(t, NewGlobSet(nil).Match("anything"))
}

func TestReadFileContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644))

	content, err := ReadFileContent(root, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestReadFileContentTraversal(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))
	defer os.Remove(outside)

	for _, rel := range []string{
		"../secret.txt",
		"../../etc/passwd",
		"sub/../../secret.txt",
	} {
		_, err := ReadFileContent(root, rel)
		require.Error(t, err, "path %s", rel)
		assert.Equal(t, ReadPathTraversal, ReadKind(err), "path %s", rel)
	}
}

func TestReadFileContentNotFound(t *testing.T) {
	root := t.TempDir()
	_, err := ReadFileContent(root, "missing.txt")
	require.Error(t, err)
	assert.Equal(t, ReadNotFound, ReadKind(err))
}
