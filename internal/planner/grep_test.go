package planner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
)

func repoFileWithContent(t *testing.T, root, rel, content string) gitrepo.RepoFile {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return gitrepo.RepoFile{
		RepoName: "acme/api",
		RepoRoot: root,
		Relative: rel,
		Path:     "acme/api/" + rel,
	}
}

func TestGrepFilesFindsAndSortsByHits(t *testing.T) {
	root := t.TempDir()
	hot := repoFileWithContent(t, root, "src/auth.ts",
		"const password = req.body.password\n"+
			"db.query(`SELECT * FROM users WHERE name = '` + name + `'`)\n"+
			"const apiKey = process.env.API_KEY\n"+
			"session.save()\n")
	cold := repoFileWithContent(t, root, "src/math.ts", "export const add = (a, b) => a + b\n")
	warm := repoFileWithContent(t, root, "src/fetch.ts", "await fetch('http://example.com')\n")

	results := grepFiles([]gitrepo.RepoFile{cold, warm, hot})
	require.Len(t, results, 2, "files with zero hits are omitted")
	assert.Equal(t, hot.Path, results[0].Path)
	assert.Equal(t, warm.Path, results[1].Path)
	assert.Greater(t, results[0].Hits, results[1].Hits)
}

func TestGrepFilesSampleLimits(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("const password = 'x'\n", 10) +
		"eval(" + strings.Repeat("a", 200) + ")\n"
	f := repoFileWithContent(t, root, "src/hot.ts", content)

	results := grepFiles([]gitrepo.RepoFile{f})
	require.Len(t, results, 1)

	r := results[0]
	assert.GreaterOrEqual(t, r.Hits, 11)
	require.Len(t, r.Samples, 3, "samples capped at three per file")
	assert.Equal(t, 1, r.Samples[0].Line, "lines are 1-indexed")
	for _, s := range r.Samples {
		assert.LessOrEqual(t, len(s.Text), 120)
	}
}

func TestGrepFilesSkipsUnreadable(t *testing.T) {
	root := t.TempDir()
	missing := gitrepo.RepoFile{
		RepoName: "acme/api",
		RepoRoot: root,
		Relative: "src/gone.ts",
		Path:     "acme/api/src/gone.ts",
	}
	results := grepFiles([]gitrepo.RepoFile{missing})
	assert.Empty(t, results)
}

func TestRenderGrepResults(t *testing.T) {
	out := renderGrepResults([]GrepResult{{
		Path: "acme/api/src/auth.ts",
		Hits: 4,
		Samples: []GrepSample{
			{Category: "auth", Line: 3, Text: "const password = 'x'"},
		},
	}})
	assert.Contains(t, out, "acme/api/src/auth.ts (4 hits)")
	assert.Contains(t, out, "[auth] line 3: const password = 'x'")

	assert.Equal(t, "(no pattern matches)", renderGrepResults(nil))
}
