package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirWithPrompt(t *testing.T, name, content string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prompts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompts", name+".md"), []byte(content), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad(t *testing.T) {
	chdirWithPrompt(t, "classify", "Classify {{repoName}} please.")

	got, err := Load("classify")
	require.NoError(t, err)
	assert.Equal(t, "Classify {{repoName}} please.", got)
}

func TestLoadRejectsTraversal(t *testing.T) {
	for _, name := range []string{"../secrets", "a/b", "a.b", "", "..", "a b"} {
		_, err := Load(name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestLoadMissing(t *testing.T) {
	chdirWithPrompt(t, "classify", "x")

	_, err := Load("does-not-exist")
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	template := "Audit {{repo}} at level {{level}}. Repo: {{repo}}."
	got := Render(template, map[string]string{"repo": "acme/api", "level": "full"})
	assert.Equal(t, "Audit acme/api at level full. Repo: acme/api.", got)
}

func TestRenderLeavesMissingKeys(t *testing.T) {
	template := "Audit {{repo}} with {{unknown}}."
	got := Render(template, map[string]string{"repo": "acme/api"})
	assert.Equal(t, "Audit acme/api with {{unknown}}.", got)
}

func TestRenderLiteralValues(t *testing.T) {
	// Replacement is literal; regex metacharacters pass through untouched.
	got := Render("{{a}}", map[string]string{"a": "literal $1 \\ value"})
	assert.Equal(t, "literal $1 \\ value", got)
}
