// Package prompts loads named prompt templates from disk and renders
// {{key}} placeholders. Templates live under prompts/ relative to the
// working directory, with the executable's directory as a fallback so the
// service finds them regardless of where it was launched.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Load reads prompts/<name>.md from the working directory, falling back to
// the directory containing the executable. Name is restricted to
// [A-Za-z0-9_-]+ so callers cannot traverse outside the prompts root.
func Load(name string) (string, error) {
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("invalid prompt name %q", name)
	}

	var firstErr error
	for _, root := range promptRoots() {
		path := filepath.Join(root, "prompts", name+".md")
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", fmt.Errorf("load prompt %q: %w", name, firstErr)
}

// Render substitutes every {{key}} in template with its value. Substitution
// is literal and global; placeholders with no matching key are left intact.
func Render(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

func promptRoots() []string {
	roots := []string{"."}
	if exe, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Dir(exe))
	}
	return roots
}
