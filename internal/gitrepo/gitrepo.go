// Package gitrepo manages local repository checkouts: cloning, updating,
// scanning code files, diffing commits, and guarded file reads.
package gitrepo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/codewatch/codewatch-go/internal/logging"
)

// Manager owns the shared checkout tree under a single root directory.
// Checkouts are keyed by <root>/<host>/<owner>/<repo> so unrelated projects
// auditing the same repository share storage.
type Manager struct {
	root string
}

// NewManager creates a Manager storing checkouts under root.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// CloneResult reports where a repository was materialized.
type CloneResult struct {
	LocalPath string
	HeadSHA   string
	Branch    string
}

var (
	schemeURLRegex = regexp.MustCompile(`^(?:https?|git|ssh)://(?:[^@/]+@)?([^/:]+)(?::\d+)?/([^/]+)/([^/]+?)$`)
	scpURLRegex    = regexp.MustCompile(`^(?:[^@/]+@)?([^:/]+):([^/]+)/([^/]+?)$`)
)

// ParseRepoURL extracts host, owner, and repo name from a git remote URL.
// Supports https://host/owner/repo, git@host:owner/repo, and ssh:// forms.
func ParseRepoURL(remoteURL string) (host, owner, name string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(remoteURL), ".git")
	trimmed = strings.TrimSuffix(trimmed, "/")

	if m := schemeURLRegex.FindStringSubmatch(trimmed); m != nil {
		return m[1], m[2], m[3], nil
	}
	if m := scpURLRegex.FindStringSubmatch(trimmed); m != nil {
		return m[1], m[2], m[3], nil
	}
	return "", "", "", fmt.Errorf("unrecognized repository URL: %s", remoteURL)
}

// LocalPathFor derives the checkout path for a repository URL.
func (m *Manager) LocalPathFor(url string) (string, error) {
	host, owner, name, err := ParseRepoURL(url)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.root, host, owner, name), nil
}

// CloneOrUpdate materializes the repository at its derived local path.
// Idempotent: an existing working tree is fetched and updated instead of
// re-cloned. branch may be empty to use the remote default. shallowSince
// limits history depth when set; otherwise fresh clones use --depth 1.
func (m *Manager) CloneOrUpdate(ctx context.Context, url, branch string, shallowSince *time.Time) (*CloneResult, error) {
	path, err := m.LocalPathFor(url)
	if err != nil {
		return nil, err
	}

	if isGitRepo(path) {
		if err := m.update(ctx, path, branch, shallowSince); err != nil {
			return nil, err
		}
	} else {
		if err := m.clone(ctx, url, path, branch, shallowSince); err != nil {
			// A concurrent audit may have won the clone race; if a valid
			// working tree appeared, continue with the update path.
			if !isGitRepo(path) {
				return nil, err
			}
			logging.Warn("clone race detected, reusing existing checkout", "path", path)
			if err := m.update(ctx, path, branch, shallowSince); err != nil {
				return nil, err
			}
		}
	}

	head, err := runGit(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("repository has no commits: %w", err)
	}
	current, err := runGit(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}

	return &CloneResult{
		LocalPath: path,
		HeadSHA:   strings.TrimSpace(head),
		Branch:    strings.TrimSpace(current),
	}, nil
}

func (m *Manager) clone(ctx context.Context, url, path, branch string, shallowSince *time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create repos directory: %w", err)
	}

	args := []string{"clone", "--single-branch"}
	if shallowSince != nil {
		args = append(args, "--shallow-since="+shallowSince.UTC().Format(time.RFC3339))
	} else {
		args = append(args, "--depth", "1")
	}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, path)

	if _, err := runGit(ctx, "", args...); err != nil {
		return err
	}
	logging.Info("cloned repository", "url", url, "path", path, "branch", branch)
	return nil
}

func (m *Manager) update(ctx context.Context, path, branch string, shallowSince *time.Time) error {
	if branch != "" {
		// Single-branch clones track one ref; register the requested branch.
		if _, err := runGit(ctx, path, "remote", "set-branches", "--add", "origin", branch); err != nil {
			return err
		}
	}

	fetchArgs := []string{"fetch", "origin"}
	if branch != "" {
		fetchArgs = append(fetchArgs, branch)
	}
	if shallowSince != nil {
		fetchArgs = append(fetchArgs, "--shallow-since="+shallowSince.UTC().Format(time.RFC3339))
	}
	if _, err := runGit(ctx, path, fetchArgs...); err != nil {
		return err
	}

	if branch != "" {
		if _, err := runGit(ctx, path, "checkout", branch); err != nil {
			return err
		}
		if _, err := runGit(ctx, path, "pull", "origin", branch); err != nil {
			return err
		}
	} else {
		if _, err := runGit(ctx, path, "pull"); err != nil {
			return err
		}
	}
	return nil
}

// isGitRepo reports whether path holds a working tree.
func isGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}

// runGit executes a git command, returning combined output. Git operations
// carry no timeout of their own; the caller's context bounds them.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w: %s",
			args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
