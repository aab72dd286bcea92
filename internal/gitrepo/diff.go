package gitrepo

import (
	"context"
	"strings"

	"github.com/codewatch/codewatch-go/internal/logging"
)

// Rename is one renamed path in a diff.
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Diff lists paths changed between two commits. IsFallback is set when the
// diff could not be computed and the caller degraded to treating every file
// as added.
type Diff struct {
	Added      []string `json:"added"`
	Modified   []string `json:"modified"`
	Deleted    []string `json:"deleted"`
	Renamed    []Rename `json:"renamed"`
	IsFallback bool     `json:"isFallback"`
}

// DiffBetweenCommits runs git diff --name-status between two commits of the
// checkout at path. Unrecognized status letters are ignored. Shallow clones
// may be missing baseSHA; callers then fall back to full re-analysis.
func DiffBetweenCommits(ctx context.Context, path, baseSHA, headSHA string) (*Diff, error) {
	out, err := runGit(ctx, path, "diff", "--name-status", "-M", baseSHA, headSHA)
	if err != nil {
		return nil, err
	}
	return parseNameStatus(out), nil
}

// Diff is the method form of DiffBetweenCommits.
func (m *Manager) Diff(ctx context.Context, path, baseSHA, headSHA string) (*Diff, error) {
	return DiffBetweenCommits(ctx, path, baseSHA, headSHA)
}

// parseNameStatus parses git diff --name-status output. Each line is a status
// letter, a tab, and one path (two for renames/copies).
func parseNameStatus(out string) *Diff {
	diff := &Diff{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		switch {
		case status == "A":
			diff.Added = append(diff.Added, fields[1])
		case status == "M":
			diff.Modified = append(diff.Modified, fields[1])
		case status == "D":
			diff.Deleted = append(diff.Deleted, fields[1])
		case strings.HasPrefix(status, "R"):
			if len(fields) >= 3 {
				diff.Renamed = append(diff.Renamed, Rename{From: fields[1], To: fields[2]})
			}
		default:
			// T (type change), C (copy), U (unmerged) and friends are ignored.
			logging.Debug("ignoring diff status", "status", status, "path", fields[1])
		}
	}
	return diff
}

// FallbackDiff marks every path as added; used when the real diff fails.
func FallbackDiff(paths []string) *Diff {
	return &Diff{Added: append([]string(nil), paths...), IsFallback: true}
}
