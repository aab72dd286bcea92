package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/progress"
)

// clone materializes every project repository, scans its code files, and
// records per-repo provenance. Incremental audits resolve a shallow-since
// date from the base audit's commits so history stays small.
func (o *Orchestrator) clone(ctx context.Context, r *run) error {
	if err := o.store.StartAudit(ctx, r.audit.ID); err != nil {
		return err
	}

	r.baseCommits = make(map[string]string)
	if r.audit.BaseAuditID != nil {
		commits, err := o.store.GetAuditCommits(ctx, *r.audit.BaseAuditID)
		if err != nil {
			return fmt.Errorf("load base audit commits: %w", err)
		}
		for _, c := range commits {
			r.baseCommits[c.RepoID] = c.CommitSHA
		}
	}

	for i, repo := range r.repos {
		detail := progress.Cloning(i+1, len(r.repos), repo.RepoName, r.warnings)
		if err := o.bus.Write(ctx, r.audit.ID, detail); err != nil {
			return err
		}

		var shallowSince *time.Time
		if sha, ok := r.baseCommits[repo.ID]; ok {
			shallowSince = o.resolveShallowSince(ctx, r, repo.RepoName, sha)
		}

		branch := ""
		if repo.Branch != nil {
			branch = *repo.Branch
		}
		res, err := o.repos.CloneOrUpdate(ctx, repo.RepoURL, branch, shallowSince)
		if err != nil {
			return fmt.Errorf("clone %s: %w", repo.RepoName, err)
		}

		scanned, err := gitrepo.ScanCodeFiles(res.LocalPath)
		if err != nil {
			return fmt.Errorf("scan %s: %w", repo.RepoName, err)
		}
		namespaced := gitrepo.NamespaceFiles(repo.RepoName, res.LocalPath, scanned)

		r.byRepoID[repo.ID] = &repoState{detail: repo, clone: res, files: namespaced}
		r.files = append(r.files, namespaced...)

		if err := o.store.UpsertAuditCommit(ctx, &models.AuditCommit{
			AuditID:   r.audit.ID,
			RepoID:    repo.ID,
			CommitSHA: res.HeadSHA,
			Branch:    res.Branch,
		}); err != nil {
			return fmt.Errorf("record audit commit: %w", err)
		}

		if repo.DefaultBranch == nil && repo.Branch == nil && res.Branch != "" {
			if err := o.store.UpdateRepositoryDefaultBranch(ctx, repo.ID, res.Branch); err != nil {
				logging.Warn("could not cache default branch",
					"repo", repo.RepoName, "error", err.Error())
			}
		}

		logging.Info("repository ready",
			"audit_id", r.audit.ID,
			"repo", repo.RepoName,
			"commit", res.HeadSHA,
			"files", len(namespaced))
	}

	if len(r.scoped) > 0 {
		r.files = filterByComponents(r.files, r.scoped)
	}

	for _, f := range r.files {
		r.totalTokens += f.Tokens
	}
	return o.store.UpdateAuditTotals(ctx, r.audit.ID, len(r.files), r.totalTokens)
}

// filterByComponents keeps only files covered by the scoped components'
// namespaced glob patterns.
func filterByComponents(files []gitrepo.RepoFile, scoped []*models.Component) []gitrepo.RepoFile {
	var patterns []string
	for _, c := range scoped {
		patterns = append(patterns, c.FilePatterns...)
	}
	globs := gitrepo.NewGlobSet(patterns)
	if globs.Empty() {
		return nil
	}

	var out []gitrepo.RepoFile
	for _, f := range files {
		if globs.Match(f.Path) {
			out = append(out, f)
		}
	}
	return out
}
