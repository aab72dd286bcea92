package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
)

// diffAndInherit computes the changed-file set against the base audit and
// carries the base audit's open findings forward. Findings whose file was
// deleted are marked fixed here and resolved on the base audit; renamed
// files re-path their findings. Every inherited finding keeps its original
// status so unchanged files do not need re-analysis to stay reported.
func (o *Orchestrator) diffAndInherit(ctx context.Context, r *run) error {
	var added, modified, deleted []string
	renamed := make(map[string]string)

	for _, repo := range r.repos {
		state := r.byRepoID[repo.ID]
		baseSHA, inBase := r.baseCommits[repo.ID]
		prefix := repo.RepoName + "/"

		if !inBase {
			// Repo added to the project after the base audit ran.
			for _, f := range state.files {
				added = append(added, f.Path)
			}
			continue
		}
		if baseSHA == state.clone.HeadSHA {
			continue
		}

		diff, err := o.repos.Diff(ctx, state.clone.LocalPath, baseSHA, state.clone.HeadSHA)
		if err != nil {
			r.warn(fmt.Sprintf("diff failed for %s; re-analyzing all its files", repo.RepoName))
			diff = gitrepo.FallbackDiff(relativePaths(state.files, prefix))
		}
		for _, p := range diff.Added {
			added = append(added, prefix+p)
		}
		for _, p := range diff.Modified {
			modified = append(modified, prefix+p)
		}
		for _, p := range diff.Deleted {
			deleted = append(deleted, prefix+p)
		}
		for _, rn := range diff.Renamed {
			renamed[prefix+rn.From] = prefix + rn.To
		}
	}

	r.override = make(map[string]bool)
	for _, p := range added {
		r.override[p] = true
	}
	for _, p := range modified {
		r.override[p] = true
	}
	for _, to := range renamed {
		r.override[to] = true
	}

	if err := o.store.SetAuditDiff(ctx, r.audit.ID, added, modified, deleted); err != nil {
		return fmt.Errorf("record audit diff: %w", err)
	}

	deletedSet := make(map[string]bool, len(deleted))
	for _, p := range deleted {
		deletedSet[p] = true
	}

	open, err := o.store.GetOpenFindings(ctx, *r.audit.BaseAuditID)
	if err != nil {
		return fmt.Errorf("load base audit findings: %w", err)
	}

	var inherited []*models.Finding
	for _, f := range open {
		nf := *f
		nf.ID = uuid.NewString()
		nf.AuditID = r.audit.ID
		nf.ResolvedInAuditID = nil

		if deletedSet[f.FilePath] {
			nf.Status = models.FindingFixed
			if err := o.store.MarkFindingResolved(ctx, f.ID, r.audit.ID); err != nil {
				return fmt.Errorf("resolve finding %s: %w", f.ID, err)
			}
		} else if to := renamed[f.FilePath]; to != "" {
			nf.FilePath = to
		}

		nf.Fingerprint = Fingerprint(nf.FilePath, nf.LineStart, nf.LineEnd, nf.Title, nf.CodeSnippet)
		if r.seen[nf.Fingerprint] {
			continue
		}
		r.seen[nf.Fingerprint] = true

		if nf.Status == models.FindingOpen {
			r.prevByFile[nf.FilePath] = append(r.prevByFile[nf.FilePath], inheritedRef{
				Title:     nf.Title,
				Severity:  nf.Severity,
				LineStart: nf.LineStart,
			})
		}
		inherited = append(inherited, &nf)
	}

	if len(inherited) > 0 {
		if err := o.store.InsertFindings(ctx, inherited); err != nil {
			return fmt.Errorf("carry forward findings: %w", err)
		}
		o.metrics.FindingsStored(len(inherited))
	}

	logging.Info("diff computed",
		"audit_id", r.audit.ID,
		"added", len(added),
		"modified", len(modified),
		"deleted", len(deleted),
		"renamed", len(renamed),
		"inherited", len(inherited))
	return nil
}

// relativePaths strips the repo namespace so FallbackDiff sees repo-relative
// paths, matching what a real git diff would report.
func relativePaths(files []gitrepo.RepoFile, prefix string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, strings.TrimPrefix(f.Path, prefix))
	}
	return out
}
