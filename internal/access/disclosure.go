package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	gh "github.com/codewatch/codewatch-go/internal/github"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
)

// Disclosure action errors, mapped to HTTP statuses at the API boundary.
var (
	ErrForbidden    = errors.New("viewer may not perform this action")
	ErrNotCompleted = errors.New("audit has not completed")
)

// issueTitle is the notification issue filed on the audited org.
const issueTitle = "Security audit completed — action recommended"

// DisclosureStore is the store slice disclosure actions write through.
type DisclosureStore interface {
	GetAudit(ctx context.Context, auditID string) (*models.Audit, error)
	GetProjectRepos(ctx context.Context, projectID string) ([]store.ProjectRepoDetail, error)
	MarkOwnerNotified(ctx context.Context, auditID string, publishableAfter *time.Time) (bool, error)
	PublishAudit(ctx context.Context, auditID string) error
	UnpublishAudit(ctx context.Context, auditID string) error
}

// IssueFiler files the owner notification issue. May be nil to disable.
type IssueFiler interface {
	CreateIssue(ctx context.Context, owner, repo, title, body string) (string, error)
}

// Disclosure performs the requester-driven disclosure actions on an audit.
type Disclosure struct {
	store DisclosureStore
	filer IssueFiler
	now   func() time.Time
}

// NewDisclosure returns a Disclosure writing through s. filer may be nil,
// which skips issue creation.
func NewDisclosure(s DisclosureStore, filer IssueFiler) *Disclosure {
	return &Disclosure{store: s, filer: filer, now: time.Now}
}

// NotifyResult reports the disclosure clock after a notify call.
type NotifyResult struct {
	AlreadyNotified  bool       `json:"alreadyNotified"`
	OwnerNotifiedAt  *time.Time `json:"ownerNotifiedAt,omitempty"`
	PublishableAfter *time.Time `json:"publishableAfter,omitempty"`
	IssueURL         string     `json:"issueUrl,omitempty"`
}

// NotifyOwner starts the disclosure clock: publishable_after is set to now
// plus the embargo for the audit's max severity, and a notification issue is
// filed on the audited org (best-effort). Only the requester of a completed
// audit may notify. Idempotent: repeat calls return the stored values and
// file no second issue.
func (d *Disclosure) NotifyOwner(ctx context.Context, audit *models.Audit, project *models.Project, viewer *models.Viewer) (*NotifyResult, error) {
	if viewer == nil || audit.RequesterID != viewer.ID {
		return nil, ErrForbidden
	}
	if audit.Status != models.AuditCompleted {
		return nil, ErrNotCompleted
	}

	var publishableAfter *time.Time
	if months, ok := embargoMonths(audit.MaxSeverity); ok {
		at := d.now().AddDate(0, months, 0)
		publishableAfter = &at
	}

	notified, err := d.store.MarkOwnerNotified(ctx, audit.ID, publishableAfter)
	if err != nil {
		return nil, fmt.Errorf("mark owner notified: %w", err)
	}
	if !notified {
		// Already notified; surface the values the first call stored.
		current, err := d.store.GetAudit(ctx, audit.ID)
		if err != nil {
			return nil, fmt.Errorf("load audit: %w", err)
		}
		return &NotifyResult{
			AlreadyNotified:  true,
			OwnerNotifiedAt:  current.OwnerNotifiedAt,
			PublishableAfter: current.PublishableAfter,
		}, nil
	}

	now := d.now()
	result := &NotifyResult{OwnerNotifiedAt: &now, PublishableAfter: publishableAfter}
	result.IssueURL = d.fileIssue(ctx, audit, project, publishableAfter)

	logging.Info("owner notified",
		"audit_id", audit.ID,
		"org", project.GithubOrg,
		"publishable_after", formatTime(publishableAfter))
	return result, nil
}

// Publish makes the audit's full report visible to everyone. Requester only.
func (d *Disclosure) Publish(ctx context.Context, audit *models.Audit, viewer *models.Viewer) error {
	if viewer == nil || audit.RequesterID != viewer.ID {
		return ErrForbidden
	}
	if !audit.Status.Terminal() {
		return ErrNotCompleted
	}
	return d.store.PublishAudit(ctx, audit.ID)
}

// Unpublish withdraws a published report and cancels any pending
// auto-publication. Requester only.
func (d *Disclosure) Unpublish(ctx context.Context, audit *models.Audit, viewer *models.Viewer) error {
	if viewer == nil || audit.RequesterID != viewer.ID {
		return ErrForbidden
	}
	return d.store.UnpublishAudit(ctx, audit.ID)
}

// fileIssue opens the notification issue on the org's first repository.
// Failures are logged, not returned: the disclosure clock is already running
// and must not depend on the issue landing.
func (d *Disclosure) fileIssue(ctx context.Context, audit *models.Audit, project *models.Project, publishableAfter *time.Time) string {
	if d.filer == nil {
		return ""
	}
	repos, err := d.store.GetProjectRepos(ctx, project.ID)
	if err != nil || len(repos) == 0 {
		logging.Warn("cannot file notification issue: no project repos",
			"audit_id", audit.ID, "org", project.GithubOrg)
		return ""
	}
	owner, name, err := gh.SplitRepo(repos[0].RepoName)
	if err != nil {
		logging.Warn("cannot file notification issue",
			"audit_id", audit.ID, "repo", repos[0].RepoName, "error", err.Error())
		return ""
	}

	url, err := d.filer.CreateIssue(ctx, owner, name, issueTitle, issueBody(audit, publishableAfter))
	if err != nil {
		logging.Warn("notification issue not filed",
			"audit_id", audit.ID, "org", project.GithubOrg, "error", err.Error())
		return ""
	}
	return url
}

func issueBody(audit *models.Audit, publishableAfter *time.Time) string {
	severity := models.SeverityNone
	if audit.MaxSeverity != nil {
		severity = *audit.MaxSeverity
	}
	body := fmt.Sprintf(
		"A security audit of this organization's repositories has completed.\n\n"+
			"- Highest severity found: **%s**\n"+
			"- Audit id: `%s`\n\n"+
			"An organization owner can view the full report by signing in to CodeWatch.",
		severity, audit.ID)
	if publishableAfter != nil {
		body += fmt.Sprintf(
			"\n\nUnder the responsible disclosure policy this report becomes public on %s.",
			publishableAfter.Format("2006-01-02"))
	}
	return body
}

// embargoMonths maps the audit's max severity to its disclosure embargo.
// Low, informational, and finding-free audits never auto-publish.
func embargoMonths(severity *models.Severity) (int, bool) {
	if severity == nil {
		return 0, false
	}
	switch *severity {
	case models.SeverityCritical:
		return 6, true
	case models.SeverityHigh, models.SeverityMedium:
		return 3, true
	default:
		return 0, false
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
