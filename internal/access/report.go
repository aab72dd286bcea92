package access

import (
	"sort"
	"strings"

	"github.com/codewatch/codewatch-go/internal/models"
)

// redactedAtRequesterTier are the severities whose details the requester may
// not read before disclosure. Low and informational findings stay fully
// visible so requesters can triage the noise floor themselves.
var redactedAtRequesterTier = map[models.Severity]bool{
	models.SeverityCritical: true,
	models.SeverityHigh:     true,
	models.SeverityMedium:   true,
}

// FindingView is one finding as rendered for a viewer. The first block is
// always present; the detail pointers are nulled when the viewer's tier may
// not read them.
type FindingView struct {
	ID       string               `json:"id"`
	Severity models.Severity      `json:"severity"`
	CWEID    string               `json:"cweId"`
	RepoName string               `json:"repoName"`
	Status   models.FindingStatus `json:"status"`
	Redacted bool                 `json:"redacted"`

	ComponentID       *string  `json:"componentId,omitempty"`
	FilePath          *string  `json:"filePath,omitempty"`
	LineStart         *int     `json:"lineStart,omitempty"`
	LineEnd           *int     `json:"lineEnd,omitempty"`
	CVSSScore         *float64 `json:"cvssScore,omitempty"`
	Title             *string  `json:"title,omitempty"`
	Description       *string  `json:"description,omitempty"`
	Exploitation      *string  `json:"exploitation,omitempty"`
	Recommendation    *string  `json:"recommendation,omitempty"`
	CodeSnippet       *string  `json:"codeSnippet,omitempty"`
	ResolvedInAuditID *string  `json:"resolvedInAuditId,omitempty"`
}

// Report is the tier-filtered view of an audit returned to API callers.
type Report struct {
	AuditID          string            `json:"auditId"`
	ProjectID        string            `json:"projectId"`
	Tier             models.AccessTier `json:"tier"`
	FullAccessForAll bool              `json:"fullAccessForAll"`

	Status         models.AuditStatus      `json:"status"`
	Level          models.AuditLevel       `json:"level"`
	MaxSeverity    *models.Severity        `json:"maxSeverity,omitempty"`
	ReportSummary  *models.ReportSummary   `json:"reportSummary,omitempty"`
	SeverityCounts map[models.Severity]int `json:"severityCounts"`

	// RedactedSeverities lists the severities whose details this viewer
	// cannot read: the high end for requesters, everything present for
	// the public tier.
	RedactedSeverities []models.Severity `json:"redactedSeverities"`

	Findings []FindingView `json:"findings"`
}

// BuildReport renders an audit's findings at the decided tier. Pure: the
// caller loads the rows, this applies the redaction rules.
func BuildReport(audit *models.Audit, findings []*models.Finding, d *Decision) *Report {
	counts := make(map[models.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}

	r := &Report{
		AuditID:          audit.ID,
		ProjectID:        audit.ProjectID,
		Tier:             d.Tier,
		FullAccessForAll: d.FullAccessForAll,
		Status:           audit.Status,
		Level:            audit.Level,
		MaxSeverity:      audit.MaxSeverity,
		ReportSummary:    audit.ReportSummary,
		SeverityCounts:   counts,
		Findings:         []FindingView{},
	}

	switch d.Tier {
	case models.TierOwner:
		r.RedactedSeverities = []models.Severity{}
		for _, f := range findings {
			r.Findings = append(r.Findings, fullView(f))
		}
	case models.TierRequester:
		r.RedactedSeverities = presentSeverities(counts, redactedAtRequesterTier)
		for _, f := range findings {
			if redactedAtRequesterTier[f.Severity] {
				r.Findings = append(r.Findings, redactedView(f))
			} else {
				r.Findings = append(r.Findings, fullView(f))
			}
		}
	default:
		r.RedactedSeverities = presentSeverities(counts, nil)
	}
	return r
}

// fullView exposes every field of a finding.
func fullView(f *models.Finding) FindingView {
	v := redactedView(f)
	v.Redacted = false
	v.ComponentID = f.ComponentID
	v.FilePath = &f.FilePath
	v.LineStart = &f.LineStart
	v.LineEnd = &f.LineEnd
	v.CVSSScore = &f.CVSSScore
	v.Title = &f.Title
	v.Description = &f.Description
	v.Exploitation = &f.Exploitation
	v.Recommendation = &f.Recommendation
	v.CodeSnippet = &f.CodeSnippet
	v.ResolvedInAuditID = f.ResolvedInAuditID
	return v
}

// redactedView keeps only the fields every authenticated tier may see: the
// finding exists, how bad it is, which weakness class and repo it falls in,
// and its triage status.
func redactedView(f *models.Finding) FindingView {
	return FindingView{
		ID:       f.ID,
		Severity: f.Severity,
		CWEID:    f.CWEID,
		RepoName: RepoOf(f.FilePath),
		Status:   f.Status,
		Redacted: true,
	}
}

// RepoOf extracts the repo namespace from an audit file path
// (<owner>/<repo>/<relative path>).
func RepoOf(filePath string) string {
	parts := strings.SplitN(filePath, "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[0] + "/" + parts[1]
}

// presentSeverities returns the severities with findings, optionally
// restricted to a filter set, ordered worst first.
func presentSeverities(counts map[models.Severity]int, filter map[models.Severity]bool) []models.Severity {
	out := []models.Severity{}
	for s, n := range counts {
		if n == 0 {
			continue
		}
		if filter != nil && !filter[s] {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return models.SeverityRank(out[i]) > models.SeverityRank(out[j])
	})
	return out
}
