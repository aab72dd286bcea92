package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/ownership"
)

type fakeOwnership struct {
	result ownership.Result
	err    error
	calls  int
}

func (f *fakeOwnership) Resolve(_ context.Context, _ *models.Viewer, _ string, _ bool) (*ownership.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

func testAudit() *models.Audit {
	sev := models.SeverityHigh
	return &models.Audit{
		ID:          "audit-1",
		ProjectID:   "project-1",
		RequesterID: 7,
		Level:       models.LevelFull,
		Status:      models.AuditCompleted,
		MaxSeverity: &sev,
	}
}

func testProject() *models.Project {
	return &models.Project{ID: "project-1", GithubOrg: "acme"}
}

func testFindings() []*models.Finding {
	return []*models.Finding{
		{
			ID: "f-crit", AuditID: "audit-1", FilePath: "acme/api/src/auth.ts",
			LineStart: 10, LineEnd: 12, Severity: models.SeverityCritical,
			CWEID: "CWE-89", CVSSScore: 9.8, Title: "SQL injection",
			Description: "d", Exploitation: "e", Recommendation: "r",
			CodeSnippet: "query(...)", Status: models.FindingOpen, Fingerprint: "aaaa",
		},
		{
			ID: "f-med", AuditID: "audit-1", FilePath: "acme/api/src/users.ts",
			LineStart: 5, LineEnd: 5, Severity: models.SeverityMedium,
			CWEID: "CWE-200", Title: "Data exposure", Status: models.FindingOpen,
			Fingerprint: "bbbb",
		},
		{
			ID: "f-low", AuditID: "audit-1", FilePath: "acme/api/src/util.ts",
			LineStart: 1, LineEnd: 1, Severity: models.SeverityLow,
			CWEID: "CWE-1", Title: "Weak default", Status: models.FindingOpen,
			Fingerprint: "cccc",
		},
	}
}

func TestResolveTierOwner(t *testing.T) {
	gate := NewGate(&fakeOwnership{result: ownership.Result{IsOwner: true, Role: "admin"}})

	d, err := gate.ResolveTier(context.Background(), testAudit(), testProject(),
		&models.Viewer{ID: 99, Login: "boss"}, false)
	require.NoError(t, err)
	assert.Equal(t, models.TierOwner, d.Tier)
	assert.True(t, d.IsOwner)
	assert.False(t, d.FullAccessForAll)
}

func TestResolveTierRequester(t *testing.T) {
	gate := NewGate(&fakeOwnership{})

	d, err := gate.ResolveTier(context.Background(), testAudit(), testProject(),
		&models.Viewer{ID: 7, Login: "req"}, false)
	require.NoError(t, err)
	assert.Equal(t, models.TierRequester, d.Tier)
	assert.True(t, d.IsRequester)
}

func TestResolveTierAnonymous(t *testing.T) {
	fake := &fakeOwnership{}
	gate := NewGate(fake)

	d, err := gate.ResolveTier(context.Background(), testAudit(), testProject(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.TierPublic, d.Tier)
	assert.Equal(t, 0, fake.calls, "anonymous viewers skip ownership resolution")
}

func TestResolveTierPublicAudit(t *testing.T) {
	gate := NewGate(&fakeOwnership{})
	audit := testAudit()
	audit.IsPublic = true

	d, err := gate.ResolveTier(context.Background(), audit, testProject(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, models.TierOwner, d.Tier)
	assert.True(t, d.FullAccessForAll)
}

func TestResolveTierAutoPublish(t *testing.T) {
	gate := NewGate(&fakeOwnership{})
	audit := testAudit()
	audit.OwnerNotified = true
	after := time.Now().Add(-time.Second)
	audit.PublishableAfter = &after

	d, err := gate.ResolveTier(context.Background(), audit, testProject(),
		&models.Viewer{ID: 1234, Login: "stranger"}, false)
	require.NoError(t, err)
	assert.Equal(t, models.TierOwner, d.Tier)
	assert.True(t, d.FullAccessForAll)

	// The clock alone is not enough: the owner must have been notified.
	audit.OwnerNotified = false
	d, err = gate.ResolveTier(context.Background(), audit, testProject(),
		&models.Viewer{ID: 1234, Login: "stranger"}, false)
	require.NoError(t, err)
	assert.Equal(t, models.TierPublic, d.Tier)
	assert.False(t, d.FullAccessForAll)

	// Unpublish clears publishable_after, which reverts tiers.
	audit.OwnerNotified = true
	audit.PublishableAfter = nil
	d, err = gate.ResolveTier(context.Background(), audit, testProject(),
		&models.Viewer{ID: 1234, Login: "stranger"}, false)
	require.NoError(t, err)
	assert.Equal(t, models.TierPublic, d.Tier)
}

func TestResolveTierNeedsReauth(t *testing.T) {
	gate := NewGate(&fakeOwnership{result: ownership.Result{NeedsReauth: true}})

	d, err := gate.ResolveTier(context.Background(), testAudit(), testProject(),
		&models.Viewer{ID: 99, Login: "expired"}, false)
	require.NoError(t, err)
	assert.Equal(t, models.TierPublic, d.Tier)
	assert.True(t, d.NeedsReauth)
}

func TestBuildReportOwnerSeesEverything(t *testing.T) {
	report := BuildReport(testAudit(), testFindings(), &Decision{Tier: models.TierOwner})

	require.Len(t, report.Findings, 3)
	for _, f := range report.Findings {
		assert.False(t, f.Redacted)
		require.NotNil(t, f.FilePath)
		require.NotNil(t, f.Title)
		require.NotNil(t, f.Description)
	}
	assert.Empty(t, report.RedactedSeverities)
	assert.Equal(t, 1, report.SeverityCounts[models.SeverityCritical])
}

func TestBuildReportRequesterRedaction(t *testing.T) {
	report := BuildReport(testAudit(), testFindings(), &Decision{Tier: models.TierRequester})

	require.Len(t, report.Findings, 3)
	byID := map[string]FindingView{}
	for _, f := range report.Findings {
		byID[f.ID] = f
	}

	crit := byID["f-crit"]
	assert.True(t, crit.Redacted)
	assert.Equal(t, models.SeverityCritical, crit.Severity)
	assert.Equal(t, "CWE-89", crit.CWEID)
	assert.Equal(t, "acme/api", crit.RepoName)
	assert.Equal(t, models.FindingOpen, crit.Status)
	assert.Nil(t, crit.FilePath)
	assert.Nil(t, crit.Title)
	assert.Nil(t, crit.Description)
	assert.Nil(t, crit.CodeSnippet)
	assert.Nil(t, crit.CVSSScore)

	med := byID["f-med"]
	assert.True(t, med.Redacted)
	assert.Nil(t, med.Title)

	low := byID["f-low"]
	assert.False(t, low.Redacted)
	require.NotNil(t, low.Title)
	assert.Equal(t, "Weak default", *low.Title)

	assert.Equal(t,
		[]models.Severity{models.SeverityCritical, models.SeverityMedium},
		report.RedactedSeverities)
}

func TestBuildReportPublicSeesNoFindings(t *testing.T) {
	report := BuildReport(testAudit(), testFindings(), &Decision{Tier: models.TierPublic})

	assert.Empty(t, report.Findings)
	assert.Equal(t, 3, len(report.SeverityCounts))
	assert.Equal(t,
		[]models.Severity{models.SeverityCritical, models.SeverityMedium, models.SeverityLow},
		report.RedactedSeverities)
}

// Tier monotonicity (owner ⊇ requester ⊇ public): every field visible at a
// lower tier is visible at the higher one.
func TestBuildReportTierMonotonicity(t *testing.T) {
	audit := testAudit()
	findings := testFindings()

	owner := BuildReport(audit, findings, &Decision{Tier: models.TierOwner})
	requester := BuildReport(audit, findings, &Decision{Tier: models.TierRequester})
	public := BuildReport(audit, findings, &Decision{Tier: models.TierPublic})

	assert.GreaterOrEqual(t, len(owner.Findings), len(requester.Findings))
	assert.GreaterOrEqual(t, len(requester.Findings), len(public.Findings))

	ownerByID := map[string]FindingView{}
	for _, f := range owner.Findings {
		ownerByID[f.ID] = f
	}
	for _, rf := range requester.Findings {
		of, ok := ownerByID[rf.ID]
		require.True(t, ok)
		if rf.Title != nil {
			assert.Equal(t, *of.Title, *rf.Title)
		}
	}
}

func TestRepoOf(t *testing.T) {
	assert.Equal(t, "acme/api", RepoOf("acme/api/src/auth.ts"))
	assert.Equal(t, "acme/api", RepoOf("acme/api/main.go"))
	assert.Equal(t, "", RepoOf("orphan.ts"))
	assert.Equal(t, "", RepoOf("acme/api"))
}
