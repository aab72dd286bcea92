package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch-go/internal/models"
)

// newTestStore connects to the database named by DATABASE_URL and applies the
// schema. Tests are skipped when no database is configured.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	s, err := NewPostgresStore(dsn, 0, 0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestProject(t *testing.T, s *PostgresStore) *models.Project {
	t.Helper()

	project := &models.Project{
		ID:               uuid.NewString(),
		GithubOrg:        "org-" + uuid.NewString()[:8],
		GithubEntityType: "organization",
		CreatedBy:        4242,
		Name:             "test project",
	}
	repo := &models.Repository{
		ID:        uuid.NewString(),
		RepoURL:   "https://github.com/" + project.GithubOrg + "/app",
		RepoName:  "app",
		LocalPath: "/tmp/repos/github.com/" + project.GithubOrg + "/app",
	}
	require.NoError(t, s.CreateProject(context.Background(), project, []NewProjectRepo{{Repo: repo}}))
	return project
}

func TestCreateProjectConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	org := "org-" + uuid.NewString()[:8]
	mkProject := func() (*models.Project, []NewProjectRepo) {
		p := &models.Project{
			ID:               uuid.NewString(),
			GithubOrg:        org,
			GithubEntityType: "organization",
			CreatedBy:        99,
			Name:             "dup",
		}
		r := &models.Repository{
			ID:        uuid.NewString(),
			RepoURL:   "https://github.com/" + org + "/svc",
			RepoName:  "svc",
			LocalPath: "/tmp/repos/github.com/" + org + "/svc",
		}
		return p, []NewProjectRepo{{Repo: r}}
	}

	p1, r1 := mkProject()
	require.NoError(t, s.CreateProject(ctx, p1, r1))

	p2, r2 := mkProject()
	err := s.CreateProject(ctx, p2, r2)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAuditLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := newTestProject(t, s)

	audit := &models.Audit{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		RequesterID: 4242,
		Level:       models.LevelThorough,
		Status:      models.AuditPending,
	}
	require.NoError(t, s.CreateAudit(ctx, audit))

	got, err := s.GetAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditPending, got.Status)
	assert.Nil(t, got.StartedAt)

	require.NoError(t, s.StartAudit(ctx, audit.ID))
	got, err = s.GetAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditCloning, got.Status)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.UpdateAuditTotals(ctx, audit.ID, 12, 34000))
	require.NoError(t, s.SetAuditStatus(ctx, audit.ID, models.AuditAnalyzing))

	summary := &models.ReportSummary{ExecutiveSummary: "ok"}
	require.NoError(t, s.CompleteAudit(ctx, audit.ID, models.AuditCompleted, summary, models.SeverityHigh, 1.2345))

	got, err = s.GetAudit(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditCompleted, got.Status)
	require.NotNil(t, got.MaxSeverity)
	assert.Equal(t, models.SeverityHigh, *got.MaxSeverity)
	require.NotNil(t, got.ReportSummary)
	assert.Equal(t, "ok", got.ReportSummary.ExecutiveSummary)

	// Terminal audits are immutable.
	err = s.FailAudit(ctx, audit.ID, "late failure", 0)
	assert.ErrorIs(t, err, ErrConflict)
	err = s.SetAuditStatus(ctx, audit.ID, models.AuditPlanning)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMarkOwnerNotifiedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := newTestProject(t, s)

	audit := &models.Audit{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		RequesterID: 4242,
		Level:       models.LevelFull,
		Status:      models.AuditCompleted,
	}
	require.NoError(t, s.CreateAudit(ctx, audit))

	after := time.Now().Add(90 * 24 * time.Hour).UTC().Truncate(time.Second)
	applied, err := s.MarkOwnerNotified(ctx, audit.ID, &after)
	require.NoError(t, err)
	assert.True(t, applied)

	later := time.Now().Add(999 * time.Hour)
	applied, err = s.MarkOwnerNotified(ctx, audit.ID, &later)
	require.NoError(t, err)
	assert.False(t, applied, "second notify must not apply")

	got, err := s.GetAudit(ctx, audit.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PublishableAfter)
	assert.WithinDuration(t, after, *got.PublishableAfter, time.Second)
}

func TestOwnershipCacheExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	org := "org-" + uuid.NewString()[:8]
	role := "admin"
	entry := &models.OwnershipCacheEntry{
		UserID:    777,
		GithubOrg: org,
		IsOwner:   true,
		Role:      &role,
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}
	require.NoError(t, s.UpsertOwnership(ctx, entry))

	got, err := s.GetOwnership(ctx, 777, org)
	require.NoError(t, err)
	assert.True(t, got.IsOwner)

	// Expired rows behave as missing.
	entry.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.UpsertOwnership(ctx, entry))
	_, err = s.GetOwnership(ctx, 777, org)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.InvalidateOwnership(ctx, 777))
}

func TestInsertFindingsDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := newTestProject(t, s)

	audit := &models.Audit{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		RequesterID: 4242,
		Level:       models.LevelFull,
		Status:      models.AuditAnalyzing,
	}
	require.NoError(t, s.CreateAudit(ctx, audit))

	mk := func(fingerprint string) *models.Finding {
		return &models.Finding{
			ID:          uuid.NewString(),
			AuditID:     audit.ID,
			FilePath:    "app/server.ts",
			LineStart:   10,
			LineEnd:     12,
			Severity:    models.SeverityHigh,
			Title:       "SQL injection",
			Status:      models.FindingOpen,
			Fingerprint: fingerprint,
		}
	}

	fp := uuid.NewString()[:16]
	require.NoError(t, s.InsertFindings(ctx, []*models.Finding{mk(fp), mk(fp)}))

	findings, err := s.GetFindings(ctx, audit.ID)
	require.NoError(t, err)
	assert.Len(t, findings, 1, "duplicate fingerprints collapse within an audit")

	counts, err := s.CountFindingsBySeverity(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.SeverityHigh])
}
