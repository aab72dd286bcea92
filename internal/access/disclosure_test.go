package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
)

type fakeDisclosureStore struct {
	audit       *models.Audit
	repos       []store.ProjectRepoDetail
	published   bool
	unpublished bool
}

func (f *fakeDisclosureStore) GetAudit(_ context.Context, _ string) (*models.Audit, error) {
	a := *f.audit
	return &a, nil
}

func (f *fakeDisclosureStore) GetProjectRepos(_ context.Context, _ string) ([]store.ProjectRepoDetail, error) {
	return f.repos, nil
}

func (f *fakeDisclosureStore) MarkOwnerNotified(_ context.Context, _ string, publishableAfter *time.Time) (bool, error) {
	if f.audit.OwnerNotified {
		return false, nil
	}
	now := time.Now()
	f.audit.OwnerNotified = true
	f.audit.OwnerNotifiedAt = &now
	f.audit.PublishableAfter = publishableAfter
	return true, nil
}

func (f *fakeDisclosureStore) PublishAudit(_ context.Context, _ string) error {
	f.published = true
	f.audit.IsPublic = true
	return nil
}

func (f *fakeDisclosureStore) UnpublishAudit(_ context.Context, _ string) error {
	f.unpublished = true
	f.audit.IsPublic = false
	f.audit.PublishableAfter = nil
	return nil
}

type fakeFiler struct {
	issues int
	owner  string
	repo   string
}

func (f *fakeFiler) CreateIssue(_ context.Context, owner, repo, _, _ string) (string, error) {
	f.issues++
	f.owner, f.repo = owner, repo
	return "https://github.test/" + owner + "/" + repo + "/issues/1", nil
}

func disclosureFixture(severity models.Severity) (*Disclosure, *fakeDisclosureStore, *fakeFiler) {
	audit := testAudit()
	audit.MaxSeverity = &severity
	st := &fakeDisclosureStore{
		audit: audit,
		repos: []store.ProjectRepoDetail{
			{Repository: models.Repository{ID: "r1", RepoName: "acme/api"}},
		},
	}
	filer := &fakeFiler{}
	return NewDisclosure(st, filer), st, filer
}

func requester() *models.Viewer { return &models.Viewer{ID: 7, Login: "req"} }

func TestNotifyOwnerSetsEmbargo(t *testing.T) {
	cases := []struct {
		severity models.Severity
		months   int
	}{
		{models.SeverityCritical, 6},
		{models.SeverityHigh, 3},
		{models.SeverityMedium, 3},
	}
	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			d, st, filer := disclosureFixture(tc.severity)

			res, err := d.NotifyOwner(context.Background(), st.audit, testProject(), requester())
			require.NoError(t, err)
			assert.False(t, res.AlreadyNotified)
			require.NotNil(t, res.PublishableAfter)

			want := time.Now().AddDate(0, tc.months, 0)
			assert.WithinDuration(t, want, *res.PublishableAfter, time.Minute)
			assert.Equal(t, 1, filer.issues)
			assert.Equal(t, "acme", filer.owner)
			assert.Equal(t, "api", filer.repo)
		})
	}
}

func TestNotifyOwnerLowSeverityNeverAutoPublishes(t *testing.T) {
	d, st, _ := disclosureFixture(models.SeverityLow)

	res, err := d.NotifyOwner(context.Background(), st.audit, testProject(), requester())
	require.NoError(t, err)
	assert.Nil(t, res.PublishableAfter)
	assert.True(t, st.audit.OwnerNotified)
}

func TestNotifyOwnerIdempotent(t *testing.T) {
	d, st, filer := disclosureFixture(models.SeverityHigh)

	first, err := d.NotifyOwner(context.Background(), st.audit, testProject(), requester())
	require.NoError(t, err)

	second, err := d.NotifyOwner(context.Background(), st.audit, testProject(), requester())
	require.NoError(t, err)
	assert.True(t, second.AlreadyNotified)
	require.NotNil(t, second.PublishableAfter)
	assert.True(t, first.PublishableAfter.Equal(*second.PublishableAfter),
		"second notify must return the stored publishable_after")
	assert.Equal(t, 1, filer.issues, "exactly one external issue")
}

func TestNotifyOwnerForbidden(t *testing.T) {
	d, st, filer := disclosureFixture(models.SeverityHigh)

	_, err := d.NotifyOwner(context.Background(), st.audit, testProject(), &models.Viewer{ID: 1000})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = d.NotifyOwner(context.Background(), st.audit, testProject(), nil)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, filer.issues)
	assert.False(t, st.audit.OwnerNotified)
}

func TestNotifyOwnerRequiresCompleted(t *testing.T) {
	d, st, _ := disclosureFixture(models.SeverityHigh)
	st.audit.Status = models.AuditAnalyzing

	_, err := d.NotifyOwner(context.Background(), st.audit, testProject(), requester())
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestPublishAndUnpublish(t *testing.T) {
	d, st, _ := disclosureFixture(models.SeverityHigh)

	require.NoError(t, d.Publish(context.Background(), st.audit, requester()))
	assert.True(t, st.published)

	assert.ErrorIs(t, d.Publish(context.Background(), st.audit, &models.Viewer{ID: 3}), ErrForbidden)

	require.NoError(t, d.Unpublish(context.Background(), st.audit, requester()))
	assert.True(t, st.unpublished)
	assert.Nil(t, st.audit.PublishableAfter, "unpublish cancels auto-publication")
}

func TestPublishRequiresTerminalAudit(t *testing.T) {
	d, st, _ := disclosureFixture(models.SeverityHigh)
	st.audit.Status = models.AuditAnalyzing

	assert.ErrorIs(t, d.Publish(context.Background(), st.audit, requester()), ErrNotCompleted)
}
