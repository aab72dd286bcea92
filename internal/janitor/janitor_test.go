package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
	"github.com/codewatch/codewatch-go/internal/store/storetest"
)

func TestSweepFailsStuckAudits(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()

	base := time.Now()
	mem.SetNow(func() time.Time { return base })
	require.NoError(t, mem.CreateAudit(ctx, &models.Audit{
		ID: "audit-stuck", ProjectID: "p", RequesterID: 1,
		Level: models.LevelFull, Status: models.AuditPending,
	}))
	require.NoError(t, mem.StartAudit(ctx, "audit-stuck"))

	// Three hours later the audit is still not terminal.
	mem.SetNow(func() time.Time { return base.Add(3 * time.Hour) })
	require.NoError(t, mem.CreateAudit(ctx, &models.Audit{
		ID: "audit-fresh", ProjectID: "p", RequesterID: 1,
		Level: models.LevelFull, Status: models.AuditPending,
	}))

	j, err := New(mem, 2*time.Hour)
	require.NoError(t, err)
	j.Sweep(ctx)

	stuck, err := mem.GetAudit(ctx, "audit-stuck")
	require.NoError(t, err)
	assert.Equal(t, models.AuditFailed, stuck.Status)
	require.NotNil(t, stuck.ErrorMessage)
	assert.Contains(t, *stuck.ErrorMessage, "exceeded the time limit")

	fresh, err := mem.GetAudit(ctx, "audit-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.AuditPending, fresh.Status)
}

func TestSweepPrunesExpiredOwnership(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()

	now := time.Now()
	expired := now.Add(-time.Minute)
	live := now.Add(time.Hour)
	require.NoError(t, mem.UpsertOwnership(ctx, &models.OwnershipCacheEntry{
		UserID: 1, GithubOrg: "acme", IsOwner: true, ExpiresAt: expired,
	}))
	require.NoError(t, mem.UpsertOwnership(ctx, &models.OwnershipCacheEntry{
		UserID: 2, GithubOrg: "acme", IsOwner: false, ExpiresAt: live,
	}))

	j, err := New(mem, time.Hour)
	require.NoError(t, err)
	j.Sweep(ctx)

	_, err = mem.GetOwnership(ctx, 1, "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)
	entry, err := mem.GetOwnership(ctx, 2, "acme")
	require.NoError(t, err)
	assert.False(t, entry.IsOwner)
}

func TestStartAndStop(t *testing.T) {
	mem := storetest.New()
	j, err := New(mem, time.Hour)
	require.NoError(t, err)
	require.NoError(t, j.Start(time.Hour))
	require.NoError(t, j.Stop())
}
