package ownership

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch-go/internal/github"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
)

type fakeGitHub struct {
	membership    *github.Membership
	membershipErr error
	firstRepo     string
	firstRepoErr  error
	permission    string
	permissionErr error

	membershipCalls int
	permissionCalls int
}

func (f *fakeGitHub) OrgMembership(_ context.Context, _, _ string) (*github.Membership, error) {
	f.membershipCalls++
	return f.membership, f.membershipErr
}

func (f *fakeGitHub) FirstOrgRepo(_ context.Context, _, _ string) (string, error) {
	return f.firstRepo, f.firstRepoErr
}

func (f *fakeGitHub) RepoPermission(_ context.Context, _, _, _, _ string) (string, error) {
	f.permissionCalls++
	return f.permission, f.permissionErr
}

type fakeCache struct {
	entries map[string]*models.OwnershipCacheEntry
	writes  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]*models.OwnershipCacheEntry{}}
}

func (f *fakeCache) GetOwnership(_ context.Context, userID int64, org string) (*models.OwnershipCacheEntry, error) {
	entry, ok := f.entries[key(userID, org)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entry, nil
}

func (f *fakeCache) UpsertOwnership(_ context.Context, entry *models.OwnershipCacheEntry) error {
	f.writes++
	f.entries[key(entry.UserID, entry.GithubOrg)] = entry
	return nil
}

func (f *fakeCache) InvalidateOwnership(_ context.Context, userID int64) error {
	for k, entry := range f.entries {
		if entry.UserID == userID {
			delete(f.entries, k)
		}
	}
	return nil
}

func key(userID int64, org string) string {
	return fmt.Sprintf("%d#%s", userID, org)
}

func ghError(status int) error {
	return &gh.ErrorResponse{Response: &http.Response{StatusCode: status}}
}

func viewer() *models.Viewer {
	return &models.Viewer{ID: 42, Login: "octocat", Token: "gho_test"}
}

func TestResolvePersonalAccount(t *testing.T) {
	ghc := &fakeGitHub{}
	cache := newFakeCache()
	r := NewResolver(ghc, cache)

	result, err := r.Resolve(context.Background(), viewer(), "OctoCat", false)
	require.NoError(t, err)
	assert.True(t, result.IsOwner)
	assert.Equal(t, "personal", result.Role)
	assert.False(t, result.Cached)
	assert.Equal(t, 0, ghc.membershipCalls)
	assert.Equal(t, 1, cache.writes)
}

func TestResolveActiveAdmin(t *testing.T) {
	ghc := &fakeGitHub{membership: &github.Membership{State: "active", Role: "admin"}}
	cache := newFakeCache()
	r := NewResolver(ghc, cache)

	result, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.True(t, result.IsOwner)
	assert.Equal(t, "admin", result.Role)
}

func TestResolveActiveMemberNotOwner(t *testing.T) {
	ghc := &fakeGitHub{membership: &github.Membership{State: "active", Role: "member"}}
	r := NewResolver(ghc, newFakeCache())

	result, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.False(t, result.IsOwner)
	assert.Equal(t, "member", result.Role)
}

func TestResolvePendingAdminNotOwner(t *testing.T) {
	ghc := &fakeGitHub{membership: &github.Membership{State: "pending", Role: "admin"}}
	r := NewResolver(ghc, newFakeCache())

	result, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.False(t, result.IsOwner)
}

func TestResolveCacheHit(t *testing.T) {
	ghc := &fakeGitHub{membership: &github.Membership{State: "active", Role: "admin"}}
	cache := newFakeCache()
	r := NewResolver(ghc, cache)

	first, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.True(t, second.IsOwner)
	assert.Equal(t, "admin", second.Role)
	assert.Equal(t, 1, ghc.membershipCalls)
}

func TestResolveExpiredCacheEntryIgnored(t *testing.T) {
	ghc := &fakeGitHub{membership: &github.Membership{State: "active", Role: "admin"}}
	cache := newFakeCache()
	role := "member"
	cache.entries[key(42, "acme")] = &models.OwnershipCacheEntry{
		UserID:    42,
		GithubOrg: "acme",
		IsOwner:   false,
		Role:      &role,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	r := NewResolver(ghc, cache)

	result, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.True(t, result.IsOwner)
	assert.Equal(t, 1, ghc.membershipCalls)
}

func TestResolveForbiddenFallsBackToRepoPermission(t *testing.T) {
	ghc := &fakeGitHub{
		membershipErr: ghError(http.StatusForbidden),
		firstRepo:     "api",
		permission:    "admin",
	}
	r := NewResolver(ghc, newFakeCache())

	result, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.True(t, result.IsOwner)
	assert.Equal(t, "admin", result.Role)
	assert.Equal(t, 1, ghc.permissionCalls)
}

func TestResolveFallbackWriteAccessIsNotOwnership(t *testing.T) {
	ghc := &fakeGitHub{
		membershipErr: ghError(http.StatusForbidden),
		firstRepo:     "api",
		permission:    "write",
	}
	r := NewResolver(ghc, newFakeCache())

	result, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.False(t, result.IsOwner)
	assert.Equal(t, "write", result.Role)
}

func TestResolveUnauthorizedNeedsReauthNotCached(t *testing.T) {
	ghc := &fakeGitHub{membershipErr: ghError(http.StatusUnauthorized)}
	cache := newFakeCache()
	r := NewResolver(ghc, cache)

	result, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.True(t, result.NeedsReauth)
	assert.False(t, result.IsOwner)
	assert.Equal(t, 0, cache.writes)
}

func TestResolveNotFoundMeansNotMember(t *testing.T) {
	ghc := &fakeGitHub{membershipErr: ghError(http.StatusNotFound)}
	cache := newFakeCache()
	r := NewResolver(ghc, cache)

	result, err := r.Resolve(context.Background(), viewer(), "acme", false)
	require.NoError(t, err)
	assert.False(t, result.IsOwner)
	assert.False(t, result.NeedsReauth)
	assert.Equal(t, 1, cache.writes)
}

func TestResolveServerErrorPropagates(t *testing.T) {
	ghc := &fakeGitHub{membershipErr: ghError(http.StatusInternalServerError)}
	r := NewResolver(ghc, newFakeCache())

	_, err := r.Resolve(context.Background(), viewer(), "acme", false)
	assert.Error(t, err)
}

func TestInvalidate(t *testing.T) {
	cache := newFakeCache()
	role := "admin"
	cache.entries[key(42, "acme")] = &models.OwnershipCacheEntry{UserID: 42, GithubOrg: "acme", IsOwner: true, Role: &role, ExpiresAt: time.Now().Add(time.Hour)}
	cache.entries[key(42, "umbrella")] = &models.OwnershipCacheEntry{UserID: 42, GithubOrg: "umbrella", IsOwner: false, ExpiresAt: time.Now().Add(time.Hour)}
	cache.entries[key(7, "acme")] = &models.OwnershipCacheEntry{UserID: 7, GithubOrg: "acme", IsOwner: false, ExpiresAt: time.Now().Add(time.Hour)}

	r := NewResolver(&fakeGitHub{}, cache)
	require.NoError(t, r.Invalidate(context.Background(), 42))
	assert.Len(t, cache.entries, 1)
}
