// Package ownership decides whether a GitHub user owns an organization or
// personal account. Results are cached in the store for 15 minutes.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codewatch/codewatch-go/internal/github"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
)

const cacheTTL = 15 * time.Minute

// GitHubAPI is the slice of the GitHub client the resolver needs.
type GitHubAPI interface {
	OrgMembership(ctx context.Context, token, org string) (*github.Membership, error)
	FirstOrgRepo(ctx context.Context, token, org string) (string, error)
	RepoPermission(ctx context.Context, token, owner, repo, user string) (string, error)
}

// CacheStore is the slice of the store the resolver needs.
type CacheStore interface {
	GetOwnership(ctx context.Context, userID int64, org string) (*models.OwnershipCacheEntry, error)
	UpsertOwnership(ctx context.Context, entry *models.OwnershipCacheEntry) error
	InvalidateOwnership(ctx context.Context, userID int64) error
}

// Result of an ownership check.
type Result struct {
	IsOwner     bool   `json:"isOwner"`
	Role        string `json:"role,omitempty"`
	NeedsReauth bool   `json:"needsReauth,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
}

// Resolver answers "does this user own this org" with caching.
type Resolver struct {
	gh    GitHubAPI
	cache CacheStore
}

func NewResolver(gh GitHubAPI, cache CacheStore) *Resolver {
	return &Resolver{gh: gh, cache: cache}
}

// Resolve determines whether viewer owns org. hasOrgScope is carried for
// callers that track token scopes but does not change the decision.
func (r *Resolver) Resolve(ctx context.Context, viewer *models.Viewer, org string, hasOrgScope bool) (*Result, error) {
	_ = hasOrgScope

	if entry, err := r.cache.GetOwnership(ctx, viewer.ID, org); err == nil && entry.ExpiresAt.After(time.Now()) {
		result := &Result{IsOwner: entry.IsOwner, Cached: true}
		if entry.Role != nil {
			result.Role = *entry.Role
		}
		return result, nil
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Warn("ownership cache lookup failed", "user", viewer.Login, "org", org, "error", err.Error())
	}

	// A user always owns the account matching their own login.
	if strings.EqualFold(org, viewer.Login) {
		result := &Result{IsOwner: true, Role: "personal"}
		r.store(ctx, viewer.ID, org, result)
		return result, nil
	}

	result, err := r.checkMembership(ctx, viewer, org)
	if err != nil {
		return nil, err
	}
	if !result.NeedsReauth {
		r.store(ctx, viewer.ID, org, result)
	}
	return result, nil
}

// Invalidate drops all cached rows for a user. Called when the user
// re-authenticates with new scopes.
func (r *Resolver) Invalidate(ctx context.Context, userID int64) error {
	return r.cache.InvalidateOwnership(ctx, userID)
}

func (r *Resolver) checkMembership(ctx context.Context, viewer *models.Viewer, org string) (*Result, error) {
	m, err := r.gh.OrgMembership(ctx, viewer.Token, org)
	if err == nil {
		if m.State == "active" && m.Role == "admin" {
			return &Result{IsOwner: true, Role: m.Role}, nil
		}
		return &Result{IsOwner: false, Role: m.Role}, nil
	}

	switch github.StatusCode(err) {
	case http.StatusForbidden:
		// Third-party application restrictions block the membership
		// endpoint; infer from repo permissions instead.
		return r.checkRepoPermission(ctx, viewer, org)
	case http.StatusUnauthorized:
		return &Result{NeedsReauth: true}, nil
	case http.StatusNotFound:
		return &Result{IsOwner: false}, nil
	default:
		return nil, fmt.Errorf("membership check for %s: %w", org, err)
	}
}

func (r *Resolver) checkRepoPermission(ctx context.Context, viewer *models.Viewer, org string) (*Result, error) {
	repo, err := r.gh.FirstOrgRepo(ctx, viewer.Token, org)
	if err != nil {
		logging.Warn("ownership fallback could not list org repos", "org", org, "error", err.Error())
		return &Result{NeedsReauth: true}, nil
	}

	permission, err := r.gh.RepoPermission(ctx, viewer.Token, org, repo, viewer.Login)
	if err != nil {
		logging.Warn("ownership fallback permission check failed", "org", org, "repo", repo, "error", err.Error())
		return &Result{NeedsReauth: true}, nil
	}

	if permission == "admin" {
		return &Result{IsOwner: true, Role: "admin"}, nil
	}
	return &Result{IsOwner: false, Role: permission}, nil
}

func (r *Resolver) store(ctx context.Context, userID int64, org string, result *Result) {
	entry := &models.OwnershipCacheEntry{
		UserID:    userID,
		GithubOrg: org,
		IsOwner:   result.IsOwner,
		ExpiresAt: time.Now().Add(cacheTTL),
	}
	if result.Role != "" {
		entry.Role = &result.Role
	}
	if err := r.cache.UpsertOwnership(ctx, entry); err != nil {
		logging.Warn("ownership cache write failed", "user", userID, "org", org, "error", err.Error())
	}
}
