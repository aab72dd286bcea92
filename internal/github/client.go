// Package github wraps the GitHub API behind a shared rate limiter. Calls
// made on behalf of a viewer use that viewer's token; everything else runs
// under the service token.
package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/codewatch/codewatch-go/internal/models"
)

const defaultRateLimit = 10 // requests per second

// Client issues GitHub API calls with rate limiting shared across tokens.
type Client struct {
	serviceToken string
	limiter      *rate.Limiter
}

// NewClient creates a client. serviceToken may be empty, in which case
// service-level calls run unauthenticated (subject to GitHub's anonymous
// limits).
func NewClient(serviceToken string, rateLimit int) *Client {
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	return &Client{
		serviceToken: serviceToken,
		limiter:      rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

// Membership is a user's standing in an organization.
type Membership struct {
	State string
	Role  string
}

func (c *Client) api(token string) *github.Client {
	if token == "" {
		token = c.serviceToken
	}
	if token == "" {
		return github.NewClient(nil)
	}
	return github.NewClient(nil).WithAuthToken(token)
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// GetViewer resolves the user behind token.
func (c *Client) GetViewer(ctx context.Context, token string) (*models.Viewer, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	user, _, err := c.api(token).Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetch viewer: %w", err)
	}
	return &models.Viewer{ID: user.GetID(), Login: user.GetLogin(), Token: token}, nil
}

// EntityType reports whether account is an "organization" or a "user".
func (c *Client) EntityType(ctx context.Context, account string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	user, _, err := c.api("").Users.Get(ctx, account)
	if err != nil {
		return "", fmt.Errorf("fetch account %s: %w", account, err)
	}
	return strings.ToLower(user.GetType()), nil
}

// OrgMembership fetches the token owner's membership in org.
func (c *Client) OrgMembership(ctx context.Context, token, org string) (*Membership, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	m, _, err := c.api(token).Organizations.GetOrgMembership(ctx, "", org)
	if err != nil {
		return nil, fmt.Errorf("fetch org membership: %w", err)
	}
	return &Membership{State: m.GetState(), Role: m.GetRole()}, nil
}

// FirstOrgRepo returns the name of one repository in org visible to token.
func (c *Client) FirstOrgRepo(ctx context.Context, token, org string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	}
	repos, _, err := c.api(token).Repositories.ListByOrg(ctx, org, opts)
	if err != nil {
		return "", fmt.Errorf("list org repos: %w", err)
	}
	if len(repos) == 0 {
		return "", fmt.Errorf("org %s has no visible repositories", org)
	}
	return repos[0].GetName(), nil
}

// RepoPermission returns user's permission level ("admin", "write", "read",
// "none") on owner/repo as seen through token.
func (c *Client) RepoPermission(ctx context.Context, token, owner, repo, user string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	level, _, err := c.api(token).Repositories.GetPermissionLevel(ctx, owner, repo, user)
	if err != nil {
		return "", fmt.Errorf("fetch repo permission: %w", err)
	}
	return level.GetPermission(), nil
}

// DefaultBranch fetches the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	r, _, err := c.api("").Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("fetch repository: %w", err)
	}
	return r.GetDefaultBranch(), nil
}

// CommitDate returns the committer date of sha. Used to bound shallow
// clones for incremental audits.
func (c *Client) CommitDate(ctx context.Context, owner, repo, sha string) (time.Time, error) {
	if err := c.wait(ctx); err != nil {
		return time.Time{}, err
	}
	commit, _, err := c.api("").Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch commit %s: %w", sha, err)
	}
	date := commit.GetCommit().GetCommitter().GetDate()
	if date.IsZero() {
		return time.Time{}, fmt.Errorf("commit %s has no committer date", sha)
	}
	return date.Time, nil
}

// CreateIssue files an issue on owner/repo and returns its URL.
func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	issue, _, err := c.api("").Issues.Create(ctx, owner, repo, &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}
	return issue.GetHTMLURL(), nil
}

// StatusCode extracts the HTTP status from a GitHub API error, 0 when the
// error is not an API response.
func StatusCode(err error) int {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

// SplitRepo splits "owner/name" into its parts.
func SplitRepo(fullName string) (owner, name string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name %q", fullName)
	}
	return parts[0], parts[1], nil
}
