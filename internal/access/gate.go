// Package access decides who may see what in an audit report. Every report
// read resolves the viewer to a tier (owner, requester, public) and redacts
// findings accordingly; disclosure actions (notify, publish, unpublish) move
// audits between those tiers over time.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/ownership"
)

// Ownership answers "does this viewer own this org".
type Ownership interface {
	Resolve(ctx context.Context, viewer *models.Viewer, org string, hasOrgScope bool) (*ownership.Result, error)
}

// Gate computes access tiers for audit reads.
type Gate struct {
	ownership Ownership
	now       func() time.Time
}

// NewGate returns a Gate resolving org ownership through o.
func NewGate(o Ownership) *Gate {
	return &Gate{ownership: o, now: time.Now}
}

// Decision is the computed visibility of one audit for one viewer.
type Decision struct {
	Tier models.AccessTier `json:"tier"`

	// FullAccessForAll is set when the audit is public or its disclosure
	// window has lapsed; every viewer then reads at owner tier.
	FullAccessForAll bool `json:"fullAccessForAll"`

	// IsOwner and IsRequester record how the tier was reached.
	IsOwner     bool `json:"isOwner"`
	IsRequester bool `json:"isRequester"`

	// NeedsReauth is set when the viewer's token could not answer the
	// ownership question; the viewer is treated as a non-owner.
	NeedsReauth bool `json:"needsReauth,omitempty"`
}

// ResolveTier computes the viewer's tier for an audit. A nil viewer is an
// anonymous request and can only reach the public tier, unless the audit has
// been published or auto-published. hasOrgScope is threaded through to the
// ownership resolver for future use.
func (g *Gate) ResolveTier(ctx context.Context, audit *models.Audit, project *models.Project, viewer *models.Viewer, hasOrgScope bool) (*Decision, error) {
	d := &Decision{}

	if viewer != nil {
		d.IsRequester = audit.RequesterID == viewer.ID

		res, err := g.ownership.Resolve(ctx, viewer, project.GithubOrg, hasOrgScope)
		if err != nil {
			return nil, fmt.Errorf("resolve ownership: %w", err)
		}
		d.IsOwner = res.IsOwner
		d.NeedsReauth = res.NeedsReauth
	}

	d.FullAccessForAll = audit.IsPublic || AutoPublished(audit, g.now())

	switch {
	case d.FullAccessForAll || d.IsOwner:
		d.Tier = models.TierOwner
	case d.IsRequester:
		d.Tier = models.TierRequester
	default:
		d.Tier = models.TierPublic
	}
	return d, nil
}

// AutoPublished reports whether the audit's disclosure window has lapsed:
// the owner was notified and publishable_after has passed.
func AutoPublished(audit *models.Audit, now time.Time) bool {
	return audit.PublishableAfter != nil &&
		audit.OwnerNotified &&
		!now.Before(*audit.PublishableAfter)
}
