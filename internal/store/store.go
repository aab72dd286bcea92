// Package store persists projects, audits, findings, and the ownership cache
// in PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/codewatch/codewatch-go/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// NewProjectRepo pairs a repository with its optional branch override at
// project creation time.
type NewProjectRepo struct {
	Repo   *models.Repository
	Branch *string
}

// ProjectRepoDetail is a repository joined with its project-level branch override.
type ProjectRepoDetail struct {
	models.Repository
	Branch *string `db:"branch"`
}

// ClassificationUpdate carries the classify-phase output persisted onto a project.
type ClassificationUpdate struct {
	Category        string
	Description     string
	InvolvedParties models.JSONMap
	ThreatModel     *models.ThreatModel
	Source          string
	SourceFiles     []string
	AuditID         string
}

// Store defines the storage interface
type Store interface {
	// Project operations
	CreateProject(ctx context.Context, project *models.Project, repos []NewProjectRepo) error
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	GetProjectRepos(ctx context.Context, projectID string) ([]ProjectRepoDetail, error)
	ListProjectAudits(ctx context.Context, projectID string) ([]*models.Audit, error)
	UpdateProjectClassification(ctx context.Context, projectID string, c *ClassificationUpdate) error
	UpdateRepositoryDefaultBranch(ctx context.Context, repoID, branch string) error

	// Component operations
	GetComponents(ctx context.Context, projectID string) ([]*models.Component, error)
	GetComponentsByIDs(ctx context.Context, ids []string) ([]*models.Component, error)
	ReplaceComponents(ctx context.Context, projectID string, components []*models.Component, dependencies []*models.ProjectDependency) error

	// Audit lifecycle
	CreateAudit(ctx context.Context, audit *models.Audit) error
	GetAudit(ctx context.Context, auditID string) (*models.Audit, error)
	StartAudit(ctx context.Context, auditID string) error
	SetAuditStatus(ctx context.Context, auditID string, status models.AuditStatus) error
	UpdateAuditTotals(ctx context.Context, auditID string, totalFiles, totalTokens int) error
	UpdateAuditPlan(ctx context.Context, auditID string, filesToAnalyze, tokensToAnalyze int) error
	SetAuditDiff(ctx context.Context, auditID string, added, modified, deleted []string) error
	WriteAuditProgress(ctx context.Context, auditID string, detail []byte, filesAnalyzed *int) error
	CompleteAudit(ctx context.Context, auditID string, status models.AuditStatus, summary *models.ReportSummary, maxSeverity models.Severity, costUSD float64) error
	FailAudit(ctx context.Context, auditID, message string, costUSD float64) error
	FailStuckAudits(ctx context.Context, timeout time.Duration) (int64, error)

	// Disclosure state
	PublishAudit(ctx context.Context, auditID string) error
	UnpublishAudit(ctx context.Context, auditID string) error
	MarkOwnerNotified(ctx context.Context, auditID string, publishableAfter *time.Time) (bool, error)

	// Audit provenance and component rollups
	UpsertAuditCommit(ctx context.Context, commit *models.AuditCommit) error
	GetAuditCommits(ctx context.Context, auditID string) ([]*models.AuditCommit, error)
	UpsertAuditComponent(ctx context.Context, ac *models.AuditComponent) error
	GetAuditComponents(ctx context.Context, auditID string) ([]*models.AuditComponent, error)

	// Finding operations
	InsertFindings(ctx context.Context, findings []*models.Finding) error
	GetFindings(ctx context.Context, auditID string) ([]*models.Finding, error)
	GetOpenFindings(ctx context.Context, auditID string) ([]*models.Finding, error)
	GetFinding(ctx context.Context, findingID string) (*models.Finding, error)
	UpdateFindingStatus(ctx context.Context, findingID string, status models.FindingStatus) error
	UpdateFindingComponent(ctx context.Context, findingID, componentID string) error
	MarkFindingResolved(ctx context.Context, findingID, resolvedInAuditID string) error
	CountFindingsBySeverity(ctx context.Context, auditID string) (map[models.Severity]int, error)

	// Ownership cache operations
	GetOwnership(ctx context.Context, userID int64, org string) (*models.OwnershipCacheEntry, error)
	UpsertOwnership(ctx context.Context, entry *models.OwnershipCacheEntry) error
	InvalidateOwnership(ctx context.Context, userID int64) error
	PruneOwnershipCache(ctx context.Context) (int64, error)

	// Pricing operations
	GetModelPricing(ctx context.Context, modelID string) (*models.ModelPricing, error)
	UpsertModelPricing(ctx context.Context, rows []models.ModelPricing) error

	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error
}
