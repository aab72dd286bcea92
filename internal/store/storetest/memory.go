// Package storetest provides an in-memory Store for tests that exercise the
// pipeline and the HTTP handlers without a database. Semantics mirror the
// Postgres implementation: sentinel errors, terminal-status guards, and
// once-only notification marking.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
)

var _ store.Store = (*Memory)(nil)

// Memory implements store.Store with maps.
type Memory struct {
	mu sync.Mutex

	projects     map[string]*models.Project
	repos        map[string]*models.Repository // by id
	reposByURL   map[string]string
	projectRepos map[string][]projectRepo // by project id
	components   map[string]*models.Component
	dependencies map[string][]*models.ProjectDependency // by project id
	audits       map[string]*models.Audit
	commits      map[string][]*models.AuditCommit    // by audit id
	auditComps   map[string][]*models.AuditComponent // by audit id
	findings     map[string]*models.Finding
	findingOrder []string
	ownership    map[ownershipKey]*models.OwnershipCacheEntry
	pricing      map[string]*models.ModelPricing

	seq     int64
	nowFunc func() time.Time
}

type projectRepo struct {
	repoID string
	branch *string
}

type ownershipKey struct {
	userID int64
	org    string
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{
		projects:     make(map[string]*models.Project),
		repos:        make(map[string]*models.Repository),
		reposByURL:   make(map[string]string),
		projectRepos: make(map[string][]projectRepo),
		components:   make(map[string]*models.Component),
		dependencies: make(map[string][]*models.ProjectDependency),
		audits:       make(map[string]*models.Audit),
		commits:      make(map[string][]*models.AuditCommit),
		auditComps:   make(map[string][]*models.AuditComponent),
		findings:     make(map[string]*models.Finding),
		ownership:    make(map[ownershipKey]*models.OwnershipCacheEntry),
		pricing:      make(map[string]*models.ModelPricing),
		nowFunc:      time.Now,
	}
}

// SetNow overrides the clock, for expiry tests.
func (m *Memory) SetNow(now func() time.Time) { m.nowFunc = now }

func (m *Memory) now() time.Time { return m.nowFunc() }

func (m *Memory) nextSeq() time.Time {
	m.seq++
	// Distinct timestamps keep ordering deterministic even within one test tick.
	return m.now().Add(time.Duration(m.seq) * time.Microsecond)
}

// Project operations

func (m *Memory) CreateProject(_ context.Context, project *models.Project, repos []store.NewProjectRepo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(repos))
	for _, pr := range repos {
		names = append(names, pr.Repo.RepoName)
	}
	sort.Strings(names)
	key := strings.Join(names, ",")

	for _, existing := range m.projects {
		if existing.CreatedBy == project.CreatedBy &&
			existing.GithubOrg == project.GithubOrg &&
			existing.RepoNamesKey == key {
			return store.ErrConflict
		}
	}

	var links []projectRepo
	for _, pr := range repos {
		if id, ok := m.reposByURL[pr.Repo.RepoURL]; ok {
			pr.Repo.ID = id
			m.repos[id].RepoName = pr.Repo.RepoName
		} else {
			cp := *pr.Repo
			m.repos[cp.ID] = &cp
			m.reposByURL[cp.RepoURL] = cp.ID
		}
		links = append(links, projectRepo{repoID: pr.Repo.ID, branch: pr.Branch})
	}

	cp := *project
	cp.RepoNamesKey = key
	cp.CreatedAt = m.nextSeq()
	cp.UpdatedAt = cp.CreatedAt
	m.projects[cp.ID] = &cp
	m.projectRepos[cp.ID] = links
	return nil
}

func (m *Memory) GetProject(_ context.Context, projectID string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetProjectRepos(_ context.Context, projectID string) ([]store.ProjectRepoDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ProjectRepoDetail
	for _, link := range m.projectRepos[projectID] {
		repo, ok := m.repos[link.repoID]
		if !ok {
			continue
		}
		out = append(out, store.ProjectRepoDetail{Repository: *repo, Branch: link.branch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoName < out[j].RepoName })
	return out, nil
}

func (m *Memory) ListProjectAudits(_ context.Context, projectID string) ([]*models.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Audit
	for _, a := range m.audits {
		if a.ProjectID == projectID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateProjectClassification(_ context.Context, projectID string, c *store.ClassificationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return store.ErrNotFound
	}
	if p.Category != nil {
		return nil
	}
	category, description, source := c.Category, c.Description, c.Source
	p.Category = &category
	p.Description = &description
	p.InvolvedParties = c.InvolvedParties
	p.ThreatModel = c.ThreatModel
	p.ThreatModelSource = &source
	p.ThreatModelFiles = append([]string(nil), c.SourceFiles...)
	auditID := c.AuditID
	p.ClassificationAuditID = &auditID
	p.UpdatedAt = m.now()
	return nil
}

func (m *Memory) UpdateRepositoryDefaultBranch(_ context.Context, repoID, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if repo, ok := m.repos[repoID]; ok {
		b := branch
		repo.DefaultBranch = &b
	}
	return nil
}

// Component operations

func (m *Memory) GetComponents(_ context.Context, projectID string) ([]*models.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Component
	for _, c := range m.components {
		if c.ProjectID == projectID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetComponentsByIDs(_ context.Context, ids []string) ([]*models.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Component
	for _, id := range ids {
		if c, ok := m.components[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) ReplaceComponents(_ context.Context, projectID string, components []*models.Component, dependencies []*models.ProjectDependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	referenced := make(map[string]bool)
	for _, acs := range m.auditComps {
		for _, ac := range acs {
			referenced[ac.ComponentID] = true
		}
	}
	for _, f := range m.findings {
		if f.ComponentID != nil {
			referenced[*f.ComponentID] = true
		}
	}
	for id, c := range m.components {
		if c.ProjectID == projectID && !referenced[id] {
			delete(m.components, id)
		}
	}
	for _, c := range components {
		cp := *c
		cp.CreatedAt = m.now()
		m.components[cp.ID] = &cp
	}

	deps := make([]*models.ProjectDependency, 0, len(dependencies))
	for _, d := range dependencies {
		cp := *d
		deps = append(deps, &cp)
	}
	m.dependencies[projectID] = deps
	return nil
}

// Audit lifecycle

func (m *Memory) CreateAudit(_ context.Context, audit *models.Audit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *audit
	if len(cp.ProgressDetail) == 0 {
		cp.ProgressDetail = models.JSONText(`{}`)
	}
	cp.CreatedAt = m.nextSeq()
	m.audits[cp.ID] = &cp
	return nil
}

func (m *Memory) GetAudit(_ context.Context, auditID string) (*models.Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[auditID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) StartAudit(_ context.Context, auditID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[auditID]
	if !ok {
		return store.ErrNotFound
	}
	if a.StartedAt == nil {
		now := m.now()
		a.StartedAt = &now
		a.Status = models.AuditCloning
	}
	return nil
}

func (m *Memory) SetAuditStatus(_ context.Context, auditID string, status models.AuditStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[auditID]
	if !ok || a.Status.Terminal() {
		return store.ErrConflict
	}
	a.Status = status
	return nil
}

func (m *Memory) UpdateAuditTotals(_ context.Context, auditID string, totalFiles, totalTokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.audits[auditID]; ok {
		a.TotalFiles = totalFiles
		a.TotalTokens = totalTokens
	}
	return nil
}

func (m *Memory) UpdateAuditPlan(_ context.Context, auditID string, filesToAnalyze, tokensToAnalyze int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.audits[auditID]; ok {
		a.FilesToAnalyze = filesToAnalyze
		a.TokensToAnalyze = tokensToAnalyze
	}
	return nil
}

func (m *Memory) SetAuditDiff(_ context.Context, auditID string, added, modified, deleted []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.audits[auditID]; ok {
		a.DiffFilesAdded = append([]string(nil), added...)
		a.DiffFilesModified = append([]string(nil), modified...)
		a.DiffFilesDeleted = append([]string(nil), deleted...)
	}
	return nil
}

func (m *Memory) WriteAuditProgress(_ context.Context, auditID string, detail []byte, filesAnalyzed *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.audits[auditID]; ok {
		a.ProgressDetail = append(models.JSONText(nil), detail...)
		if filesAnalyzed != nil {
			a.FilesAnalyzed = *filesAnalyzed
		}
	}
	return nil
}

func (m *Memory) CompleteAudit(_ context.Context, auditID string, status models.AuditStatus, summary *models.ReportSummary, maxSeverity models.Severity, costUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[auditID]
	if !ok || a.Status.Terminal() {
		return store.ErrConflict
	}
	now := m.now()
	a.Status = status
	a.ReportSummary = summary
	sev := maxSeverity
	a.MaxSeverity = &sev
	a.ActualCostUSD = costUSD
	a.CompletedAt = &now
	return nil
}

func (m *Memory) FailAudit(_ context.Context, auditID, message string, costUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[auditID]
	if !ok || a.Status.Terminal() {
		return store.ErrConflict
	}
	now := m.now()
	a.Status = models.AuditFailed
	msg := message
	a.ErrorMessage = &msg
	a.ActualCostUSD = costUSD
	a.CompletedAt = &now
	return nil
}

func (m *Memory) FailStuckAudits(_ context.Context, timeout time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-timeout)
	var n int64
	for _, a := range m.audits {
		if a.Status.Terminal() {
			continue
		}
		started := a.CreatedAt
		if a.StartedAt != nil {
			started = *a.StartedAt
		}
		if started.Before(cutoff) {
			now := m.now()
			msg := "cancelled: audit exceeded the time limit"
			a.Status = models.AuditFailed
			a.ErrorMessage = &msg
			a.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

// Disclosure state

func (m *Memory) PublishAudit(_ context.Context, auditID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[auditID]
	if !ok {
		return store.ErrNotFound
	}
	a.IsPublic = true
	return nil
}

func (m *Memory) UnpublishAudit(_ context.Context, auditID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[auditID]
	if !ok {
		return store.ErrNotFound
	}
	a.IsPublic = false
	a.PublishableAfter = nil
	return nil
}

func (m *Memory) MarkOwnerNotified(_ context.Context, auditID string, publishableAfter *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[auditID]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.OwnerNotified {
		return false, nil
	}
	now := m.now()
	a.OwnerNotified = true
	a.OwnerNotifiedAt = &now
	a.PublishableAfter = publishableAfter
	return true, nil
}

// Audit provenance and component rollups

func (m *Memory) UpsertAuditCommit(_ context.Context, commit *models.AuditCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *commit
	for i, existing := range m.commits[commit.AuditID] {
		if existing.RepoID == commit.RepoID {
			m.commits[commit.AuditID][i] = &cp
			return nil
		}
	}
	m.commits[commit.AuditID] = append(m.commits[commit.AuditID], &cp)
	return nil
}

func (m *Memory) GetAuditCommits(_ context.Context, auditID string) ([]*models.AuditCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditCommit
	for _, c := range m.commits[auditID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) UpsertAuditComponent(_ context.Context, ac *models.AuditComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ac
	for i, existing := range m.auditComps[ac.AuditID] {
		if existing.ComponentID == ac.ComponentID {
			m.auditComps[ac.AuditID][i] = &cp
			return nil
		}
	}
	m.auditComps[ac.AuditID] = append(m.auditComps[ac.AuditID], &cp)
	return nil
}

func (m *Memory) GetAuditComponents(_ context.Context, auditID string) ([]*models.AuditComponent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditComponent
	for _, ac := range m.auditComps[auditID] {
		cp := *ac
		out = append(out, &cp)
	}
	return out, nil
}

// Finding operations

func (m *Memory) InsertFindings(_ context.Context, findings []*models.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range findings {
		if m.fingerprintExists(f.AuditID, f.Fingerprint) {
			continue
		}
		cp := *f
		cp.CreatedAt = m.nextSeq()
		m.findings[cp.ID] = &cp
		m.findingOrder = append(m.findingOrder, cp.ID)
	}
	return nil
}

func (m *Memory) fingerprintExists(auditID, fingerprint string) bool {
	for _, f := range m.findings {
		if f.AuditID == auditID && f.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

func (m *Memory) GetFindings(_ context.Context, auditID string) ([]*models.Finding, error) {
	return m.findingsWhere(auditID, func(*models.Finding) bool { return true })
}

func (m *Memory) GetOpenFindings(_ context.Context, auditID string) ([]*models.Finding, error) {
	return m.findingsWhere(auditID, func(f *models.Finding) bool { return f.Status == models.FindingOpen })
}

func (m *Memory) findingsWhere(auditID string, keep func(*models.Finding) bool) ([]*models.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Finding
	for _, id := range m.findingOrder {
		f := m.findings[id]
		if f.AuditID == auditID && keep(f) {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) GetFinding(_ context.Context, findingID string) (*models.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.findings[findingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *Memory) UpdateFindingStatus(_ context.Context, findingID string, status models.FindingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.findings[findingID]
	if !ok {
		return store.ErrNotFound
	}
	f.Status = status
	return nil
}

func (m *Memory) UpdateFindingComponent(_ context.Context, findingID, componentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.findings[findingID]; ok {
		id := componentID
		f.ComponentID = &id
	}
	return nil
}

func (m *Memory) MarkFindingResolved(_ context.Context, findingID, resolvedInAuditID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.findings[findingID]; ok {
		id := resolvedInAuditID
		f.ResolvedInAuditID = &id
	}
	return nil
}

func (m *Memory) CountFindingsBySeverity(_ context.Context, auditID string) (map[models.Severity]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.Severity]int)
	for _, f := range m.findings {
		if f.AuditID == auditID {
			counts[f.Severity]++
		}
	}
	return counts, nil
}

// Ownership cache operations

func (m *Memory) GetOwnership(_ context.Context, userID int64, org string) (*models.OwnershipCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ownership[ownershipKey{userID, org}]
	if !ok || !entry.ExpiresAt.After(m.now()) {
		return nil, store.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *Memory) UpsertOwnership(_ context.Context, entry *models.OwnershipCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.ownership[ownershipKey{entry.UserID, entry.GithubOrg}] = &cp
	return nil
}

func (m *Memory) InvalidateOwnership(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.ownership {
		if k.userID == userID {
			delete(m.ownership, k)
		}
	}
	return nil
}

func (m *Memory) PruneOwnershipCache(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, entry := range m.ownership {
		if !entry.ExpiresAt.After(m.now()) {
			delete(m.ownership, k)
			n++
		}
	}
	return n, nil
}

// Pricing operations

func (m *Memory) GetModelPricing(_ context.Context, modelID string) (*models.ModelPricing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pricing[modelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) UpsertModelPricing(_ context.Context, rows []models.ModelPricing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		cp := row
		m.pricing[row.ModelID] = &cp
	}
	return nil
}

// Health and lifecycle

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
