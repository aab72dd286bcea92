package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/codewatch/codewatch-go/internal/models"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL store. Non-positive pool sizes
// fall back to defaults.
func NewPostgresStore(dsn string, maxOpen, maxIdle int, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		db:     db,
		logger: logger,
	}, nil
}

// Ping verifies the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Project operations

func (s *PostgresStore) CreateProject(ctx context.Context, project *models.Project, repos []NewProjectRepo) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Repositories are shared across projects, keyed by URL.
	names := make([]string, 0, len(repos))
	for _, pr := range repos {
		var id string
		err := tx.GetContext(ctx, &id, `
			INSERT INTO repositories (id, repo_url, repo_name, local_path, default_branch)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (repo_url) DO UPDATE SET repo_name = EXCLUDED.repo_name
			RETURNING id
		`, pr.Repo.ID, pr.Repo.RepoURL, pr.Repo.RepoName, pr.Repo.LocalPath, pr.Repo.DefaultBranch)
		if err != nil {
			return fmt.Errorf("upsert repository %s: %w", pr.Repo.RepoURL, err)
		}
		pr.Repo.ID = id
		names = append(names, pr.Repo.RepoName)
	}
	sort.Strings(names)

	query := `
		INSERT INTO projects (id, github_org, github_entity_type, created_by, name, repo_names_key)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.ExecContext(ctx, query,
		project.ID, project.GithubOrg, project.GithubEntityType,
		project.CreatedBy, project.Name, strings.Join(names, ","))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert project: %w", err)
	}

	for _, pr := range repos {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_repos (project_id, repo_id, branch)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, repo_id) DO NOTHING
		`, project.ID, pr.Repo.ID, pr.Branch)
		if err != nil {
			return fmt.Errorf("link repository: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	var project models.Project
	err := s.db.GetContext(ctx, &project, `SELECT * FROM projects WHERE id = $1`, projectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &project, nil
}

func (s *PostgresStore) GetProjectRepos(ctx context.Context, projectID string) ([]ProjectRepoDetail, error) {
	var repos []ProjectRepoDetail
	query := `
		SELECT r.*, pr.branch
		FROM repositories r
		JOIN project_repos pr ON pr.repo_id = r.id
		WHERE pr.project_id = $1
		ORDER BY r.repo_name
	`
	if err := s.db.SelectContext(ctx, &repos, query, projectID); err != nil {
		return nil, fmt.Errorf("get project repos: %w", err)
	}
	return repos, nil
}

func (s *PostgresStore) ListProjectAudits(ctx context.Context, projectID string) ([]*models.Audit, error) {
	var audits []*models.Audit
	query := `SELECT * FROM audits WHERE project_id = $1 ORDER BY created_at DESC`
	if err := s.db.SelectContext(ctx, &audits, query, projectID); err != nil {
		return nil, fmt.Errorf("list project audits: %w", err)
	}
	return audits, nil
}

func (s *PostgresStore) UpdateProjectClassification(ctx context.Context, projectID string, c *ClassificationUpdate) error {
	// Classification is written once by the first successful audit.
	query := `
		UPDATE projects SET
			category = $2,
			description = $3,
			involved_parties = $4,
			threat_model = $5,
			threat_model_source = $6,
			threat_model_files = $7,
			classification_audit_id = $8,
			updated_at = now()
		WHERE id = $1 AND category IS NULL
	`
	_, err := s.db.ExecContext(ctx, query,
		projectID, c.Category, c.Description, c.InvolvedParties,
		c.ThreatModel, c.Source, pq.Array(c.SourceFiles), c.AuditID)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRepositoryDefaultBranch(ctx context.Context, repoID, branch string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET default_branch = $2 WHERE id = $1`, repoID, branch)
	if err != nil {
		return fmt.Errorf("update default branch: %w", err)
	}
	return nil
}

// Component operations

func (s *PostgresStore) GetComponents(ctx context.Context, projectID string) ([]*models.Component, error) {
	var components []*models.Component
	query := `SELECT * FROM components WHERE project_id = $1 ORDER BY name`
	if err := s.db.SelectContext(ctx, &components, query, projectID); err != nil {
		return nil, fmt.Errorf("get components: %w", err)
	}
	return components, nil
}

func (s *PostgresStore) GetComponentsByIDs(ctx context.Context, ids []string) ([]*models.Component, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM components WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build component query: %w", err)
	}
	var components []*models.Component
	if err := s.db.SelectContext(ctx, &components, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get components by ids: %w", err)
	}
	return components, nil
}

func (s *PostgresStore) ReplaceComponents(ctx context.Context, projectID string, components []*models.Component, dependencies []*models.ProjectDependency) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Components referenced by historical audits are preserved.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM components c
		WHERE c.project_id = $1
		  AND NOT EXISTS (SELECT 1 FROM audit_components ac WHERE ac.component_id = c.id)
		  AND NOT EXISTS (SELECT 1 FROM audit_findings f WHERE f.component_id = c.id)
	`, projectID)
	if err != nil {
		return fmt.Errorf("delete components: %w", err)
	}

	compQuery := `
		INSERT INTO components (id, project_id, repo_id, name, description, role,
			file_patterns, languages, security_profile, estimated_files, estimated_tokens)
		VALUES (:id, :project_id, :repo_id, :name, :description, :role,
			:file_patterns, :languages, :security_profile, :estimated_files, :estimated_tokens)
	`
	for _, c := range components {
		if _, err := tx.NamedExecContext(ctx, compQuery, c); err != nil {
			return fmt.Errorf("insert component %s: %w", c.Name, err)
		}
	}

	// Dependencies are fully replaced.
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_dependencies WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("delete dependencies: %w", err)
	}

	depQuery := `
		INSERT INTO project_dependencies (id, project_id, repo_id, name, version,
			ecosystem, source_repo_url, linked_project_id)
		VALUES (:id, :project_id, :repo_id, :name, :version,
			:ecosystem, :source_repo_url, :linked_project_id)
		ON CONFLICT (project_id, repo_id, name, ecosystem) DO NOTHING
	`
	for _, d := range dependencies {
		if _, err := tx.NamedExecContext(ctx, depQuery, d); err != nil {
			return fmt.Errorf("insert dependency %s: %w", d.Name, err)
		}
	}

	return tx.Commit()
}

// Audit lifecycle

func (s *PostgresStore) CreateAudit(ctx context.Context, audit *models.Audit) error {
	if len(audit.ProgressDetail) == 0 {
		audit.ProgressDetail = models.JSONText(`{}`)
	}
	query := `
		INSERT INTO audits (id, project_id, requester_id, level, is_incremental,
			base_audit_id, component_ids, status, progress_detail)
		VALUES (:id, :project_id, :requester_id, :level, :is_incremental,
			:base_audit_id, :component_ids, :status, :progress_detail)
	`
	if _, err := s.db.NamedExecContext(ctx, query, audit); err != nil {
		return fmt.Errorf("create audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAudit(ctx context.Context, auditID string) (*models.Audit, error) {
	var audit models.Audit
	err := s.db.GetContext(ctx, &audit, `SELECT * FROM audits WHERE id = $1`, auditID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get audit: %w", err)
	}
	return &audit, nil
}

func (s *PostgresStore) StartAudit(ctx context.Context, auditID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET status = $2, started_at = now()
		WHERE id = $1 AND started_at IS NULL
	`, auditID, models.AuditCloning)
	if err != nil {
		return fmt.Errorf("start audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAuditStatus(ctx context.Context, auditID string, status models.AuditStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audits SET status = $2
		WHERE id = $1 AND status NOT IN ('completed', 'completed_with_warnings', 'failed')
	`, auditID, status)
	if err != nil {
		return fmt.Errorf("set audit status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) UpdateAuditTotals(ctx context.Context, auditID string, totalFiles, totalTokens int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET total_files = $2, total_tokens = $3 WHERE id = $1
	`, auditID, totalFiles, totalTokens)
	if err != nil {
		return fmt.Errorf("update audit totals: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAuditPlan(ctx context.Context, auditID string, filesToAnalyze, tokensToAnalyze int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET files_to_analyze = $2, tokens_to_analyze = $3 WHERE id = $1
	`, auditID, filesToAnalyze, tokensToAnalyze)
	if err != nil {
		return fmt.Errorf("update audit plan: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAuditDiff(ctx context.Context, auditID string, added, modified, deleted []string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET diff_files_added = $2, diff_files_modified = $3, diff_files_deleted = $4
		WHERE id = $1
	`, auditID, pq.Array(added), pq.Array(modified), pq.Array(deleted))
	if err != nil {
		return fmt.Errorf("set audit diff: %w", err)
	}
	return nil
}

// WriteAuditProgress stores a progress record, optionally updating the
// files_analyzed counter in the same write.
func (s *PostgresStore) WriteAuditProgress(ctx context.Context, auditID string, detail []byte, filesAnalyzed *int) error {
	var err error
	if filesAnalyzed != nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE audits SET progress_detail = $2, files_analyzed = $3 WHERE id = $1
		`, auditID, detail, *filesAnalyzed)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE audits SET progress_detail = $2 WHERE id = $1
		`, auditID, detail)
	}
	if err != nil {
		return fmt.Errorf("write audit progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteAudit(ctx context.Context, auditID string, status models.AuditStatus, summary *models.ReportSummary, maxSeverity models.Severity, costUSD float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audits SET status = $2, report_summary = $3, max_severity = $4,
			actual_cost_usd = $5, completed_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'completed_with_warnings', 'failed')
	`, auditID, status, summary, maxSeverity, costUSD)
	if err != nil {
		return fmt.Errorf("complete audit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) FailAudit(ctx context.Context, auditID, message string, costUSD float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audits SET status = 'failed', error_message = $2, actual_cost_usd = $3,
			completed_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'completed_with_warnings', 'failed')
	`, auditID, message, costUSD)
	if err != nil {
		return fmt.Errorf("fail audit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// FailStuckAudits marks non-terminal audits older than timeout as failed.
func (s *PostgresStore) FailStuckAudits(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE audits SET status = 'failed',
			error_message = 'cancelled: audit exceeded the time limit',
			completed_at = now()
		WHERE status NOT IN ('completed', 'completed_with_warnings', 'failed')
		  AND COALESCE(started_at, created_at) < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stuck audits: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.WithField("count", n).Warn("failed stuck audits")
	}
	return n, nil
}

// Disclosure state

func (s *PostgresStore) PublishAudit(ctx context.Context, auditID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE audits SET is_public = TRUE WHERE id = $1`, auditID)
	if err != nil {
		return fmt.Errorf("publish audit: %w", err)
	}
	return nil
}

// UnpublishAudit clears is_public and cancels any pending auto-publication.
func (s *PostgresStore) UnpublishAudit(ctx context.Context, auditID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET is_public = FALSE, publishable_after = NULL WHERE id = $1
	`, auditID)
	if err != nil {
		return fmt.Errorf("unpublish audit: %w", err)
	}
	return nil
}

// MarkOwnerNotified records the notification exactly once. Returns false when
// the audit was already notified; callers then read the stored values.
func (s *PostgresStore) MarkOwnerNotified(ctx context.Context, auditID string, publishableAfter *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audits SET owner_notified = TRUE, owner_notified_at = now(), publishable_after = $2
		WHERE id = $1 AND owner_notified = FALSE
	`, auditID, publishableAfter)
	if err != nil {
		return false, fmt.Errorf("mark owner notified: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Audit provenance and component rollups

func (s *PostgresStore) UpsertAuditCommit(ctx context.Context, commit *models.AuditCommit) error {
	query := `
		INSERT INTO audit_commits (audit_id, repo_id, commit_sha, branch)
		VALUES (:audit_id, :repo_id, :commit_sha, :branch)
		ON CONFLICT (audit_id, repo_id) DO UPDATE SET
			commit_sha = EXCLUDED.commit_sha,
			branch = EXCLUDED.branch
	`
	if _, err := s.db.NamedExecContext(ctx, query, commit); err != nil {
		return fmt.Errorf("upsert audit commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAuditCommits(ctx context.Context, auditID string) ([]*models.AuditCommit, error) {
	var commits []*models.AuditCommit
	query := `SELECT * FROM audit_commits WHERE audit_id = $1`
	if err := s.db.SelectContext(ctx, &commits, query, auditID); err != nil {
		return nil, fmt.Errorf("get audit commits: %w", err)
	}
	return commits, nil
}

func (s *PostgresStore) UpsertAuditComponent(ctx context.Context, ac *models.AuditComponent) error {
	query := `
		INSERT INTO audit_components (audit_id, component_id, tokens_analyzed, findings_count)
		VALUES (:audit_id, :component_id, :tokens_analyzed, :findings_count)
		ON CONFLICT (audit_id, component_id) DO UPDATE SET
			tokens_analyzed = EXCLUDED.tokens_analyzed,
			findings_count = EXCLUDED.findings_count
	`
	if _, err := s.db.NamedExecContext(ctx, query, ac); err != nil {
		return fmt.Errorf("upsert audit component: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAuditComponents(ctx context.Context, auditID string) ([]*models.AuditComponent, error) {
	var acs []*models.AuditComponent
	query := `SELECT * FROM audit_components WHERE audit_id = $1`
	if err := s.db.SelectContext(ctx, &acs, query, auditID); err != nil {
		return nil, fmt.Errorf("get audit components: %w", err)
	}
	return acs, nil
}

// Finding operations

func (s *PostgresStore) InsertFindings(ctx context.Context, findings []*models.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO audit_findings (id, audit_id, component_id, file_path, line_start,
			line_end, severity, cwe_id, cvss_score, title, description, exploitation,
			recommendation, code_snippet, status, fingerprint, resolved_in_audit_id)
		VALUES (:id, :audit_id, :component_id, :file_path, :line_start,
			:line_end, :severity, :cwe_id, :cvss_score, :title, :description, :exploitation,
			:recommendation, :code_snippet, :status, :fingerprint, :resolved_in_audit_id)
		ON CONFLICT (audit_id, fingerprint) DO NOTHING
	`
	for _, f := range findings {
		if _, err := tx.NamedExecContext(ctx, query, f); err != nil {
			return fmt.Errorf("insert finding: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetFindings(ctx context.Context, auditID string) ([]*models.Finding, error) {
	var findings []*models.Finding
	query := `SELECT * FROM audit_findings WHERE audit_id = $1 ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &findings, query, auditID); err != nil {
		return nil, fmt.Errorf("get findings: %w", err)
	}
	return findings, nil
}

func (s *PostgresStore) GetOpenFindings(ctx context.Context, auditID string) ([]*models.Finding, error) {
	var findings []*models.Finding
	query := `SELECT * FROM audit_findings WHERE audit_id = $1 AND status = 'open' ORDER BY created_at, id`
	if err := s.db.SelectContext(ctx, &findings, query, auditID); err != nil {
		return nil, fmt.Errorf("get open findings: %w", err)
	}
	return findings, nil
}

func (s *PostgresStore) GetFinding(ctx context.Context, findingID string) (*models.Finding, error) {
	var finding models.Finding
	err := s.db.GetContext(ctx, &finding, `SELECT * FROM audit_findings WHERE id = $1`, findingID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get finding: %w", err)
	}
	return &finding, nil
}

func (s *PostgresStore) UpdateFindingStatus(ctx context.Context, findingID string, status models.FindingStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_findings SET status = $2 WHERE id = $1`, findingID, status)
	if err != nil {
		return fmt.Errorf("update finding status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateFindingComponent(ctx context.Context, findingID, componentID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_findings SET component_id = $2 WHERE id = $1`, findingID, componentID)
	if err != nil {
		return fmt.Errorf("update finding component: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFindingResolved(ctx context.Context, findingID, resolvedInAuditID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_findings SET resolved_in_audit_id = $2 WHERE id = $1`,
		findingID, resolvedInAuditID)
	if err != nil {
		return fmt.Errorf("mark finding resolved: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountFindingsBySeverity(ctx context.Context, auditID string) (map[models.Severity]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT severity, COUNT(*) FROM audit_findings WHERE audit_id = $1 GROUP BY severity
	`, auditID)
	if err != nil {
		return nil, fmt.Errorf("count findings: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Severity]int)
	for rows.Next() {
		var severity models.Severity
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		counts[severity] = count
	}
	return counts, rows.Err()
}

// Ownership cache operations

func (s *PostgresStore) GetOwnership(ctx context.Context, userID int64, org string) (*models.OwnershipCacheEntry, error) {
	var entry models.OwnershipCacheEntry
	query := `
		SELECT * FROM ownership_cache
		WHERE user_id = $1 AND github_org = $2 AND expires_at > now()
	`
	err := s.db.GetContext(ctx, &entry, query, userID, org)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ownership: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) UpsertOwnership(ctx context.Context, entry *models.OwnershipCacheEntry) error {
	query := `
		INSERT INTO ownership_cache (user_id, github_org, is_owner, role, expires_at)
		VALUES (:user_id, :github_org, :is_owner, :role, :expires_at)
		ON CONFLICT (user_id, github_org) DO UPDATE SET
			is_owner = EXCLUDED.is_owner,
			role = EXCLUDED.role,
			expires_at = EXCLUDED.expires_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("upsert ownership: %w", err)
	}
	return nil
}

func (s *PostgresStore) InvalidateOwnership(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ownership_cache WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("invalidate ownership: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneOwnershipCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ownership_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("prune ownership cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Pricing operations

func (s *PostgresStore) GetModelPricing(ctx context.Context, modelID string) (*models.ModelPricing, error) {
	var pricing models.ModelPricing
	err := s.db.GetContext(ctx, &pricing, `SELECT * FROM model_pricing WHERE model_id = $1`, modelID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get model pricing: %w", err)
	}
	return &pricing, nil
}

func (s *PostgresStore) UpsertModelPricing(ctx context.Context, rows []models.ModelPricing) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO model_pricing (model_id, input_cost_per_mtok, output_cost_per_mtok,
			context_window, max_output)
		VALUES (:model_id, :input_cost_per_mtok, :output_cost_per_mtok,
			:context_window, :max_output)
		ON CONFLICT (model_id) DO UPDATE SET
			input_cost_per_mtok = EXCLUDED.input_cost_per_mtok,
			output_cost_per_mtok = EXCLUDED.output_cost_per_mtok,
			context_window = EXCLUDED.context_window,
			max_output = EXCLUDED.max_output
	`
	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("upsert pricing %s: %w", row.ModelID, err)
		}
	}

	return tx.Commit()
}
