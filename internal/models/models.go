package models

import (
	"time"

	"github.com/lib/pq"
)

// AuditLevel controls how much of a project's token volume an audit may spend.
type AuditLevel string

const (
	LevelFull          AuditLevel = "full"
	LevelThorough      AuditLevel = "thorough"
	LevelOpportunistic AuditLevel = "opportunistic"
)

// BudgetPct returns the fraction of total tokens the level is allowed to analyze.
func (l AuditLevel) BudgetPct() float64 {
	switch l {
	case LevelFull:
		return 1.0
	case LevelThorough:
		return 0.33
	case LevelOpportunistic:
		return 0.10
	default:
		return 0
	}
}

// Valid reports whether l is a known audit level.
func (l AuditLevel) Valid() bool {
	switch l {
	case LevelFull, LevelThorough, LevelOpportunistic:
		return true
	}
	return false
}

// AuditStatus is the orchestrator state visible to pollers.
type AuditStatus string

const (
	AuditPending               AuditStatus = "pending"
	AuditCloning               AuditStatus = "cloning"
	AuditClassifying           AuditStatus = "classifying"
	AuditPlanning              AuditStatus = "planning"
	AuditAnalyzing             AuditStatus = "analyzing"
	AuditSynthesizing          AuditStatus = "synthesizing"
	AuditCompleted             AuditStatus = "completed"
	AuditCompletedWithWarnings AuditStatus = "completed_with_warnings"
	AuditFailed                AuditStatus = "failed"
)

// Terminal reports whether the status is final; terminal audits are immutable.
func (s AuditStatus) Terminal() bool {
	switch s {
	case AuditCompleted, AuditCompletedWithWarnings, AuditFailed:
		return true
	}
	return false
}

// Severity classifies a finding. "none" is only used for max-severity rollups
// on audits that produced no findings.
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
	SeverityNone          Severity = "none"
)

// severityRank orders severities; higher is worse.
var severityRank = map[Severity]int{
	SeverityCritical:      5,
	SeverityHigh:          4,
	SeverityMedium:        3,
	SeverityLow:           2,
	SeverityInformational: 1,
	SeverityNone:          0,
}

// SeverityRank returns the ordering rank of s; unknown severities rank as none.
func SeverityRank(s Severity) int {
	return severityRank[s]
}

// Valid reports whether s is a severity findings may carry.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational:
		return true
	}
	return false
}

// MaxSeverity returns the worst severity present, or "none" for an empty set.
func MaxSeverity(severities []Severity) Severity {
	max := SeverityNone
	for _, s := range severities {
		if SeverityRank(s) > SeverityRank(max) {
			max = s
		}
	}
	return max
}

// FindingStatus is the triage state of a finding.
type FindingStatus string

const (
	FindingOpen          FindingStatus = "open"
	FindingFixed         FindingStatus = "fixed"
	FindingFalsePositive FindingStatus = "false_positive"
	FindingAccepted      FindingStatus = "accepted"
	FindingWontFix       FindingStatus = "wont_fix"
)

// Valid reports whether s is a known finding status.
func (s FindingStatus) Valid() bool {
	switch s {
	case FindingOpen, FindingFixed, FindingFalsePositive, FindingAccepted, FindingWontFix:
		return true
	}
	return false
}

// ComponentRole describes the architectural role of a component.
type ComponentRole string

const (
	RoleServer  ComponentRole = "server"
	RoleClient  ComponentRole = "client"
	RoleLibrary ComponentRole = "library"
	RoleCLI     ComponentRole = "cli"
	RoleWorker  ComponentRole = "worker"
	RoleShared  ComponentRole = "shared"
	RoleConfig  ComponentRole = "config"
	RoleTest    ComponentRole = "test"
)

// AccessTier is the visibility level computed per report read.
type AccessTier string

const (
	TierOwner     AccessTier = "owner"
	TierRequester AccessTier = "requester"
	TierPublic    AccessTier = "public"
)

// Project groups the repositories of one GitHub org or user and carries the
// classification produced by the first successful audit.
type Project struct {
	ID                    string         `json:"id" db:"id"`
	GithubOrg             string         `json:"githubOrg" db:"github_org"`
	GithubEntityType      string         `json:"githubEntityType" db:"github_entity_type"`
	CreatedBy             int64          `json:"createdBy" db:"created_by"`
	Name                  string         `json:"name" db:"name"`
	Category              *string        `json:"category,omitempty" db:"category"`
	Description           *string        `json:"description,omitempty" db:"description"`
	InvolvedParties       JSONMap        `json:"involvedParties,omitempty" db:"involved_parties"`
	ThreatModel           *ThreatModel   `json:"threatModel,omitempty" db:"threat_model"`
	ThreatModelSource     *string        `json:"threatModelSource,omitempty" db:"threat_model_source"`
	ThreatModelFiles      pq.StringArray `json:"threatModelFiles,omitempty" db:"threat_model_files"`
	ClassificationAuditID *string        `json:"classificationAuditId,omitempty" db:"classification_audit_id"`
	// RepoNamesKey is the sorted repo name list backing the uniqueness
	// constraint on (creator, org, repos).
	RepoNamesKey string    `json:"-" db:"repo_names_key"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// ThreatModel is the narrative threat model plus the parties it names.
type ThreatModel struct {
	Text    string   `json:"text"`
	Parties []string `json:"parties,omitempty"`
}

// Repository is a cloneable source repository. LocalPath is derived from the
// URL so unrelated projects auditing the same repo share one checkout.
type Repository struct {
	ID            string    `json:"id" db:"id"`
	RepoURL       string    `json:"repoUrl" db:"repo_url"`
	RepoName      string    `json:"repoName" db:"repo_name"`
	LocalPath     string    `json:"localPath" db:"local_path"`
	DefaultBranch *string   `json:"defaultBranch,omitempty" db:"default_branch"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// ProjectRepo links a project to a repository with an optional branch override.
type ProjectRepo struct {
	ProjectID string  `json:"projectId" db:"project_id"`
	RepoID    string  `json:"repoId" db:"repo_id"`
	Branch    *string `json:"branch,omitempty" db:"branch"`
}

// Component is a project-scoped architectural unit defined by glob patterns.
type Component struct {
	ID              string           `json:"id" db:"id"`
	ProjectID       string           `json:"projectId" db:"project_id"`
	RepoID          string           `json:"repoId" db:"repo_id"`
	Name            string           `json:"name" db:"name"`
	Description     string           `json:"description" db:"description"`
	Role            ComponentRole    `json:"role" db:"role"`
	FilePatterns    pq.StringArray   `json:"filePatterns" db:"file_patterns"`
	Languages       pq.StringArray   `json:"languages" db:"languages"`
	SecurityProfile *SecurityProfile `json:"securityProfile,omitempty" db:"security_profile"`
	EstimatedFiles  int              `json:"estimatedFiles" db:"estimated_files"`
	EstimatedTokens int              `json:"estimatedTokens" db:"estimated_tokens"`
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
}

// SecurityProfile summarizes a component's security relevance.
type SecurityProfile struct {
	Summary        string   `json:"summary"`
	SensitiveAreas []string `json:"sensitive_areas,omitempty"`
	ThreatSurface  []string `json:"threat_surface,omitempty"`
}

// ProjectDependency is a third-party dependency discovered by the component agent.
type ProjectDependency struct {
	ID              string  `json:"id" db:"id"`
	ProjectID       string  `json:"projectId" db:"project_id"`
	RepoID          *string `json:"repoId,omitempty" db:"repo_id"`
	Name            string  `json:"name" db:"name"`
	Version         *string `json:"version,omitempty" db:"version"`
	Ecosystem       string  `json:"ecosystem" db:"ecosystem"`
	SourceRepoURL   *string `json:"sourceRepoUrl,omitempty" db:"source_repo_url"`
	LinkedProjectID *string `json:"linkedProjectId,omitempty" db:"linked_project_id"`
}

// Audit is one execution of the pipeline. Immutable once status is terminal.
type Audit struct {
	ID                string         `json:"id" db:"id"`
	ProjectID         string         `json:"projectId" db:"project_id"`
	RequesterID       int64          `json:"requesterId" db:"requester_id"`
	Level             AuditLevel     `json:"level" db:"level"`
	IsIncremental     bool           `json:"isIncremental" db:"is_incremental"`
	BaseAuditID       *string        `json:"baseAuditId,omitempty" db:"base_audit_id"`
	ComponentIDs      pq.StringArray `json:"componentIds,omitempty" db:"component_ids"`
	Status            AuditStatus    `json:"status" db:"status"`
	StartedAt         *time.Time     `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty" db:"completed_at"`
	TotalFiles        int            `json:"totalFiles" db:"total_files"`
	TotalTokens       int            `json:"totalTokens" db:"total_tokens"`
	FilesToAnalyze    int            `json:"filesToAnalyze" db:"files_to_analyze"`
	TokensToAnalyze   int            `json:"tokensToAnalyze" db:"tokens_to_analyze"`
	FilesAnalyzed     int            `json:"filesAnalyzed" db:"files_analyzed"`
	ProgressDetail    JSONText       `json:"progressDetail,omitempty" db:"progress_detail"`
	ReportSummary     *ReportSummary `json:"reportSummary,omitempty" db:"report_summary"`
	MaxSeverity       *Severity      `json:"maxSeverity,omitempty" db:"max_severity"`
	ActualCostUSD     float64        `json:"actualCostUsd" db:"actual_cost_usd"`
	ErrorMessage      *string        `json:"errorMessage,omitempty" db:"error_message"`
	IsPublic          bool           `json:"isPublic" db:"is_public"`
	PublishableAfter  *time.Time     `json:"publishableAfter,omitempty" db:"publishable_after"`
	OwnerNotified     bool           `json:"ownerNotified" db:"owner_notified"`
	OwnerNotifiedAt   *time.Time     `json:"ownerNotifiedAt,omitempty" db:"owner_notified_at"`
	DiffFilesAdded    pq.StringArray `json:"diffFilesAdded,omitempty" db:"diff_files_added"`
	DiffFilesModified pq.StringArray `json:"diffFilesModified,omitempty" db:"diff_files_modified"`
	DiffFilesDeleted  pq.StringArray `json:"diffFilesDeleted,omitempty" db:"diff_files_deleted"`
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
}

// ReportSummary is the synthesized audit report.
type ReportSummary struct {
	ExecutiveSummary      string `json:"executive_summary"`
	SecurityPosture       string `json:"security_posture,omitempty"`
	ResponsibleDisclosure string `json:"responsible_disclosure,omitempty"`
}

// AuditCommit records which commit of a repository an audit analyzed.
type AuditCommit struct {
	AuditID   string `json:"auditId" db:"audit_id"`
	RepoID    string `json:"repoId" db:"repo_id"`
	CommitSHA string `json:"commitSha" db:"commit_sha"`
	Branch    string `json:"branch" db:"branch"`
}

// Finding is a single security finding produced by an audit. FilePath is
// namespaced as <repoName>/<relativePath>.
type Finding struct {
	ID                string        `json:"id" db:"id"`
	AuditID           string        `json:"auditId" db:"audit_id"`
	ComponentID       *string       `json:"componentId,omitempty" db:"component_id"`
	FilePath          string        `json:"filePath" db:"file_path"`
	LineStart         int           `json:"lineStart" db:"line_start"`
	LineEnd           int           `json:"lineEnd" db:"line_end"`
	Severity          Severity      `json:"severity" db:"severity"`
	CWEID             string        `json:"cweId" db:"cwe_id"`
	CVSSScore         float64       `json:"cvssScore" db:"cvss_score"`
	Title             string        `json:"title" db:"title"`
	Description       string        `json:"description" db:"description"`
	Exploitation      string        `json:"exploitation" db:"exploitation"`
	Recommendation    string        `json:"recommendation" db:"recommendation"`
	CodeSnippet       string        `json:"codeSnippet" db:"code_snippet"`
	Status            FindingStatus `json:"status" db:"status"`
	Fingerprint       string        `json:"fingerprint" db:"fingerprint"`
	ResolvedInAuditID *string       `json:"resolvedInAuditId,omitempty" db:"resolved_in_audit_id"`
	CreatedAt         time.Time     `json:"createdAt" db:"created_at"`
}

// AuditComponent is the per-component rollup for a component-scoped audit.
type AuditComponent struct {
	AuditID        string `json:"auditId" db:"audit_id"`
	ComponentID    string `json:"componentId" db:"component_id"`
	TokensAnalyzed int    `json:"tokensAnalyzed" db:"tokens_analyzed"`
	FindingsCount  int    `json:"findingsCount" db:"findings_count"`
}

// OwnershipCacheEntry caches a (user, org) ownership resolution for 15 minutes.
type OwnershipCacheEntry struct {
	UserID    int64     `json:"userId" db:"user_id"`
	GithubOrg string    `json:"githubOrg" db:"github_org"`
	IsOwner   bool      `json:"isOwner" db:"is_owner"`
	Role      *string   `json:"role,omitempty" db:"role"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// ModelPricing is a row of the model pricing table, USD per million tokens.
type ModelPricing struct {
	ModelID           string  `json:"modelId" db:"model_id"`
	InputCostPerMtok  float64 `json:"inputCostPerMtok" db:"input_cost_per_mtok"`
	OutputCostPerMtok float64 `json:"outputCostPerMtok" db:"output_cost_per_mtok"`
	ContextWindow     int     `json:"contextWindow" db:"context_window"`
	MaxOutput         int     `json:"maxOutput" db:"max_output"`
}

// Viewer is the resolved identity of an API caller. A nil Viewer means an
// anonymous request. Token is the caller's GitHub token and never serialized.
type Viewer struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Token string `json:"-"`
}
