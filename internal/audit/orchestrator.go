// Package audit drives the pipeline that turns a created audit row into
// findings and a synthesized report: clone, classify, plan, analyze,
// synthesize, with incremental diffing and component attribution in between.
// Every phase transition and progress record is written durably so external
// pollers can follow along.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codewatch/codewatch-go/internal/agent"
	gh "github.com/codewatch/codewatch-go/internal/github"
	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/llm"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/metrics"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/planner"
	"github.com/codewatch/codewatch-go/internal/progress"
	"github.com/codewatch/codewatch-go/internal/store"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

// failWriteTimeout bounds the terminal-status write when the audit's own
// context is already dead.
const failWriteTimeout = 15 * time.Second

// LLM is the gateway slice the pipeline calls.
type LLM interface {
	Call(ctx context.Context, apiKey string, req llm.Request) (*llm.Result, error)
	Model() string
	MaxTokens() int
}

// Repos manages local checkouts.
type Repos interface {
	CloneOrUpdate(ctx context.Context, url, branch string, shallowSince *time.Time) (*gitrepo.CloneResult, error)
	Diff(ctx context.Context, path, baseSHA, headSHA string) (*gitrepo.Diff, error)
}

// Planner selects the files an audit will read.
type Planner interface {
	Plan(ctx context.Context, in planner.Input) (*planner.Plan, error)
}

// Mapper produces a project's component map.
type Mapper interface {
	MapProject(ctx context.Context, in agent.Input) (*agent.Result, error)
}

// CommitDater resolves commit timestamps for shallow incremental clones.
type CommitDater interface {
	CommitDate(ctx context.Context, owner, repo, sha string) (time.Time, error)
}

// Deps wires the orchestrator's collaborators. GitHub may be nil, which
// disables shallow-since resolution; Metrics may be nil.
type Deps struct {
	Store   store.Store
	Repos   Repos
	LLM     LLM
	Planner Planner
	Mapper  Mapper
	GitHub  CommitDater
	Bus     *progress.Bus
	Tokens  *tokens.Accountant
	Metrics *metrics.Recorder
}

// Orchestrator executes audits end to end.
type Orchestrator struct {
	store   store.Store
	repos   Repos
	llm     LLM
	planner Planner
	mapper  Mapper
	github  CommitDater
	bus     *progress.Bus
	tokens  *tokens.Accountant
	metrics *metrics.Recorder
}

func New(d Deps) *Orchestrator {
	return &Orchestrator{
		store:   d.Store,
		repos:   d.Repos,
		llm:     d.LLM,
		planner: d.Planner,
		mapper:  d.Mapper,
		github:  d.GitHub,
		bus:     d.Bus,
		tokens:  d.Tokens,
		metrics: d.Metrics,
	}
}

// repoState is one repository's clone and scan result within a run.
type repoState struct {
	detail store.ProjectRepoDetail
	clone  *gitrepo.CloneResult
	files  []gitrepo.RepoFile
}

// inheritedRef names a previous finding carried into an incremental audit,
// used to build the analysis context block.
type inheritedRef struct {
	Title     string
	Severity  models.Severity
	LineStart int
}

// run is the in-flight state of one audit task.
type run struct {
	audit   *models.Audit
	project *models.Project
	repos   []store.ProjectRepoDetail
	apiKey  string
	model   string
	pricing *models.ModelPricing

	byRepoID    map[string]*repoState
	baseCommits map[string]string
	files       []gitrepo.RepoFile
	totalTokens int
	scoped      []*models.Component
	selected    []gitrepo.RepoFile

	override   map[string]bool
	prevByFile map[string][]inheritedRef
	seen       map[string]bool

	fileState []progress.FileProgress
	fileIndex map[string]int
	analyzed  int

	warnings []string
	cost     float64
}

func (r *run) warn(msg string) {
	r.warnings = append(r.warnings, msg)
	logging.Warn("audit warning", "audit_id", r.audit.ID, "warning", msg)
}

func (r *run) setFileState(path string, status progress.FileStatus, findings int) {
	i, ok := r.fileIndex[path]
	if !ok {
		return
	}
	if r.fileState[i].Status == progress.FilePending {
		r.analyzed++
	}
	r.fileState[i].Status = status
	r.fileState[i].FindingsCount = findings
}

// Run executes one audit to a terminal status. The API key lives only in
// this call chain; it is never persisted or logged.
func (o *Orchestrator) Run(ctx context.Context, auditID, apiKey string) error {
	o.metrics.AuditStarted()

	r, err := o.prepare(ctx, auditID, apiKey)
	if err != nil {
		o.terminate(auditID, 0, err)
		o.metrics.AuditFinished(string(models.AuditFailed))
		return err
	}

	status, err := o.execute(ctx, r)
	if err != nil {
		o.terminate(auditID, r.cost, err)
		o.metrics.AuditFinished(string(models.AuditFailed))
		return err
	}
	o.metrics.AuditFinished(string(status))
	return nil
}

func (o *Orchestrator) prepare(ctx context.Context, auditID, apiKey string) (*run, error) {
	audit, err := o.store.GetAudit(ctx, auditID)
	if err != nil {
		return nil, fmt.Errorf("load audit: %w", err)
	}
	if audit.Status.Terminal() {
		return nil, fmt.Errorf("audit is already %s", audit.Status)
	}
	project, err := o.store.GetProject(ctx, audit.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	repos, err := o.store.GetProjectRepos(ctx, audit.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project repos: %w", err)
	}
	if len(repos) == 0 {
		return nil, errors.New("project has no repositories")
	}

	model := o.llm.Model()
	r := &run{
		audit:      audit,
		project:    project,
		repos:      repos,
		apiKey:     apiKey,
		model:      model,
		pricing:    o.tokens.Pricing(ctx, model),
		byRepoID:   make(map[string]*repoState),
		prevByFile: make(map[string][]inheritedRef),
		seen:       make(map[string]bool),
		fileIndex:  make(map[string]int),
	}

	if len(audit.ComponentIDs) > 0 {
		scoped, err := o.store.GetComponentsByIDs(ctx, audit.ComponentIDs)
		if err != nil {
			return nil, fmt.Errorf("load scoped components: %w", err)
		}
		if len(scoped) == 0 {
			return nil, errors.New("component scope matched no components")
		}
		r.scoped = scoped
	}
	return r, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (models.AuditStatus, error) {
	if err := o.phase(ctx, r, "cloning", o.clone); err != nil {
		return "", err
	}
	if r.audit.BaseAuditID != nil {
		if err := o.phase(ctx, r, "diffing", o.diffAndInherit); err != nil {
			return "", err
		}
	}
	if err := o.phase(ctx, r, "classifying", o.classify); err != nil {
		return "", err
	}
	if err := o.phase(ctx, r, "planning", o.plan); err != nil {
		return "", err
	}
	if err := o.phase(ctx, r, "analyzing", o.analyze); err != nil {
		return "", err
	}
	if err := o.phase(ctx, r, "attributing", o.attribute); err != nil {
		return "", err
	}

	start := time.Now()
	status, err := o.synthesize(ctx, r)
	o.metrics.ObservePhase("synthesizing", time.Since(start))
	return status, err
}

func (o *Orchestrator) phase(ctx context.Context, r *run, name string, fn func(context.Context, *run) error) error {
	start := time.Now()
	err := fn(ctx, r)
	o.metrics.ObservePhase(name, time.Since(start))
	return err
}

// terminate marks the audit failed. The run's context may already be dead,
// so the write uses its own short deadline.
func (o *Orchestrator) terminate(auditID string, cost float64, cause error) {
	msg := cause.Error()
	switch {
	case errors.Is(cause, context.Canceled):
		msg = "cancelled"
	case errors.Is(cause, context.DeadlineExceeded):
		msg = "timed out"
	}

	ctx, cancel := context.WithTimeout(context.Background(), failWriteTimeout)
	defer cancel()
	if err := o.store.FailAudit(ctx, auditID, msg, tokens.Round4(cost)); err != nil {
		logging.Error("could not mark audit failed", "audit_id", auditID, "error", err.Error())
	}
	logging.Error("audit failed", "audit_id", auditID, "error", cause.Error())
}

// resolveShallowSince asks the provider for the base commit's date so an
// incremental clone can stay shallow. Best-effort: failures fall back to a
// full-depth clone with a warning.
func (o *Orchestrator) resolveShallowSince(ctx context.Context, r *run, repoName, sha string) *time.Time {
	if o.github == nil {
		return nil
	}
	owner, name, err := gh.SplitRepo(repoName)
	if err != nil {
		r.warn(fmt.Sprintf("cannot derive owner of %s; using full clone", repoName))
		return nil
	}
	date, err := o.github.CommitDate(ctx, owner, name, sha)
	if err != nil {
		r.warn(fmt.Sprintf("could not resolve base commit date for %s; using full clone", repoName))
		return nil
	}
	return &date
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func threatText(tm *models.ThreatModel) string {
	if tm == nil {
		return ""
	}
	return tm.Text
}

func renderParties(parties models.JSONMap) string {
	if len(parties) == 0 {
		return ""
	}
	keys := make([]string, 0, len(parties))
	for key := range parties {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", key, parties[key])
	}
	return b.String()
}
