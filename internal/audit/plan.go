package audit

import (
	"context"
	"fmt"

	"github.com/codewatch/codewatch-go/internal/agent"
	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/planner"
	"github.com/codewatch/codewatch-go/internal/progress"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

// plan decides which files the analyze phase reads. Incremental audits skip
// the planning state entirely: their selection is exactly the diff's changed
// files. Fresh audits run the component agent (when the project has no map
// yet), then the planner, falling back to pattern heuristics on an empty
// plan.
func (o *Orchestrator) plan(ctx context.Context, r *run) error {
	if r.audit.BaseAuditID != nil {
		r.selected = selectByOverride(r.files, r.override)
		return o.recordPlan(ctx, r)
	}

	if err := o.store.SetAuditStatus(ctx, r.audit.ID, models.AuditPlanning); err != nil {
		return err
	}
	if err := o.bus.Write(ctx, r.audit.ID, progress.Planning(r.warnings)); err != nil {
		return err
	}

	o.mapComponents(ctx, r)
	if err := ctx.Err(); err != nil {
		return err
	}

	components, err := o.promptComponents(ctx, r)
	if err != nil {
		return err
	}

	plan, err := o.planner.Plan(ctx, planner.Input{
		APIKey:      r.apiKey,
		Model:       r.model,
		Level:       r.audit.Level,
		Files:       r.files,
		TotalTokens: r.totalTokens,
		Category:    deref(r.project.Category),
		Description: deref(r.project.Description),
		ThreatModel: threatText(r.project.ThreatModel),
		Components:  components,
	})
	if err != nil {
		return fmt.Errorf("plan audit: %w", err)
	}
	o.metrics.AddTokens(plan.Usage.InputTokens, plan.Usage.OutputTokens)
	r.cost += tokens.UsageCost(plan.Usage.InputTokens, plan.Usage.OutputTokens, r.pricing)

	r.selected = plan.Files
	if len(r.selected) == 0 {
		r.warn("planner selected no files; falling back to pattern heuristics")
		r.selected = planner.FallbackPlan(r.files, r.audit.Level)
	}
	return o.recordPlan(ctx, r)
}

// mapComponents runs the component agent when the project has never been
// mapped. Mapping failures degrade to a warning; the audit can plan without
// a component map.
func (o *Orchestrator) mapComponents(ctx context.Context, r *run) {
	if o.mapper == nil || len(r.scoped) > 0 {
		return
	}
	existing, err := o.store.GetComponents(ctx, r.project.ID)
	if err != nil {
		r.warn(fmt.Sprintf("could not load components: %v", err))
		return
	}
	if len(existing) > 0 {
		return
	}

	repoIDs := make(map[string]string, len(r.repos))
	for _, repo := range r.repos {
		repoIDs[repo.RepoName] = repo.ID
	}

	res, err := o.mapper.MapProject(ctx, agent.Input{
		ProjectID:    r.project.ID,
		APIKey:       r.apiKey,
		Model:        r.model,
		Files:        r.files,
		RepoIDByName: repoIDs,
		Pricing:      r.pricing,
		Progress: func(turns, maxTurns, tokensUsed int, costUSD float64) {
			detail := progress.Mapping(turns, maxTurns, tokensUsed, costUSD, r.warnings)
			if err := o.bus.Write(ctx, r.audit.ID, detail); err != nil {
				logging.Warn("could not write mapping progress",
					"audit_id", r.audit.ID, "error", err.Error())
			}
		},
	})
	o.metrics.LLMCall("map_components", err)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation surfaces in the next phase call.
			return
		}
		r.warn(fmt.Sprintf("component mapping failed: %v", err))
		return
	}

	o.metrics.AddTokens(res.InputTokens, res.OutputTokens)
	r.cost += tokens.UsageCost(res.InputTokens, res.OutputTokens, r.pricing)
	logging.Info("components mapped",
		"audit_id", r.audit.ID,
		"components", len(res.Components),
		"dependencies", len(res.Dependencies),
		"turns", res.Turns)
}

// promptComponents returns the component profiles fed into the planning
// prompt: the scoped set when the audit is component-scoped, the project's
// full map otherwise.
func (o *Orchestrator) promptComponents(ctx context.Context, r *run) ([]models.Component, error) {
	source := r.scoped
	if len(source) == 0 {
		all, err := o.store.GetComponents(ctx, r.project.ID)
		if err != nil {
			return nil, fmt.Errorf("load components: %w", err)
		}
		source = all
	}
	out := make([]models.Component, 0, len(source))
	for _, c := range source {
		out = append(out, *c)
	}
	return out, nil
}

// selectByOverride filters the scanned files down to the changed set.
func selectByOverride(files []gitrepo.RepoFile, override map[string]bool) []gitrepo.RepoFile {
	var out []gitrepo.RepoFile
	for _, f := range files {
		if override[f.Path] {
			out = append(out, f)
		}
	}
	return out
}

// recordPlan persists the selection totals and seeds the per-file progress
// table, every file pending.
func (o *Orchestrator) recordPlan(ctx context.Context, r *run) error {
	tokensToAnalyze := 0
	for _, f := range r.selected {
		tokensToAnalyze += f.Tokens
	}
	if err := o.store.UpdateAuditPlan(ctx, r.audit.ID, len(r.selected), tokensToAnalyze); err != nil {
		return fmt.Errorf("record plan: %w", err)
	}

	r.fileState = make([]progress.FileProgress, len(r.selected))
	for i, f := range r.selected {
		r.fileState[i] = progress.FileProgress{File: f.Path, Status: progress.FilePending}
		r.fileIndex[f.Path] = i
	}

	logging.Info("plan recorded",
		"audit_id", r.audit.ID,
		"files_to_analyze", len(r.selected),
		"tokens_to_analyze", tokensToAnalyze)
	return o.bus.Write(ctx, r.audit.ID, progress.Analyzing(r.fileState, r.warnings))
}
