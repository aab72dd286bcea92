package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/llm"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/progress"
	"github.com/codewatch/codewatch-go/internal/prompts"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

const synthesizeSystemPrompt = "You are a security audit report writer. Return JSON only."

// maxSummaryFindings caps how many findings the synthesis prompt lists.
const maxSummaryFindings = 200

// summaryDescriptionLen truncates each finding description in the prompt.
const summaryDescriptionLen = 200

// attribute assigns findings to components for component-scoped audits.
// First matching pattern wins; per-component token totals count only the
// files that finished analysis. Always ends by writing the done record.
func (o *Orchestrator) attribute(ctx context.Context, r *run) error {
	if len(r.scoped) == 0 {
		return o.bus.WriteWithCounter(ctx, r.audit.ID, progress.Done(r.fileState, r.warnings), r.analyzed)
	}

	type componentGlobs struct {
		id    string
		globs *gitrepo.GlobSet
	}
	sets := make([]componentGlobs, 0, len(r.scoped))
	for _, c := range r.scoped {
		sets = append(sets, componentGlobs{id: c.ID, globs: gitrepo.NewGlobSet(c.FilePatterns)})
	}

	findings, err := o.store.GetFindings(ctx, r.audit.ID)
	if err != nil {
		return fmt.Errorf("load findings: %w", err)
	}

	findingCounts := make(map[string]int)
	for _, f := range findings {
		for _, set := range sets {
			if !set.globs.Match(f.FilePath) {
				continue
			}
			if err := o.store.UpdateFindingComponent(ctx, f.ID, set.id); err != nil {
				return fmt.Errorf("attribute finding: %w", err)
			}
			findingCounts[set.id]++
			break
		}
	}

	tokensByPath := make(map[string]int, len(r.selected))
	for _, f := range r.selected {
		tokensByPath[f.Path] = f.Tokens
	}
	analyzedTokens := make(map[string]int)
	for _, fp := range r.fileState {
		if fp.Status != progress.FileDone {
			continue
		}
		for _, set := range sets {
			if set.globs.Match(fp.File) {
				analyzedTokens[set.id] += tokensByPath[fp.File]
				break
			}
		}
	}

	for _, c := range r.scoped {
		if err := o.store.UpsertAuditComponent(ctx, &models.AuditComponent{
			AuditID:        r.audit.ID,
			ComponentID:    c.ID,
			TokensAnalyzed: analyzedTokens[c.ID],
			FindingsCount:  findingCounts[c.ID],
		}); err != nil {
			return fmt.Errorf("record component rollup: %w", err)
		}
	}

	return o.bus.WriteWithCounter(ctx, r.audit.ID, progress.Done(r.fileState, r.warnings), r.analyzed)
}

// synthesize writes the closing report and completes the audit. A synthesis
// failure demotes the audit to completed_with_warnings instead of failed:
// the findings themselves are already valid.
func (o *Orchestrator) synthesize(ctx context.Context, r *run) (models.AuditStatus, error) {
	if err := o.store.SetAuditStatus(ctx, r.audit.ID, models.AuditSynthesizing); err != nil {
		return "", err
	}

	findings, err := o.store.GetFindings(ctx, r.audit.ID)
	if err != nil {
		return "", fmt.Errorf("load findings: %w", err)
	}
	severities := make([]models.Severity, 0, len(findings))
	for _, f := range findings {
		severities = append(severities, f.Severity)
	}
	maxSeverity := models.MaxSeverity(severities)

	summary, err := o.synthesizeReport(ctx, r, findings)
	if err != nil {
		r.warn(fmt.Sprintf("synthesis failed: %v", err))
		if err := o.bus.WriteWithCounter(ctx, r.audit.ID, progress.Done(r.fileState, r.warnings), r.analyzed); err != nil {
			return "", err
		}
		if err := o.store.CompleteAudit(ctx, r.audit.ID, models.AuditCompletedWithWarnings, nil, maxSeverity, tokens.Round4(r.cost)); err != nil {
			return "", err
		}
		return models.AuditCompletedWithWarnings, nil
	}

	status := models.AuditCompleted
	if len(r.warnings) > 0 {
		status = models.AuditCompletedWithWarnings
	}
	if err := o.store.CompleteAudit(ctx, r.audit.ID, status, summary, maxSeverity, tokens.Round4(r.cost)); err != nil {
		return "", err
	}

	logging.Info("audit completed",
		"audit_id", r.audit.ID,
		"status", string(status),
		"findings", len(findings),
		"max_severity", string(maxSeverity),
		"cost_usd", tokens.Round4(r.cost))
	return status, nil
}

func (o *Orchestrator) synthesizeReport(ctx context.Context, r *run, findings []*models.Finding) (*models.ReportSummary, error) {
	template, err := prompts.Load("synthesize")
	if err != nil {
		return nil, err
	}
	user := prompts.Render(template, map[string]string{
		"category":        deref(r.project.Category),
		"description":     deref(r.project.Description),
		"totalFindings":   strconv.Itoa(len(findings)),
		"findingsSummary": renderFindingsSummary(findings),
	})

	res, err := o.llm.Call(ctx, r.apiKey, llm.Request{
		System: synthesizeSystemPrompt,
		User:   user,
		Model:  r.model,
	})
	o.metrics.LLMCall("synthesize", err)
	if err != nil {
		return nil, err
	}
	o.metrics.AddTokens(res.InputTokens, res.OutputTokens)
	r.cost += tokens.UsageCost(res.InputTokens, res.OutputTokens, r.pricing)

	summary, err := llm.ParseJSON[models.ReportSummary](res.Content)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func renderFindingsSummary(findings []*models.Finding) string {
	if len(findings) == 0 {
		return "No findings."
	}
	var b strings.Builder
	for i, f := range findings {
		if i == maxSummaryFindings {
			fmt.Fprintf(&b, "... and %d more findings\n", len(findings)-maxSummaryFindings)
			break
		}
		desc := f.Description
		if len(desc) > summaryDescriptionLen {
			desc = desc[:summaryDescriptionLen] + "..."
		}
		fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", f.Severity, f.Title, f.FilePath, desc)
	}
	return b.String()
}
