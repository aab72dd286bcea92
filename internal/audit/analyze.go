package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/llm"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/progress"
	"github.com/codewatch/codewatch-go/internal/prompts"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

// maxBatchTokens is the input budget of one analysis call. An oversized
// single file forms its own batch and is sent anyway.
const maxBatchTokens = 150000

// analysisOutput is the per-batch response contract. Only findings are
// persisted; the remaining fields exist so strict models that fill them do
// not break the parse.
type analysisOutput struct {
	Findings              []rawFinding    `json:"findings"`
	SecurityPosture       string          `json:"security_posture"`
	ResponsibleDisclosure string          `json:"responsible_disclosure"`
	Dependencies          json.RawMessage `json:"dependencies"`
}

type rawFinding struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Severity       string  `json:"severity"`
	CWEID          string  `json:"cwe_id"`
	CVSSScore      float64 `json:"cvss_score"`
	FilePath       string  `json:"file_path"`
	LineStart      int     `json:"line_start"`
	LineEnd        int     `json:"line_end"`
	CodeSnippet    string  `json:"code_snippet"`
	Exploitation   string  `json:"exploitation"`
	Recommendation string  `json:"recommendation"`
}

// analyze reads the selected files in alphabetical batches and turns model
// output into findings. The first failed batch aborts the audit; findings
// already inserted by earlier batches stay.
func (o *Orchestrator) analyze(ctx context.Context, r *run) error {
	if err := o.store.SetAuditStatus(ctx, r.audit.ID, models.AuditAnalyzing); err != nil {
		return err
	}
	if len(r.selected) == 0 {
		r.warn("no files selected for analysis")
		return nil
	}

	sorted := make([]gitrepo.RepoFile, len(r.selected))
	copy(sorted, r.selected)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	batches := packBatches(sorted, maxBatchTokens)

	system, err := o.buildAnalysisSystemPrompt(r)
	if err != nil {
		return err
	}

	var incrementalTemplate string
	if r.audit.BaseAuditID != nil {
		incrementalTemplate, err = prompts.Load("incremental_context")
		if err != nil {
			return err
		}
	}

	logging.Info("analysis starting",
		"audit_id", r.audit.ID,
		"files", len(sorted),
		"batches", len(batches))

	for i, batch := range batches {
		if err := o.analyzeBatch(ctx, r, system, incrementalTemplate, batch); err != nil {
			return fmt.Errorf("analysis batch %d of %d failed: %w; aborting before further batches to avoid reporting partial results",
				i+1, len(batches), err)
		}
	}
	return nil
}

// packBatches groups files greedily up to limit tokens per batch, in input
// order. A file alone over the limit still ships as a singleton batch.
func packBatches(files []gitrepo.RepoFile, limit int) [][]gitrepo.RepoFile {
	var batches [][]gitrepo.RepoFile
	var current []gitrepo.RepoFile
	used := 0
	for _, f := range files {
		if len(current) > 0 && used+f.Tokens > limit {
			batches = append(batches, current)
			current = nil
			used = 0
		}
		current = append(current, f)
		used += f.Tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// buildAnalysisSystemPrompt renders the classification context and appends
// the level-specific audit instructions.
func (o *Orchestrator) buildAnalysisSystemPrompt(r *run) (string, error) {
	contextTemplate, err := prompts.Load("classify")
	if err != nil {
		return "", err
	}
	rendered := prompts.Render(contextTemplate, map[string]string{
		"repoName":        r.project.Name,
		"category":        deref(r.project.Category),
		"description":     deref(r.project.Description),
		"involvedParties": renderParties(r.project.InvolvedParties),
		"threatModel":     threatText(r.project.ThreatModel),
	})

	levelTemplate, err := prompts.Load("audit_" + string(r.audit.Level))
	if err != nil {
		return "", err
	}
	return rendered + "\n\n" + levelTemplate, nil
}

func (o *Orchestrator) analyzeBatch(ctx context.Context, r *run, system, incrementalTemplate string, batch []gitrepo.RepoFile) error {
	user, readable := renderBatch(r, incrementalTemplate, batch)
	if len(readable) == 0 {
		// Every file in the batch was unreadable; the warnings are already
		// recorded, just surface the per-file errors.
		return o.flushProgress(ctx, r)
	}

	res, err := o.llm.Call(ctx, r.apiKey, llm.Request{
		System:    system,
		User:      user,
		Model:     r.model,
		MaxTokens: o.llm.MaxTokens(),
	})
	o.metrics.LLMCall("analyze", err)
	if err != nil {
		return err
	}
	o.metrics.AddTokens(res.InputTokens, res.OutputTokens)
	r.cost += tokens.UsageCost(res.InputTokens, res.OutputTokens, r.pricing)

	parsed, err := llm.ParseJSON[analysisOutput](res.Content)
	if err != nil {
		return err
	}

	findings := r.buildFindings(parsed.Findings)
	if len(findings) > 0 {
		if err := o.store.InsertFindings(ctx, findings); err != nil {
			return err
		}
		o.metrics.FindingsStored(len(findings))
	}

	counts := make(map[string]int)
	for _, f := range findings {
		counts[f.FilePath]++
	}
	for _, f := range readable {
		r.setFileState(f.Path, progress.FileDone, counts[f.Path])
	}
	return o.flushProgress(ctx, r)
}

// renderBatch concatenates the batch's file contents into the user message
// and collects the incremental-context block for files carrying previous
// findings. Unreadable files are dropped with a warning and marked errored.
func renderBatch(r *run, incrementalTemplate string, batch []gitrepo.RepoFile) (string, []gitrepo.RepoFile) {
	var b strings.Builder
	var readable []gitrepo.RepoFile
	var inherited []string

	for _, f := range batch {
		content, err := gitrepo.ReadFileContent(f.RepoRoot, f.Relative)
		if err != nil {
			r.warn(fmt.Sprintf("could not read %s: %v", f.Path, err))
			r.setFileState(f.Path, progress.FileError, 0)
			continue
		}
		if len(readable) > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "FILE: %s\n\n%s\n", f.Path, content)
		readable = append(readable, f)

		for _, prev := range r.prevByFile[f.Path] {
			inherited = append(inherited,
				fmt.Sprintf("- [%s] %s (%s, line %d)", prev.Severity, prev.Title, f.Path, prev.LineStart))
		}
	}

	if incrementalTemplate != "" && len(inherited) > 0 {
		b.WriteString("\n\n")
		b.WriteString(prompts.Render(incrementalTemplate, map[string]string{
			"previousFindings": strings.Join(inherited, "\n"),
		}))
	}
	return b.String(), readable
}

// buildFindings validates raw model findings, normalizes severities, and
// drops fingerprint duplicates already present in this audit.
func (r *run) buildFindings(raw []rawFinding) []*models.Finding {
	var out []*models.Finding
	for _, rf := range raw {
		if rf.Title == "" || rf.FilePath == "" {
			logging.Warn("dropping malformed finding",
				"audit_id", r.audit.ID, "title", rf.Title, "file", rf.FilePath)
			continue
		}
		severity := models.Severity(strings.ToLower(rf.Severity))
		if !severity.Valid() {
			severity = models.SeverityInformational
		}
		lineEnd := rf.LineEnd
		if lineEnd < rf.LineStart {
			lineEnd = rf.LineStart
		}

		fp := Fingerprint(rf.FilePath, rf.LineStart, lineEnd, rf.Title, rf.CodeSnippet)
		if r.seen[fp] {
			continue
		}
		r.seen[fp] = true

		out = append(out, &models.Finding{
			ID:             uuid.NewString(),
			AuditID:        r.audit.ID,
			FilePath:       rf.FilePath,
			LineStart:      rf.LineStart,
			LineEnd:        lineEnd,
			Severity:       severity,
			CWEID:          rf.CWEID,
			CVSSScore:      rf.CVSSScore,
			Title:          rf.Title,
			Description:    rf.Description,
			Exploitation:   rf.Exploitation,
			Recommendation: rf.Recommendation,
			CodeSnippet:    rf.CodeSnippet,
			Status:         models.FindingOpen,
			Fingerprint:    fp,
		})
	}
	return out
}

func (o *Orchestrator) flushProgress(ctx context.Context, r *run) error {
	return o.bus.WriteWithCounter(ctx, r.audit.ID, progress.Analyzing(r.fileState, r.warnings), r.analyzed)
}
