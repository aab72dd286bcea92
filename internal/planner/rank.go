package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/llm"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/prompts"
)

const (
	rankBatchSize = 100
	minBatchSize  = 25
)

const rankSystemPrompt = "You are a security audit planner. Return JSON only."

// LLM is the slice of the gateway the planner needs.
type LLM interface {
	Call(ctx context.Context, apiKey string, req llm.Request) (*llm.Result, error)
}

type rankedFile struct {
	File     string `json:"file"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason"`
}

// Usage accumulates token consumption across planning calls.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u *Usage) add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// rankAll ranks every file in batches of rankBatchSize.
func (p *Planner) rankAll(ctx context.Context, in Input, template string, grep []GrepResult) ([]rankedFile, Usage, error) {
	var all []rankedFile
	var usage Usage
	for start := 0; start < len(in.Files); start += rankBatchSize {
		end := start + rankBatchSize
		if end > len(in.Files) {
			end = len(in.Files)
		}
		ranked, u, err := p.rankBatch(ctx, in, template, grep, in.Files[start:end])
		usage.add(u)
		if err != nil {
			return nil, usage, err
		}
		all = append(all, ranked...)
	}
	return all, usage, nil
}

// rankBatch ranks one batch, recursively halving on parse failures. At the
// floor batch size an unparseable response forfeits the batch's ranking
// rather than failing the plan.
func (p *Planner) rankBatch(ctx context.Context, in Input, template string, grep []GrepResult, batch []gitrepo.RepoFile) ([]rankedFile, Usage, error) {
	var usage Usage

	result, err := p.llm.Call(ctx, in.APIKey, llm.Request{
		System: rankSystemPrompt,
		User:   renderRankPrompt(template, in, grep, batch),
		Model:  in.Model,
	})
	if err != nil {
		return nil, usage, fmt.Errorf("rank files: %w", err)
	}
	usage.InputTokens += result.InputTokens
	usage.OutputTokens += result.OutputTokens

	ranked, err := llm.ParseJSON[[]rankedFile](result.Content)
	if err == nil {
		return ranked, usage, nil
	}
	var parseErr *llm.ParseError
	if !errors.As(err, &parseErr) {
		return nil, usage, err
	}

	if len(batch) <= minBatchSize {
		logging.Warn("ranking response unparseable at floor batch size",
			"files", len(batch), "snippet", parseErr.Snippet)
		return nil, usage, nil
	}

	logging.Debug("ranking response unparseable, halving batch", "files", len(batch))
	mid := len(batch) / 2
	left, lu, err := p.rankBatch(ctx, in, template, grep, batch[:mid])
	usage.add(lu)
	if err != nil {
		return nil, usage, err
	}
	right, ru, err := p.rankBatch(ctx, in, template, grep, batch[mid:])
	usage.add(ru)
	if err != nil {
		return nil, usage, err
	}
	return append(left, right...), usage, nil
}

func renderRankPrompt(template string, in Input, grep []GrepResult, batch []gitrepo.RepoFile) string {
	inBatch := make(map[string]bool, len(batch))
	var fileList strings.Builder
	for _, f := range batch {
		inBatch[f.Path] = true
		fmt.Fprintf(&fileList, "%s (~%d tokens)\n", f.Path, f.Tokens)
	}

	var batchGrep []GrepResult
	for _, g := range grep {
		if inBatch[g.Path] {
			batchGrep = append(batchGrep, g)
		}
	}

	return prompts.Render(template, map[string]string{
		"category":          in.Category,
		"description":       in.Description,
		"threatModel":       in.ThreatModel,
		"componentProfiles": renderComponentProfiles(in.Components),
		"grepFindings":      renderGrepResults(batchGrep),
		"fileList":          fileList.String(),
	})
}

func renderComponentProfiles(components []models.Component) string {
	if len(components) == 0 {
		return "(no component map)"
	}
	var sb strings.Builder
	for _, c := range components {
		fmt.Fprintf(&sb, "- %s (%s)", c.Name, c.Role)
		if c.SecurityProfile != nil && c.SecurityProfile.Summary != "" {
			fmt.Fprintf(&sb, ": %s", c.SecurityProfile.Summary)
			if len(c.SecurityProfile.SensitiveAreas) > 0 {
				fmt.Fprintf(&sb, " (sensitive: %s)", strings.Join(c.SecurityProfile.SensitiveAreas, ", "))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
