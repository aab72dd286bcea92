// Package planner picks which files an audit should read. A local pattern
// scan and an LLM ranking feed a budgeted selection keyed on the audit
// level.
package planner

import (
	"context"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/prompts"
)

// Input carries everything a plan needs.
type Input struct {
	APIKey      string
	Model       string
	Level       models.AuditLevel
	Files       []gitrepo.RepoFile
	TotalTokens int
	Category    string
	Description string
	ThreatModel string
	Components  []models.Component
}

// Plan is the selected slice of the codebase.
type Plan struct {
	Files  []gitrepo.RepoFile
	Tokens int
	Usage  Usage
}

// Planner ranks and selects files for analysis.
type Planner struct {
	llm LLM
}

func New(llm LLM) *Planner {
	return &Planner{llm: llm}
}

// Plan runs the grep, ranking, and selection phases. A plan with zero files
// signals the caller to fall back to FallbackPlan.
func (p *Planner) Plan(ctx context.Context, in Input) (*Plan, error) {
	if len(in.Files) == 0 {
		return &Plan{}, nil
	}
	if in.TotalTokens == 0 {
		for _, f := range in.Files {
			in.TotalTokens += f.Tokens
		}
	}

	template, err := prompts.Load("plan")
	if err != nil {
		return nil, err
	}

	grep := grepFiles(in.Files)
	ranked, usage, err := p.rankAll(ctx, in, template, grep)
	if err != nil {
		return nil, err
	}

	selected := selectFiles(in.Files, ranked, in.Level, in.TotalTokens)
	plan := &Plan{Files: selected, Usage: usage}
	for _, f := range selected {
		plan.Tokens += f.Tokens
	}
	return plan, nil
}
