// Package agent maps a project's architecture with a bounded tool-using LLM
// loop. The model explores cloned checkouts through three read-only tools
// and finishes by emitting the project's components and dependencies.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/llm"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/prompts"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

const (
	maxTurns             = 40
	maxConsecutiveErrors = 5
	progressEvery        = 3
)

const kickoffMessage = "Map the project's components and third-party dependencies now."

// LLM is the raw-call slice of the gateway the agent needs.
type LLM interface {
	Do(ctx context.Context, apiKey string, params anthropic.MessageNewParams) (*anthropic.Message, error)
	Model() string
	MaxTokens() int
}

// ComponentStore persists the agent's result.
type ComponentStore interface {
	ReplaceComponents(ctx context.Context, projectID string, components []*models.Component, dependencies []*models.ProjectDependency) error
}

// ProgressFunc receives periodic loop state: turns used against the cap,
// tokens consumed so far, and running cost.
type ProgressFunc func(turns, maxTurns, tokensUsed int, costUSD float64)

// Input carries one mapping run's parameters. APIKey stays in memory only.
type Input struct {
	ProjectID    string
	APIKey       string
	Model        string
	Files        []gitrepo.RepoFile
	RepoIDByName map[string]string
	Pricing      *models.ModelPricing
	Progress     ProgressFunc
}

// Result of a mapping run.
type Result struct {
	Components   []*models.Component
	Dependencies []*models.ProjectDependency
	Turns        int
	InputTokens  int
	OutputTokens int
}

type agentOutput struct {
	Components   []agentComponent  `json:"components"`
	Dependencies []agentDependency `json:"dependencies"`
}

type agentComponent struct {
	Name            string                  `json:"name"`
	Description     string                  `json:"description"`
	Role            string                  `json:"role"`
	Repository      string                  `json:"repository"`
	Languages       []string                `json:"languages"`
	FilePatterns    []string                `json:"file_patterns"`
	SecurityProfile *models.SecurityProfile `json:"security_profile"`
}

type agentDependency struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Ecosystem     string `json:"ecosystem"`
	SourceRepoURL string `json:"source_repo_url"`
}

// Agent runs the component-mapping loop.
type Agent struct {
	llm   LLM
	store ComponentStore
}

func New(llmClient LLM, store ComponentStore) *Agent {
	return &Agent{llm: llmClient, store: store}
}

// MapProject explores the project and persists its component map. The loop
// is bounded: at most maxTurns model calls, aborting after
// maxConsecutiveErrors turns whose tool calls all had to report errors.
func (a *Agent) MapProject(ctx context.Context, in Input) (*Result, error) {
	template, err := prompts.Load("components")
	if err != nil {
		return nil, err
	}
	system := prompts.Render(template, map[string]string{
		"repoList": renderRepoList(in.Files),
	})

	model := in.Model
	if model == "" {
		model = a.llm.Model()
	}

	tb := newToolbox(in.Files)
	tools := toolDefinitions()
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(kickoffMessage)),
	}

	var result Result
	consecutiveErrors := 0

	for turn := 0; turn < maxTurns; turn++ {
		msg, err := a.llm.Do(ctx, in.APIKey, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(a.llm.MaxTokens()),
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			return nil, fmt.Errorf("component mapping turn %d: %w", turn+1, err)
		}
		result.Turns = turn + 1
		result.InputTokens += int(msg.Usage.InputTokens)
		result.OutputTokens += int(msg.Usage.OutputTokens)

		if result.Turns%progressEvery == 0 {
			a.reportProgress(in, &result)
		}

		switch msg.StopReason {
		case anthropic.StopReasonEndTurn:
			parsed, err := llm.ParseJSON[agentOutput](llm.TextContent(msg))
			if err != nil {
				return nil, fmt.Errorf("component mapping output: %w", err)
			}
			components, dependencies := a.buildEntities(in, parsed)
			if err := a.store.ReplaceComponents(ctx, in.ProjectID, components, dependencies); err != nil {
				return nil, fmt.Errorf("persist components: %w", err)
			}
			result.Components = components
			result.Dependencies = dependencies
			a.reportProgress(in, &result)
			return &result, nil

		case anthropic.StopReasonToolUse:
			messages = append(messages, msg.ToParam())
			toolResults, hadError := a.executeTools(tb, msg)
			if hadError {
				consecutiveErrors++
				if consecutiveErrors >= maxConsecutiveErrors {
					return nil, fmt.Errorf("component mapping aborted after %d consecutive tool-error turns", consecutiveErrors)
				}
			} else {
				consecutiveErrors = 0
			}
			messages = append(messages, anthropic.NewUserMessage(toolResults...))

		default:
			logging.Warn("component mapping stopped unexpectedly",
				"stopReason", string(msg.StopReason), "turn", result.Turns)
			return nil, fmt.Errorf("component mapping did not finish within %d turns", maxTurns)
		}
	}

	return nil, fmt.Errorf("component mapping did not finish within %d turns", maxTurns)
}

func (a *Agent) executeTools(tb *toolbox, msg *anthropic.Message) ([]anthropic.ContentBlockParamUnion, bool) {
	var results []anthropic.ContentBlockParamUnion
	hadError := false
	for _, block := range msg.Content {
		toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		output, err := tb.execute(toolUse.Name, []byte(toolUse.JSON.Input.Raw()))
		if err != nil {
			hadError = true
			logging.Debug("agent tool error", "tool", toolUse.Name, "error", err.Error())
			results = append(results, anthropic.NewToolResultBlock(toolUse.ID, fmt.Sprintf("ERROR: %v", err), true))
			continue
		}
		results = append(results, anthropic.NewToolResultBlock(toolUse.ID, output, false))
	}
	return results, hadError
}

func (a *Agent) reportProgress(in Input, result *Result) {
	if in.Progress == nil {
		return
	}
	cost := 0.0
	if in.Pricing != nil {
		cost = tokens.UsageCost(result.InputTokens, result.OutputTokens, in.Pricing)
	}
	in.Progress(result.Turns, maxTurns, result.InputTokens+result.OutputTokens, cost)
}

// buildEntities turns the model's answer into storable rows. File patterns
// come back relative to their repository and are namespaced here so audit
// scoping and attribution can match them against namespaced paths directly.
func (a *Agent) buildEntities(in Input, parsed agentOutput) ([]*models.Component, []*models.ProjectDependency) {
	var components []*models.Component
	for _, c := range parsed.Components {
		repoID, ok := in.RepoIDByName[c.Repository]
		if !ok {
			logging.Warn("agent component references unknown repository",
				"component", c.Name, "repository", c.Repository)
			continue
		}

		patterns := namespacePatterns(c.Repository, c.FilePatterns)
		files, fileTokens := estimateCoverage(in.Files, patterns)

		components = append(components, &models.Component{
			ID:              uuid.NewString(),
			ProjectID:       in.ProjectID,
			RepoID:          repoID,
			Name:            c.Name,
			Description:     c.Description,
			Role:            componentRole(c.Role),
			FilePatterns:    patterns,
			Languages:       c.Languages,
			SecurityProfile: c.SecurityProfile,
			EstimatedFiles:  files,
			EstimatedTokens: fileTokens,
		})
	}

	var dependencies []*models.ProjectDependency
	for _, d := range parsed.Dependencies {
		if d.Name == "" {
			continue
		}
		dep := &models.ProjectDependency{
			ID:        uuid.NewString(),
			ProjectID: in.ProjectID,
			Name:      d.Name,
			Ecosystem: d.Ecosystem,
		}
		if d.Version != "" {
			dep.Version = &d.Version
		}
		if d.SourceRepoURL != "" {
			dep.SourceRepoURL = &d.SourceRepoURL
		}
		dependencies = append(dependencies, dep)
	}

	return components, dependencies
}

func componentRole(role string) models.ComponentRole {
	switch r := models.ComponentRole(strings.ToLower(role)); r {
	case models.RoleServer, models.RoleClient, models.RoleLibrary, models.RoleCLI,
		models.RoleWorker, models.RoleShared, models.RoleConfig, models.RoleTest:
		return r
	default:
		return models.RoleShared
	}
}

// namespacePatterns prefixes repo-relative globs with the repository name.
// Patterns the model already namespaced are left alone.
func namespacePatterns(repoName string, patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimPrefix(p, "/")
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, repoName+"/") {
			out = append(out, p)
			continue
		}
		out = append(out, repoName+"/"+p)
	}
	return out
}

// estimateCoverage counts scanned files (and their tokens) matching the
// namespaced patterns.
func estimateCoverage(files []gitrepo.RepoFile, patterns []string) (int, int) {
	globs := gitrepo.NewGlobSet(patterns)
	if globs.Empty() {
		return 0, 0
	}
	count, total := 0, 0
	for _, f := range files {
		if globs.Match(f.Path) {
			count++
			total += f.Tokens
		}
	}
	return count, total
}

func renderRepoList(files []gitrepo.RepoFile) string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range files {
		if !seen[f.RepoName] {
			seen[f.RepoName] = true
			names = append(names, f.RepoName)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(names, "\n- ")
}
