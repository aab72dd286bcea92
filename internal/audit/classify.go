package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/llm"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
)

// classifyCostUSD is the flat rate booked for the classification call. The
// call is small and runs before a pricing row is guaranteed to exist.
const classifyCostUSD = 0.05

const classifySystemPrompt = "You are a security analyst classifying a software project. Return JSON only."

const classifyInstructions = `Classify this project. Respond with a single JSON object:
{
  "category": "short category, e.g. web-application, cli-tool, library, infrastructure",
  "description": "2-4 sentence description of what the project does",
  "involved_parties": {"party name": "their role and what they can access"},
  "components": [{"name": "...", "role": "server|client|library|cli|worker|shared|config|test", "languages": ["..."], "repo": "owner/name"}],
  "threat_model": {
    "text": "narrative threat model for this project",
    "parties": ["attacker classes and trust boundaries"],
    "source": "evaluation if you based it on a threat model document shown above, otherwise generated"
  }
}`

// classifyTreeLimit caps how many file paths the classification prompt lists.
const classifyTreeLimit = 400

// classifyExcerptLines caps manifest and README excerpts; threat-model
// documents get double.
const classifyExcerptLines = 120

// threatModelCandidates are repo-relative paths checked for an existing
// threat model. Markdown is outside the code scan, so these are read
// directly through the guarded reader.
var threatModelCandidates = []string{
	"THREAT_MODEL.md",
	"threat_model.md",
	"threat-model.md",
	"SECURITY.md",
	"security.md",
	"docs/THREAT_MODEL.md",
	"docs/SECURITY.md",
	".github/SECURITY.md",
}

// manifestCandidates identify the project's ecosystem; the first one found
// per repo is included in the prompt.
var manifestCandidates = []string{
	"package.json",
	"go.mod",
	"Cargo.toml",
	"pyproject.toml",
	"requirements.txt",
	"composer.json",
	"Gemfile",
	"pom.xml",
	"build.gradle",
}

type classifyOutput struct {
	Category        string              `json:"category"`
	Description     string              `json:"description"`
	InvolvedParties models.JSONMap      `json:"involved_parties"`
	Components      []classifyComponent `json:"components"`
	ThreatModel     classifyThreatModel `json:"threat_model"`
}

// classifyComponent is the coarse component sketch the classification call
// returns. The component agent owns the persisted component map; this sketch
// only informs the description.
type classifyComponent struct {
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Languages []string `json:"languages"`
	Repo      string   `json:"repo"`
}

type classifyThreatModel struct {
	Text    string   `json:"text"`
	Parties []string `json:"parties"`
	Source  string   `json:"source"`
}

// classifySeed is the assembled prompt context plus the threat-model
// documents that seeded it.
type classifySeed struct {
	message    string
	threatDocs []string
}

// classify runs the one-shot project classification and persists it onto the
// project. Skipped when the project already has a category; classification
// fields are written once and never overwritten.
func (o *Orchestrator) classify(ctx context.Context, r *run) error {
	if deref(r.project.Category) != "" {
		return nil
	}
	if err := o.store.SetAuditStatus(ctx, r.audit.ID, models.AuditClassifying); err != nil {
		return err
	}

	seed := collectClassifyContext(r)

	res, err := o.llm.Call(ctx, r.apiKey, llm.Request{
		System: classifySystemPrompt,
		User:   seed.message,
		Model:  r.model,
	})
	o.metrics.LLMCall("classify", err)
	if err != nil {
		return fmt.Errorf("classify project: %w", err)
	}
	o.metrics.AddTokens(res.InputTokens, res.OutputTokens)
	r.cost += classifyCostUSD

	parsed, err := llm.ParseJSON[classifyOutput](res.Content)
	if err != nil {
		return fmt.Errorf("classify project: %w", err)
	}
	if parsed.Category == "" {
		return errors.New("classify project: model returned no category")
	}

	source := "generated"
	var files []string
	if parsed.ThreatModel.Source == "evaluation" && len(seed.threatDocs) > 0 {
		source = "repo"
		files = seed.threatDocs
	}

	tm := &models.ThreatModel{Text: parsed.ThreatModel.Text, Parties: parsed.ThreatModel.Parties}
	update := &store.ClassificationUpdate{
		Category:        parsed.Category,
		Description:     parsed.Description,
		InvolvedParties: parsed.InvolvedParties,
		ThreatModel:     tm,
		Source:          source,
		SourceFiles:     files,
		AuditID:         r.audit.ID,
	}
	if err := o.store.UpdateProjectClassification(ctx, r.project.ID, update); err != nil {
		return fmt.Errorf("persist classification: %w", err)
	}

	r.project.Category = &parsed.Category
	r.project.Description = &parsed.Description
	r.project.InvolvedParties = parsed.InvolvedParties
	r.project.ThreatModel = tm

	logging.Info("project classified",
		"audit_id", r.audit.ID,
		"category", parsed.Category,
		"threat_model_source", source)
	return nil
}

// collectClassifyContext assembles the classification prompt: repo list,
// truncated file tree, one manifest and README excerpt per repo, and any
// threat-model documents found in the checkouts.
func collectClassifyContext(r *run) classifySeed {
	var b strings.Builder
	fmt.Fprintf(&b, "PROJECT: %s (org: %s)\n\nREPOSITORIES:\n", r.project.Name, r.project.GithubOrg)
	for _, repo := range r.repos {
		fmt.Fprintf(&b, "- %s\n", repo.RepoName)
	}

	fmt.Fprintf(&b, "\nFILE TREE (%d files", len(r.files))
	if len(r.files) > classifyTreeLimit {
		fmt.Fprintf(&b, ", first %d shown", classifyTreeLimit)
	}
	b.WriteString("):\n")
	for i, f := range r.files {
		if i == classifyTreeLimit {
			break
		}
		b.WriteString(f.Path)
		b.WriteByte('\n')
	}

	var threatDocs []string
	for _, repo := range r.repos {
		state := r.byRepoID[repo.ID]
		if state == nil {
			continue
		}
		root := state.clone.LocalPath

		for _, name := range manifestCandidates {
			content, err := gitrepo.ReadFileContent(root, name)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "\nMANIFEST %s/%s:\n%s\n", repo.RepoName, name, excerpt(content, classifyExcerptLines))
			break
		}

		if content, err := gitrepo.ReadFileContent(root, "README.md"); err == nil {
			fmt.Fprintf(&b, "\nREADME %s/README.md:\n%s\n", repo.RepoName, excerpt(content, classifyExcerptLines))
		}

		for _, name := range threatModelCandidates {
			content, err := gitrepo.ReadFileContent(root, name)
			if err != nil {
				continue
			}
			path := repo.RepoName + "/" + name
			threatDocs = append(threatDocs, path)
			fmt.Fprintf(&b, "\nTHREAT MODEL %s:\n%s\n", path, excerpt(content, 2*classifyExcerptLines))
		}
	}

	b.WriteString("\n")
	b.WriteString(classifyInstructions)
	return classifySeed{message: b.String(), threatDocs: threatDocs}
}

// excerpt returns the first maxLines lines of content.
func excerpt(content string, maxLines int) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return strings.TrimRight(content, "\n")
	}
	return strings.Join(lines[:maxLines], "\n") + "\n[truncated]"
}
