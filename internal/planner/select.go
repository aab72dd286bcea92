package planner

import (
	"math"
	"regexp"
	"sort"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/models"
)

// selectFiles orders files by ranked priority and fills the level's token
// budget, stopping at the first file that would overflow it. Files the model
// did not rank sort last at priority 0; ranked paths matching no real file
// are dropped. Full-level audits take everything. At least one file is
// always selected.
func selectFiles(files []gitrepo.RepoFile, ranked []rankedFile, level models.AuditLevel, totalTokens int) []gitrepo.RepoFile {
	priorities := make(map[string]int, len(files))
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f.Path] = true
	}
	for _, r := range ranked {
		if known[r.File] && r.Priority > priorities[r.File] {
			priorities[r.File] = r.Priority
		}
	}

	ordered := make([]gitrepo.RepoFile, len(files))
	copy(ordered, files)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := priorities[ordered[i].Path], priorities[ordered[j].Path]
		if pi != pj {
			return pi > pj
		}
		return ordered[i].Path < ordered[j].Path
	})

	if level == models.LevelFull {
		return ordered
	}

	budget := int(math.Round(float64(totalTokens) * level.BudgetPct()))
	var selected []gitrepo.RepoFile
	accumulated := 0
	for _, f := range ordered {
		if accumulated+f.Tokens > budget {
			break
		}
		selected = append(selected, f)
		accumulated += f.Tokens
	}
	if len(selected) == 0 && len(ordered) > 0 {
		selected = ordered[:1]
	}
	return selected
}

// heuristicPatterns score file paths when LLM ranking is unavailable.
var heuristicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)auth`),
	regexp.MustCompile(`(?i)login`),
	regexp.MustCompile(`(?i)session`),
	regexp.MustCompile(`(?i)token`),
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)crypt`),
	regexp.MustCompile(`(?i)\bkey|key\b`),
	regexp.MustCompile(`(?i)api`),
	regexp.MustCompile(`(?i)middleware`),
	regexp.MustCompile(`(?i)admin`),
	regexp.MustCompile(`(?i)payment|billing`),
	regexp.MustCompile(`(?i)upload`),
	regexp.MustCompile(`(?i)oauth`),
	regexp.MustCompile(`(?i)jwt`),
	regexp.MustCompile(`(?i)cookie`),
	regexp.MustCompile(`(?i)sql|query|db`),
	regexp.MustCompile(`(?i)config|env`),
}

// FallbackPlan scores each file path against security-critical keywords and
// takes the top ceil(n · budget). Used when ranking yields no files.
func FallbackPlan(files []gitrepo.RepoFile, level models.AuditLevel) []gitrepo.RepoFile {
	if len(files) == 0 {
		return nil
	}

	scores := make(map[string]int, len(files))
	for _, f := range files {
		for _, re := range heuristicPatterns {
			if re.MatchString(f.Path) {
				scores[f.Path]++
			}
		}
	}

	ordered := make([]gitrepo.RepoFile, len(files))
	copy(ordered, files)
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := scores[ordered[i].Path], scores[ordered[j].Path]
		if si != sj {
			return si > sj
		}
		return ordered[i].Path < ordered[j].Path
	})

	count := int(math.Ceil(float64(len(files)) * level.BudgetPct()))
	if count < 1 {
		count = 1
	}
	if count > len(ordered) {
		count = len(ordered)
	}
	return ordered[:count]
}
