package tokens

import (
	"context"
	"strings"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/llm"
)

// Counter counts prompt tokens without executing the prompt.
type Counter interface {
	CountTokens(ctx context.Context, apiKey string, req llm.Request) (int, error)
}

// countBatchBytes caps how much file content one count call carries,
// roughly 120k tokens at the 3.3 bytes-per-token heuristic.
const countBatchBytes = 400000

// PreciseTotals reads every scanned file and sums the provider's token
// counts over them. Unreadable files are skipped. This is the only totals
// source that justifies isPrecise=true on an estimate.
func PreciseTotals(ctx context.Context, counter Counter, apiKey, model string, files []gitrepo.RepoFile) (totalFiles, totalTokens int, err error) {
	var batch strings.Builder
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		n, err := counter.CountTokens(ctx, apiKey, llm.Request{User: batch.String(), Model: model})
		if err != nil {
			return err
		}
		totalTokens += n
		batch.Reset()
		return nil
	}

	for _, f := range files {
		content, err := gitrepo.ReadFileContent(f.RepoRoot, f.Relative)
		if err != nil {
			continue
		}
		if batch.Len() > 0 && batch.Len()+len(content) > countBatchBytes {
			if err := flush(); err != nil {
				return 0, 0, err
			}
		}
		batch.WriteString(content)
		batch.WriteByte('\n')
		totalFiles++
	}
	if err := flush(); err != nil {
		return 0, 0, err
	}
	return totalFiles, totalTokens, nil
}
