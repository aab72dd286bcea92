package planner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/logging"
)

const (
	maxSamplesPerFile = 3
	maxSampleLen      = 120
)

type grepPattern struct {
	category string
	re       *regexp.Regexp
}

// securityPatterns flag lines worth a closer look. Categories mirror the
// classes of weakness the audit prompts care about.
var securityPatterns = []grepPattern{
	// injection
	{"injection", regexp.MustCompile(`(?i)\beval\s*\(`)},
	{"injection", regexp.MustCompile(`(?i)\bexec\s*\(`)},
	{"injection", regexp.MustCompile(`(?i)\bsystem\s*\(`)},
	{"injection", regexp.MustCompile(`(?i)subprocess|child_process|popen`)},
	{"injection", regexp.MustCompile(`(?i)dangerouslySetInnerHTML|innerHTML\s*=`)},

	// sql
	{"sql", regexp.MustCompile(`(?i)\bselect\s+.+\s+from\b`)},
	{"sql", regexp.MustCompile(`(?i)\binsert\s+into\b`)},
	{"sql", regexp.MustCompile(`(?i)\b(update|delete)\s+.+\bwhere\b`)},
	{"sql", regexp.MustCompile(`(?i)\b(query|execute|raw)\s*\(\s*["'` + "`" + `]`)},

	// auth
	{"auth", regexp.MustCompile(`(?i)password`)},
	{"auth", regexp.MustCompile(`(?i)\bsecret`)},
	{"auth", regexp.MustCompile(`(?i)\btoken\b`)},
	{"auth", regexp.MustCompile(`(?i)api[_-]?key`)},
	{"auth", regexp.MustCompile(`(?i)\bsession\b`)},
	{"auth", regexp.MustCompile(`(?i)authenticat|authoriz|login`)},

	// crypto
	{"crypto", regexp.MustCompile(`(?i)\bmd5\b`)},
	{"crypto", regexp.MustCompile(`(?i)\bsha-?1\b`)},
	{"crypto", regexp.MustCompile(`(?i)encrypt|decrypt|cipher`)},
	{"crypto", regexp.MustCompile(`(?i)private[_-]?key|BEGIN\s+(RSA|EC|OPENSSH)\s+PRIVATE`)},
	{"crypto", regexp.MustCompile(`(?i)math\.random|\brand\s*\(|\brandom\s*\(`)},

	// network
	{"network", regexp.MustCompile(`(?i)http://`)},
	{"network", regexp.MustCompile(`(?i)\b(listen|bind)\s*\(`)},
	{"network", regexp.MustCompile(`(?i)\b(fetch|axios|curl)\s*[(\s]`)},
	{"network", regexp.MustCompile(`(?i)verify\s*=\s*false|InsecureSkipVerify|rejectUnauthorized`)},

	// file_io
	{"file_io", regexp.MustCompile(`(?i)\b(open|readfile|writefile|read_file|write_file)\s*\(`)},
	{"file_io", regexp.MustCompile(`\.\./`)},
	{"file_io", regexp.MustCompile(`(?i)\bchmod|chown\b`)},
	{"file_io", regexp.MustCompile(`(?i)mktemp|tempfile|/tmp/`)},
}

// GrepSample is one matched line.
type GrepSample struct {
	Category string
	Line     int
	Text     string
}

// GrepResult summarizes security-pattern hits in one file.
type GrepResult struct {
	Path    string
	Hits    int
	Samples []GrepSample
}

// grepFiles scans every file line by line against the security patterns.
// Files that fail to read are skipped. Results are sorted by hit count
// descending; files with zero hits are omitted.
func grepFiles(files []gitrepo.RepoFile) []GrepResult {
	var results []GrepResult
	for _, f := range files {
		content, err := gitrepo.ReadFileContent(f.RepoRoot, f.Relative)
		if err != nil {
			logging.Debug("planner grep skipping unreadable file", "path", f.Path, "error", err.Error())
			continue
		}

		result := GrepResult{Path: f.Path}
		for i, line := range strings.Split(content, "\n") {
			for _, p := range securityPatterns {
				if !p.re.MatchString(line) {
					continue
				}
				result.Hits++
				if len(result.Samples) < maxSamplesPerFile {
					result.Samples = append(result.Samples, GrepSample{
						Category: p.category,
						Line:     i + 1,
						Text:     trimSample(line),
					})
				}
			}
		}
		if result.Hits > 0 {
			results = append(results, result)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Hits != results[j].Hits {
			return results[i].Hits > results[j].Hits
		}
		return results[i].Path < results[j].Path
	})
	return results
}

func trimSample(line string) string {
	text := strings.TrimSpace(line)
	if len(text) > maxSampleLen {
		text = text[:maxSampleLen]
	}
	return text
}

func renderGrepResults(results []GrepResult) string {
	if len(results) == 0 {
		return "(no pattern matches)"
	}
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "%s (%d hits)\n", r.Path, r.Hits)
		for _, s := range r.Samples {
			fmt.Fprintf(&sb, "  [%s] line %d: %s\n", s.Category, s.Line, s.Text)
		}
	}
	return sb.String()
}
