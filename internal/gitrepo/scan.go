package gitrepo

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// bytesPerToken is the rough bytes-to-token ratio used for budget estimates.
const bytesPerToken = 3.3

// maxScanFileSize excludes files larger than 1 MiB from analysis.
const maxScanFileSize = 1 << 20

// codeExtensions is the curated set of source-file extensions worth auditing.
var codeExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".py": true, ".pyi": true,
	".go": true,
	".rb": true, ".erb": true,
	".rs": true,
	".java": true, ".kt": true, ".kts": true, ".scala": true,
	".c": true, ".h": true, ".cpp": true, ".cc": true, ".hpp": true,
	".cs": true,
	".php": true,
	".swift": true, ".m": true,
	".sh": true, ".bash": true,
	".sql": true,
	".vue": true, ".svelte": true,
	".ex": true, ".exs": true,
	".lua": true, ".pl": true, ".r": true,
	".yaml": true, ".yml": true, ".toml": true, ".json": true,
	".tf": true, ".proto": true, ".graphql": true,
}

// infraBasenames are extension-less files that still matter for an audit.
var infraBasenames = map[string]bool{
	"Dockerfile":     true,
	"Makefile":       true,
	"Rakefile":       true,
	"Gemfile":        true,
	"Procfile":       true,
	"Vagrantfile":    true,
	"Jenkinsfile":    true,
	"CMakeLists.txt": true,
	".env.example":   true,
}

// skipDirs are directories whose contents are never scanned.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	"target":       true,
	"out":          true,
	".next":        true,
	".nuxt":        true,
	"venv":         true,
	".venv":        true,
	"coverage":     true,
	".idea":        true,
	".vscode":      true,
}

// ScannedFile is one code file discovered under a checkout root.
type ScannedFile struct {
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
	RoughTokens  int    `json:"roughTokens"`
}

// RepoFile is a scanned file namespaced by the repository it came from.
// Path is what audits, plans, and findings refer to; Relative is what the
// guarded reader takes.
type RepoFile struct {
	RepoName string
	RepoRoot string
	Relative string
	Path     string
	Size     int64
	Tokens   int
}

// NamespaceFiles prefixes each scanned file with its repository name so
// files from different repos in the same project cannot collide.
func NamespaceFiles(repoName, repoRoot string, files []ScannedFile) []RepoFile {
	out := make([]RepoFile, 0, len(files))
	for _, f := range files {
		out = append(out, RepoFile{
			RepoName: repoName,
			RepoRoot: repoRoot,
			Relative: f.RelativePath,
			Path:     repoName + "/" + f.RelativePath,
			Size:     f.Size,
			Tokens:   f.RoughTokens,
		})
	}
	return out
}

// SkippedDir reports whether a directory name is excluded from scans.
func SkippedDir(name string) bool {
	return skipDirs[name]
}

// RoughTokens estimates the token count of a byte size.
func RoughTokens(size int64) int {
	return int(math.Ceil(float64(size) / bytesPerToken))
}

// ScanCodeFiles walks root and returns every auditable code file with its
// size and rough token estimate. Symlinks are not followed; empty files and
// files over 1 MiB are excluded.
func ScanCodeFiles(root string) ([]ScannedFile, error) {
	var files []ScannedFile

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !isCodeFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 || info.Size() > maxScanFileSize {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, ScannedFile{
			RelativePath: filepath.ToSlash(rel),
			Size:         info.Size(),
			RoughTokens:  RoughTokens(info.Size()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return files, nil
}

func isCodeFile(name string) bool {
	if infraBasenames[name] {
		return true
	}
	return codeExtensions[filepath.Ext(name)]
}
