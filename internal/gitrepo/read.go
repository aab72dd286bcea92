package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadErrorKind classifies guarded-read failures.
type ReadErrorKind string

const (
	ReadPathTraversal    ReadErrorKind = "path_traversal"
	ReadNotFound         ReadErrorKind = "not_found"
	ReadPermissionDenied ReadErrorKind = "permission_denied"
	ReadIOError          ReadErrorKind = "io_error"
)

// ReadError is the structured failure returned by ReadFileContent.
type ReadError struct {
	Kind ReadErrorKind
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("read %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("read %s: %s", e.Path, e.Kind)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ReadKind extracts the ReadErrorKind from err, or io_error for foreign errors.
func ReadKind(err error) ReadErrorKind {
	var re *ReadError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ReadIOError
}

// ResolveUnder joins relativePath to repoRoot and verifies the result stays
// under the root. The returned path is absolute.
func ResolveUnder(repoRoot, relativePath string) (string, error) {
	rootAbs, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", &ReadError{Kind: ReadIOError, Path: relativePath, Err: err}
	}

	joined := filepath.Join(rootAbs, filepath.FromSlash(relativePath))
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", &ReadError{Kind: ReadIOError, Path: relativePath, Err: err}
	}
	if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
		return "", &ReadError{Kind: ReadPathTraversal, Path: relativePath}
	}
	return resolved, nil
}

// ReadFileContent reads a file inside repoRoot. The resolved absolute path
// must stay under repoRoot; anything escaping it is refused before any bytes
// are read.
func ReadFileContent(repoRoot, relativePath string) (string, error) {
	resolved, err := ResolveUnder(repoRoot, relativePath)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return "", &ReadError{Kind: ReadNotFound, Path: relativePath, Err: err}
		case os.IsPermission(err):
			return "", &ReadError{Kind: ReadPermissionDenied, Path: relativePath, Err: err}
		default:
			return "", &ReadError{Kind: ReadIOError, Path: relativePath, Err: err}
		}
	}
	return string(data), nil
}
