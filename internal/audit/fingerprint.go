package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// fingerprintSnippetLen caps how much of the code snippet feeds the hash.
const fingerprintSnippetLen = 100

// Fingerprint derives a finding's dedup key: the first 16 hex chars of
// SHA-256 over file path, line range, title, and the snippet head. Line
// numbers are part of the key, so refactors that shift code read as new
// findings.
func Fingerprint(file string, lineStart, lineEnd int, title, snippet string) string {
	if len(snippet) > fingerprintSnippetLen {
		snippet = snippet[:fingerprintSnippetLen]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d-%d:%s:%s", file, lineStart, lineEnd, title, snippet)))
	return hex.EncodeToString(sum[:])[:16]
}
