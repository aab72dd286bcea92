package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint("acme/api/main.go", 10, 14, "Hardcoded credential", "const secret = ...")
	assert.Regexp(t, "^[0-9a-f]{16}$", fp)

	// Deterministic for identical inputs.
	assert.Equal(t, fp, Fingerprint("acme/api/main.go", 10, 14, "Hardcoded credential", "const secret = ..."))
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint("acme/api/main.go", 10, 14, "Hardcoded credential", "const secret = ...")

	assert.NotEqual(t, base, Fingerprint("acme/api/other.go", 10, 14, "Hardcoded credential", "const secret = ..."))
	assert.NotEqual(t, base, Fingerprint("acme/api/main.go", 11, 15, "Hardcoded credential", "const secret = ..."))
	assert.NotEqual(t, base, Fingerprint("acme/api/main.go", 10, 14, "Other title", "const secret = ..."))
	assert.NotEqual(t, base, Fingerprint("acme/api/main.go", 10, 14, "Hardcoded credential", "different snippet"))
}

func TestFingerprintSnippetTruncation(t *testing.T) {
	long := strings.Repeat("a", 100)

	// Differences past the first 100 snippet bytes do not change the key.
	assert.Equal(t,
		Fingerprint("f.go", 1, 1, "t", long+"xxx"),
		Fingerprint("f.go", 1, 1, "t", long+"yyy"))

	// Differences inside the head do.
	assert.NotEqual(t,
		Fingerprint("f.go", 1, 1, "t", "b"+long[1:]),
		Fingerprint("f.go", 1, 1, "t", long))
}
