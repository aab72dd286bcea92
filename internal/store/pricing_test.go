package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPricingSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	data := `
models:
  - model_id: claude-sonnet-4-5
    input_cost_per_mtok: 3.00
    output_cost_per_mtok: 15.00
    context_window: 200000
    max_output: 64000
  - model_id: claude-opus-4-5
    input_cost_per_mtok: 5.00
    output_cost_per_mtok: 25.00
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	rows, err := LoadPricingSeed(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "claude-sonnet-4-5", rows[0].ModelID)
	assert.Equal(t, 3.0, rows[0].InputCostPerMtok)
	assert.Equal(t, 15.0, rows[0].OutputCostPerMtok)

	// Defaults fill in when the seed omits window/output caps.
	assert.Equal(t, 200000, rows[1].ContextWindow)
	assert.Equal(t, 64000, rows[1].MaxOutput)
}

func TestLoadPricingSeedMissingID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - input_cost_per_mtok: 1.0\n"), 0644))

	_, err := LoadPricingSeed(path)
	assert.Error(t, err)
}

func TestLoadPricingSeedMissingFile(t *testing.T) {
	_, err := LoadPricingSeed(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
