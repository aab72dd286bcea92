package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKeepsWarningsPresent(t *testing.T) {
	raw, err := Marshal(Detail{Type: PhasePlanning})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"warnings":[]`)
}

func TestRoundTrip(t *testing.T) {
	in := Analyzing([]FileProgress{
		{File: "acme/api/main.go", Status: FileDone, FindingsCount: 2},
		{File: "acme/api/auth.go", Status: FilePending},
	}, []string{"classification skipped"})
	in.TokensUsed = 1200
	in.CostUSD = 0.42

	raw, err := Marshal(in)
	require.NoError(t, err)
	out, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("{nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode progress detail")
}

func TestConstructors(t *testing.T) {
	c := Cloning(2, 5, "acme/api", nil)
	assert.Equal(t, PhaseCloning, c.Type)
	assert.Equal(t, 2, c.Current)
	assert.Equal(t, 5, c.Total)
	assert.Equal(t, "acme/api", c.RepoName)
	assert.NotNil(t, c.Warnings)

	m := Mapping(3, 12, 4500, 0.09, []string{"w"})
	assert.Equal(t, PhaseMapping, m.Type)
	assert.Equal(t, 3, m.Current)
	assert.Equal(t, 12, m.Total)
	assert.Equal(t, 4500, m.TokensUsed)
	assert.Equal(t, 0.09, m.CostUSD)
	assert.Equal(t, []string{"w"}, m.Warnings)

	d := Done(nil, nil)
	assert.Equal(t, PhaseDone, d.Type)
	assert.NotNil(t, d.Warnings)
}
