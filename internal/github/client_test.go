package github

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRepo(t *testing.T) {
	owner, name, err := SplitRepo("acme/api-server")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "api-server", name)

	for _, bad := range []string{"acme", "/api", "acme/", ""} {
		_, _, err := SplitRepo(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestStatusCode(t *testing.T) {
	ghErr := &github.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusForbidden},
	}
	assert.Equal(t, http.StatusForbidden, StatusCode(ghErr))

	wrapped := errors.Join(errors.New("fetch org membership"), ghErr)
	assert.Equal(t, http.StatusForbidden, StatusCode(wrapped))

	assert.Equal(t, 0, StatusCode(errors.New("plain")))
	assert.Equal(t, 0, StatusCode(nil))
}

func TestNewClientDefaultsRateLimit(t *testing.T) {
	c := NewClient("", 0)
	require.NotNil(t, c.limiter)
	assert.Equal(t, float64(defaultRateLimit), float64(c.limiter.Limit()))
}
