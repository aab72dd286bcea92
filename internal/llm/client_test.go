package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiError(status int, retryAfter string) *anthropic.Error {
	resp := &http.Response{StatusCode: status, Header: http.Header{}}
	if retryAfter != "" {
		resp.Header.Set("Retry-After", retryAfter)
	}
	return &anthropic.Error{StatusCode: status, Response: resp}
}

func TestRetryDelayRateLimited(t *testing.T) {
	wait, retryable := retryDelay(apiError(429, "30"), 0)
	require.True(t, retryable)
	assert.Equal(t, 35*time.Second, wait)
}

func TestRetryDelayRateLimitedNoHeader(t *testing.T) {
	wait, retryable := retryDelay(apiError(429, ""), 0)
	require.True(t, retryable)
	assert.Equal(t, 60*time.Second, wait)
}

func TestRetryDelayRateLimitedBadHeader(t *testing.T) {
	wait, retryable := retryDelay(apiError(429, "soon"), 2)
	require.True(t, retryable)
	assert.Equal(t, 60*time.Second, wait)
}

func TestRetryDelayServerErrorBackoff(t *testing.T) {
	expected := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		120 * time.Second, // capped
	}
	for attempt, want := range expected {
		wait, retryable := retryDelay(apiError(503, ""), attempt)
		require.True(t, retryable, "attempt %d", attempt)
		assert.Equal(t, want, wait, "attempt %d", attempt)
	}
}

func TestRetryDelayClientErrorNotRetryable(t *testing.T) {
	_, retryable := retryDelay(apiError(400, ""), 0)
	assert.False(t, retryable)

	_, retryable = retryDelay(apiError(401, ""), 0)
	assert.False(t, retryable)
}

func TestRetryDelayNonAPIError(t *testing.T) {
	_, retryable := retryDelay(errors.New("connection refused"), 0)
	assert.False(t, retryable)
}

func TestWithRetrySuccess(t *testing.T) {
	calls := 0
	out, err := withRetry(context.Background(), "test", func() (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, calls)
}

func TestWithRetryPropagatesNonRetryable(t *testing.T) {
	calls := 0
	wantErr := apiError(400, "")
	_, err := withRetry(context.Background(), "test", func() (string, error) {
		calls++
		return "", wantErr
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apierr *anthropic.Error
	require.True(t, errors.As(err, &apierr))
	assert.Equal(t, 400, apierr.StatusCode)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := withRetry(ctx, "test", func() (string, error) {
		calls++
		return "", apiError(500, "")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("", 0)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, DefaultMaxTokens, c.maxTokens)

	c = NewClient("claude-opus-4-5", 4096)
	assert.Equal(t, "claude-opus-4-5", c.Model())
	assert.Equal(t, 4096, c.maxTokens)
}
