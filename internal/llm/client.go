// Package llm wraps the Anthropic API with the retry policy and tolerant
// JSON extraction the audit pipeline depends on. SDK-level retries are
// disabled; backoff is handled here so every call site behaves identically.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codewatch/codewatch-go/internal/logging"
)

const (
	// maxRetries bounds retry attempts after the initial call.
	maxRetries = 5

	// rateLimitBuffer is added to the server's Retry-After on 429.
	rateLimitBuffer = 5 * time.Second

	// rateLimitFallback applies when a 429 carries no usable Retry-After.
	rateLimitFallback = 60 * time.Second

	// serverErrorCap bounds the exponential backoff on 5xx.
	serverErrorCap = 120 * time.Second
)

// DefaultModel is used when a request does not name one.
const DefaultModel = "claude-sonnet-4-5"

// DefaultMaxTokens is the output cap when a request does not set one.
const DefaultMaxTokens = 8192

// Request is a single-turn prompt. Model and MaxTokens fall back to the
// client defaults when zero.
type Request struct {
	System    string
	User      string
	Model     string
	MaxTokens int
}

// Result is the outcome of a single-turn call.
type Result struct {
	Content      string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Client issues Anthropic API calls on behalf of audit tasks. The API key is
// supplied per call; audits run with the requester's key, which lives only in
// memory for the task lifetime.
type Client struct {
	model     string
	maxTokens int
}

// NewClient returns a Client with the given defaults.
func NewClient(model string, maxTokens int) *Client {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Client{model: model, maxTokens: maxTokens}
}

// Model returns the default model id.
func (c *Client) Model() string { return c.model }

// MaxTokens returns the default output cap.
func (c *Client) MaxTokens() int { return c.maxTokens }

func (c *Client) sdk(apiKey string) anthropic.Client {
	return anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
}

// Call sends one system+user prompt and returns the text content with usage.
func (c *Client) Call(ctx context.Context, apiKey string, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	client := c.sdk(apiKey)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := withRetry(ctx, "messages", func() (*anthropic.Message, error) {
		return client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Content:      TextContent(msg),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   string(msg.StopReason),
	}, nil
}

// Do issues a raw Messages call under the shared retry policy. The component
// agent uses this for its tool-use turns.
func (c *Client) Do(ctx context.Context, apiKey string, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	client := c.sdk(apiKey)
	return withRetry(ctx, "messages", func() (*anthropic.Message, error) {
		return client.Messages.New(ctx, params)
	})
}

// CountTokens asks the provider for a precise input-token count.
func (c *Client) CountTokens(ctx context.Context, apiKey string, req Request) (int, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	client := c.sdk(apiKey)
	params := anthropic.MessageCountTokensParams{
		Model: anthropic.Model(model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if req.System != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{
			OfTextBlockArray: []anthropic.TextBlockParam{{Text: req.System}},
		}
	}

	count, err := withRetry(ctx, "count_tokens", func() (*anthropic.MessageTokensCount, error) {
		return client.Messages.CountTokens(ctx, params)
	})
	if err != nil {
		return 0, err
	}
	return int(count.InputTokens), nil
}

// TextContent concatenates the text blocks of a response.
func TextContent(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}
	return sb.String()
}

// withRetry applies the shared policy: 429 waits Retry-After plus a buffer,
// 5xx backs off exponentially up to a cap, anything else propagates.
func withRetry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		wait, retryable := retryDelay(err, attempt)
		if !retryable || attempt == maxRetries {
			return zero, err
		}

		logging.Warn("llm call retrying",
			"op", op,
			"attempt", attempt+1,
			"wait", wait.String(),
			"error", err.Error())

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return zero, lastErr
}

// retryDelay classifies err and returns how long to wait before retrying.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		return 0, false
	}

	switch {
	case apierr.StatusCode == http.StatusTooManyRequests:
		if after, ok := retryAfter(apierr.Response); ok {
			return after + rateLimitBuffer, true
		}
		return rateLimitFallback, true
	case apierr.StatusCode >= 500:
		wait := 10 * time.Second * (1 << attempt)
		if wait > serverErrorCap {
			wait = serverErrorCap
		}
		return wait, true
	default:
		return 0, false
	}
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
