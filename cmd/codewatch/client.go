package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/codewatch/codewatch-go/internal/config"
)

// serverURL is shared by the audit and project command trees.
var serverURL string

// apiClient is a thin JSON client for the CodeWatch HTTP API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

// newAPIClient resolves the server URL (--server flag, CODEWATCH_SERVER,
// then localhost) and the caller's GitHub token (config/env, then OS
// keychain). An empty token is allowed; the server rejects requests that
// need authentication.
func newAPIClient() *apiClient {
	base := serverURL
	if base == "" {
		base = os.Getenv("CODEWATCH_SERVER")
	}
	if base == "" {
		base = "http://localhost:8080"
	}

	token := cfg.GitHub.Token
	if token == "" {
		if t, err := config.NewKeyringManager().GetGitHubToken(); err == nil {
			token = t
		}
	}

	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) url(path string) string {
	return c.base + "/api/v1" + path
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with HTTP %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
