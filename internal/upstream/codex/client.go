// Package codex is the Codex/ChatGPT Responses API upstream client.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/pollux-gateway/pollux/internal/scheduler"
	"github.com/pollux-gateway/pollux/internal/upstream"
)

// ResponsesURL is the single Codex upstream endpoint; unlike Gemini
// there is no fallback host to rotate across. Declared as a var so
// tests can redirect it at a local server.
var ResponsesURL = "https://chatgpt.com/backend-api/codex/responses"

const userAgent = "codex_cli_rs/0.94.0 (Mac OS 26.0.1; arm64)"

// Client issues requests against the Codex Responses API.
type Client struct {
	HTTP *http.Client
}

// New builds a Client with the shared transport policy.
func New(proxyURL string, enableMultiplexing bool) (*Client, error) {
	transport, err := upstream.BuildTransport(proxyURL, enableMultiplexing)
	if err != nil {
		return nil, err
	}
	return &Client{HTTP: &http.Client{Transport: transport}}, nil
}

type extras struct {
	AccountID string `json:"account_id"`
}

// Do implements upstream.Doer.
func (c *Client) Do(ctx context.Context, lease *scheduler.Lease, req *upstream.Request) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ResponsesURL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Authorization", "Bearer "+lease.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Version", "0.94.0")
	httpReq.Header.Set("Openai-Beta", "responses=experimental")
	httpReq.Header.Set("Originator", "codex_cli_rs")

	var e extras
	if lease.ProviderExtras != "" {
		_ = json.Unmarshal([]byte(lease.ProviderExtras), &e)
	}
	if e.AccountID != "" {
		httpReq.Header.Set("Chatgpt-Account-Id", e.AccountID)
	}

	return c.HTTP.Do(httpReq)
}
