// Package geminicli is the Gemini Cloud Code upstream client: base-URL
// fallback, premium-model request shaping, and SSE-aware forwarding.
package geminicli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pollux-gateway/pollux/internal/scheduler"
	"github.com/pollux-gateway/pollux/internal/upstream"
)

// BaseURLs lists the Cloud Code internal API hosts in fallback order:
// production first, then the daily channel, then the sandbox-daily
// channel used only as a last resort.
var BaseURLs = []string{
	"https://cloudcode-pa.googleapis.com/v1internal",
	"https://daily-cloudcode-pa.googleapis.com/v1internal",
	"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal",
}

const userAgent = "antigravity/1.11.9 windows/amd64"

var clientMetadata = map[string]string{
	"ideType":    "IDE_UNSPECIFIED",
	"platform":   "PLATFORM_UNSPECIFIED",
	"pluginType": "GEMINI",
}

// Client issues requests against the Cloud Code internal API, rotating
// across BaseURLs on 429/403/5xx before giving up.
type Client struct {
	HTTP *http.Client
}

// New builds a Client using the transport policy described for
// upstream callers: connection reuse disabled by default, or an
// HTTP/2-adaptive-window pool when multiplexing is enabled.
func New(proxyURL string, enableMultiplexing bool) (*Client, error) {
	transport, err := upstream.BuildTransport(proxyURL, enableMultiplexing)
	if err != nil {
		return nil, err
	}
	return &Client{HTTP: &http.Client{Transport: transport}}, nil
}

// Do implements upstream.Doer: one Cloud Code call against the leased
// credential's access token, retrying across base URLs on the way.
func (c *Client) Do(ctx context.Context, lease *scheduler.Lease, req *upstream.Request) (*http.Response, error) {
	method := "generateContent"
	query := ""
	if req.Stream {
		method = "streamGenerateContent"
		query = "alt=sse"
	}

	var lastErr error
	for i, base := range BaseURLs {
		url := fmt.Sprintf("%s:%s", base, method)
		if query != "" {
			url = url + "?" + query
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
		if err != nil {
			return nil, err
		}
		c.setHeaders(httpReq, lease.AccessToken)

		resp, err := c.HTTP.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK || i == len(BaseURLs)-1 {
			return resp, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden || resp.StatusCode >= 500 {
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Goog-Api-Client", "google-cloud-sdk vscode_cloudshelleditor/0.1")
	meta, _ := json.Marshal(clientMetadata)
	req.Header.Set("Client-Metadata", string(meta))
}

// FetchModels retrieves the model catalog for the /geminicli/v1beta/models route.
func (c *Client) FetchModels(ctx context.Context, accessToken string) (*http.Response, error) {
	url := BaseURLs[0] + ":fetchAvailableModels"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, accessToken)
	return c.HTTP.Do(req)
}

// ParseRetryAfter extracts a retry instant from a 429 response body's
// quotaResetTimeStamp field, falling back to the Retry-After header.
func ParseRetryAfter(resp *http.Response, body []byte) time.Duration {
	var parsed struct {
		Error struct {
			Details []struct {
				QuotaResetTimeStamp string `json:"quotaResetTimeStamp"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, d := range parsed.Error.Details {
			if d.QuotaResetTimeStamp == "" {
				continue
			}
			if t, err := time.Parse(time.RFC3339, d.QuotaResetTimeStamp); err == nil {
				if wait := time.Until(t); wait > 0 {
					return wait
				}
			}
		}
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := time.ParseDuration(ra + "s"); err == nil {
			return secs
		}
	}
	return 0
}
