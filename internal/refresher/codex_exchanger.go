package refresher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultCodexClientID is the Codex CLI OAuth client ID, used when a
// credential carries no client_id of its own.
const DefaultCodexClientID = "app_EMoamEEZ73f0CkXaXp7hrann"

// CodexTokenURL is OpenAI's OAuth token-refresh endpoint.
const CodexTokenURL = "https://auth.openai.com/oauth/token"

// CodexExchanger refreshes Codex/ChatGPT access tokens with a direct
// form POST against OpenAI's token endpoint.
type CodexExchanger struct {
	ClientID   string
	HTTPClient *http.Client
}

func (c *CodexExchanger) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Exchange implements Exchanger.
func (c *CodexExchanger) Exchange(ctx context.Context, refreshToken string, extra map[string]string) (string, time.Time, error) {
	clientID := firstNonEmpty(extra["client_id"], c.ClientID, DefaultCodexClientID)

	form := url.Values{
		"client_id":     {clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {"openid profile email"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, CodexTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client().Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return "", time.Time{}, &PermanentError{Err: fmt.Errorf("codex refresh rejected (%d): %s", resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("codex refresh failed (%d): %s", resp.StatusCode, body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", time.Time{}, fmt.Errorf("codex refresh: parse response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", time.Time{}, &PermanentError{Err: fmt.Errorf("codex refresh: empty access_token")}
	}
	return tokenResp.AccessToken, time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second), nil
}
