// Package codex implements the OpenAI/ChatGPT OAuth browser handshake
// used to onboard Codex credentials, including the PKCE exchange the
// Codex CLI's own client registration requires.
package codex

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/pollux-gateway/pollux/internal/ingest"
	"github.com/pollux-gateway/pollux/internal/refresher"
	"github.com/pollux-gateway/pollux/internal/store"
)

const (
	authorizeURL = "https://auth.openai.com/oauth/authorize"
	tokenURL     = "https://auth.openai.com/oauth/token"
)

var scopes = []string{"openid", "profile", "email", "offline_access"}

// Handshake holds the PKCE verifier/state for one in-flight login. A
// fresh Handshake should back every /codex/auth request since the
// verifier must match the subsequent callback.
type Handshake struct {
	ClientID     string
	CallbackPath string

	sink ingest.Sink
	log  *slog.Logger

	state    string
	verifier string
}

// New builds a Handshake. Pass "" for clientID to use the Codex CLI's
// well-known public client id.
func New(clientID, callbackPath string, sink ingest.Sink, log *slog.Logger) *Handshake {
	if clientID == "" {
		clientID = refresher.DefaultCodexClientID
	}
	return &Handshake{ClientID: clientID, CallbackPath: callbackPath, sink: sink, log: log}
}

func randomURLSafe(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// Login redirects the browser to OpenAI's consent page with a PKCE
// challenge derived from a freshly generated verifier.
func (h *Handshake) Login(w http.ResponseWriter, r *http.Request) {
	h.state = randomURLSafe(16)
	h.verifier = randomURLSafe(32)

	sum := sha256.Sum256([]byte(h.verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	q := url.Values{
		"response_type":              {"code"},
		"client_id":                  {h.ClientID},
		"redirect_uri":               {h.redirectURL(r)},
		"scope":                      {strings.Join(scopes, " ")},
		"code_challenge":             {challenge},
		"code_challenge_method":      {"S256"},
		"state":                      {h.state},
		"id_token_add_organizations": {"true"},
		"codex_cli_simplified_flow":  {"true"},
		"originator":                 {"pollux"},
	}
	http.Redirect(w, r, authorizeURL+"?"+q.Encode(), http.StatusTemporaryRedirect)
}

func (h *Handshake) redirectURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, h.CallbackPath)
}

// Callback exchanges the authorization code (with the stored PKCE
// verifier) and ingests the resulting refresh token as a new Codex
// credential.
func (h *Handshake) Callback(w http.ResponseWriter, r *http.Request) {
	if got := r.URL.Query().Get("state"); got != h.state {
		http.Error(w, "invalid oauth state", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {h.ClientID},
		"code":          {code},
		"redirect_uri":  {h.redirectURL(r)},
		"code_verifier": {h.verifier},
	}
	resp, err := http.PostForm(tokenURL, form)
	if err != nil {
		http.Error(w, "token exchange failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil || tokenResp.RefreshToken == "" {
		http.Error(w, "codex token exchange returned no refresh token", http.StatusBadGateway)
		return
	}

	identity := claimEmail(tokenResp.IDToken)
	if identity == "" {
		identity = hex.EncodeToString([]byte(tokenResp.RefreshToken))[:16]
	}

	h.sink.Ingest(store.Credential{
		Provider:     store.ProviderCodex,
		Identity:     identity,
		ClientID:     h.ClientID,
		RefreshToken: tokenResp.RefreshToken,
		AccessToken:  tokenResp.AccessToken,
		Status:       store.StatusEnabled,
	})

	h.log.Info("oauthflow: ingested codex credential from browser handshake", "identity", identity)
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><h1>Login successful</h1><p>%s is now available to Pollux.</p></body></html>", identity)
}

// claimEmail extracts the "email" claim from an unverified JWT, mirroring
// the account-info lookup the Codex CLI's auth.json does locally; Pollux
// only uses it to pick a stable identity string, not for authorization.
func claimEmail(idToken string) string {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Email
}
