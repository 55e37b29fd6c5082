// Package google implements the Google OAuth browser handshake used
// to onboard Gemini Cloud Code credentials: a login redirect and a
// callback that exchanges the code and ingests the resulting refresh
// token.
package google

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/pollux-gateway/pollux/internal/ingest"
	"github.com/pollux-gateway/pollux/internal/refresher"
	"github.com/pollux-gateway/pollux/internal/store"
)

var scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Handshake holds the fixed pieces of the handshake: the client pair
// and the CSRF state token generated for this process's lifetime.
type Handshake struct {
	ClientID     string
	ClientSecret string
	CallbackPath string

	state string
	sink  ingest.Sink
	log   *slog.Logger
}

// New builds a Handshake. Pass "" for clientID/clientSecret to fall
// back to the refresher package's well-known defaults.
func New(clientID, clientSecret, callbackPath string, sink ingest.Sink, log *slog.Logger) *Handshake {
	if clientID == "" {
		clientID = refresher.DefaultGeminiClientID
	}
	if clientSecret == "" {
		clientSecret = refresher.DefaultGeminiClientSecret
	}
	state := make([]byte, 16)
	_, _ = rand.Read(state)
	return &Handshake{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CallbackPath: callbackPath,
		state:        hex.EncodeToString(state),
		sink:         sink,
		log:          log,
	}
}

func (h *Handshake) config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.ClientID,
		ClientSecret: h.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     googleoauth.Endpoint,
	}
}

func (h *Handshake) redirectURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, h.CallbackPath)
}

// Login redirects the browser to Google's consent page.
func (h *Handshake) Login(w http.ResponseWriter, r *http.Request) {
	cfg := h.config(h.redirectURL(r))
	url := cfg.AuthCodeURL(h.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback exchanges the authorization code and ingests the resulting
// refresh token as a new Gemini Cloud Code credential.
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

	cfg := h.config(h.redirectURL(r))
	tok, err := cfg.Exchange(r.Context(), code)
	if err != nil {
		http.Error(w, "token exchange failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if tok.RefreshToken == "" {
		http.Error(w, "google did not return a refresh token; retry with consent prompt", http.StatusBadGateway)
		return
	}

	email := h.fetchEmail(r.Context(), cfg, tok)
	h.sink.Ingest(store.Credential{
		Provider:     store.ProviderGeminiCli,
		Identity:     email,
		ClientID:     h.ClientID,
		ClientSecret: h.ClientSecret,
		RefreshToken: tok.RefreshToken,
		AccessToken:  tok.AccessToken,
		Status:       store.StatusEnabled,
	})

	h.log.Info("oauthflow: ingested gemini credential from browser handshake", "identity", email)
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><h1>Login successful</h1><p>%s is now available to Pollux.</p></body></html>", email)
}

func (h *Handshake) fetchEmail(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) string {
	client := cfg.Client(ctx, tok)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return tok.RefreshToken[:minInt(8, len(tok.RefreshToken))]
	}
	defer resp.Body.Close()

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.Email == "" {
		return tok.RefreshToken[:minInt(8, len(tok.RefreshToken))]
	}
	return info.Email
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
