package refresher

import (
	"context"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// Default OAuth client pair used when a credential was ingested
// without its own client_id/client_secret, matching the fallback the
// teacher's Google OAuth integration carries.
const (
	DefaultGeminiClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	DefaultGeminiClientSecret = "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"
)

// GeminiExchanger refreshes Gemini Cloud Code access tokens against
// Google's OAuth token endpoint via golang.org/x/oauth2.
type GeminiExchanger struct {
	ClientID     string
	ClientSecret string
}

// Exchange implements Exchanger. extra["client_id"]/["client_secret"]
// override the exchanger defaults when the credential carries its own
// OAuth client pair.
func (g *GeminiExchanger) Exchange(ctx context.Context, refreshToken string, extra map[string]string) (string, time.Time, error) {
	clientID := firstNonEmpty(extra["client_id"], g.ClientID, DefaultGeminiClientID)
	clientSecret := firstNonEmpty(extra["client_secret"], g.ClientSecret, DefaultGeminiClientSecret)

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     googleoauth.Endpoint,
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		if isInvalidGrant(err) {
			return "", time.Time{}, &PermanentError{Err: err}
		}
		return "", time.Time{}, err
	}
	return tok.AccessToken, tok.Expiry, nil
}

func isInvalidGrant(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"invalid_grant", "invalid_client", "unauthorized_client", "revoked"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
