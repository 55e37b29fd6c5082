// Package httpapi assembles the chi router and HTTP handlers for the
// Gemini Cloud Code and Codex surfaces, plus their OAuth handshake and
// credential-ingest routes.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pollux-gateway/pollux/internal/authgate"
	"github.com/pollux-gateway/pollux/internal/ingest"
	oauthcodex "github.com/pollux-gateway/pollux/internal/oauthflow/codex"
	oauthgoogle "github.com/pollux-gateway/pollux/internal/oauthflow/google"
	"github.com/pollux-gateway/pollux/internal/obslog"
	"github.com/pollux-gateway/pollux/internal/store"
	"github.com/pollux-gateway/pollux/internal/upstream"
)

// Deps collects everything the router needs to wire routes, one field
// per moving part so main.go stays a thin assembly step.
type Deps struct {
	GatewayKey string

	GeminiCaller      *upstream.Caller
	GeminiModels      []string
	GeminiOpenAIOwner string
	GeminiSink        ingest.Sink
	GeminiOAuthClient string
	GeminiOAuthSecret string

	CodexCaller      *upstream.Caller
	CodexModels      []string
	CodexSink        ingest.Sink
	CodexOAuthClient string

	Log *slog.Logger
}

// New builds the full router described by the HTTP routes table: two
// provider surfaces under an auth gate, and ungated OAuth browser
// routes for both.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(obslog.RequestLogger(d.Log))

	gHandshake := oauthgoogle.New(d.GeminiOAuthClient, d.GeminiOAuthSecret, "/oauth2callback", d.GeminiSink, d.Log)
	cHandshake := oauthcodex.New(d.CodexOAuthClient, "/auth/callback", d.CodexSink, d.Log)

	r.Get("/geminicli/auth", gHandshake.Login)
	r.Get("/oauth2callback", gHandshake.Callback)

	r.Get("/codex/auth", cHandshake.Login)
	r.Get("/auth/callback", cHandshake.Callback)
	r.Get("/codex/auth/callback", cHandshake.Callback)

	r.Group(func(r chi.Router) {
		r.Use(authgate.Middleware(d.GatewayKey))

		r.Get("/geminicli/v1beta/models", ModelsHandler(d.GeminiModels))
		r.Get("/geminicli/v1beta/openai/models", OpenAIModelsHandler(d.GeminiModels, d.GeminiOpenAIOwner))
		r.Post("/geminicli/v1beta/models/{model}:generateContent", GeminiGenerateContentHandler(d.GeminiCaller))
		r.Post("/geminicli/v1beta/models/{model}:streamGenerateContent", GeminiStreamGenerateContentHandler(d.GeminiCaller))
		r.Post("/geminicli/resource:add", ingest.ResourceAddHandler(store.ProviderGeminiCli, d.GeminiSink))

		r.Get("/codex/v1/models", CodexModelsHandler(d.CodexModels))
		r.Post("/codex/v1/responses", CodexResponsesHandler(d.CodexCaller))
		r.Post("/codex/resource:add", ingest.ResourceAddHandler(store.ProviderCodex, d.CodexSink))
	})

	return r
}
