package httpapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pollux-gateway/pollux/internal/scheduler"
	"github.com/pollux-gateway/pollux/internal/store"
	"github.com/pollux-gateway/pollux/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noRefresh(ctx context.Context, snap scheduler.Snapshot) (string, time.Time, error) {
	return "refreshed", time.Now().Add(time.Hour), nil
}

func newCallerWithOneCredential(t *testing.T, provider store.Provider, doer upstream.Doer) *upstream.Caller {
	t.Helper()
	st, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Upsert(&store.Credential{Provider: provider, Identity: "a@example.com", RefreshToken: "rt"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	sched := scheduler.New(provider, st, noRefresh, func(string) bool { return false }, testLogger())
	if err := sched.LoadFromStore(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	t.Cleanup(func() { cancel(); sched.Stop() })

	return &upstream.Caller{Scheduler: sched, Doer: doer, RetryMax: 1}
}

type fakeDoer struct {
	resp *http.Response
	err  error
}

func (d *fakeDoer) Do(ctx context.Context, lease *scheduler.Lease, req *upstream.Request) (*http.Response, error) {
	return d.resp, d.err
}

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestGeminiGenerateContentHandlerUnwrapsEnvelope(t *testing.T) {
	caller := newCallerWithOneCredential(t, store.ProviderGeminiCli, &fakeDoer{resp: jsonResponse(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}}`)})

	r := chi.NewRouter()
	r.Post("/geminicli/v1beta/models/{model}:generateContent", GeminiGenerateContentHandler(caller))

	req := httptest.NewRequest(http.MethodPost, "/geminicli/v1beta/models/gemini-3-pro:generateContent", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"text":"hi"`) {
		t.Fatalf("expected unwrapped candidate text, got %s", rec.Body.String())
	}
}

func TestGeminiGenerateContentHandlerReturnsNoCredentialAsUpstreamError(t *testing.T) {
	caller := newCallerWithOneCredential(t, store.ProviderGeminiCli, &fakeDoer{resp: &http.Response{
		StatusCode: http.StatusUnauthorized,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{}`)),
	}})

	r := chi.NewRouter()
	r.Post("/geminicli/v1beta/models/{model}:generateContent", GeminiGenerateContentHandler(caller))

	req := httptest.NewRequest(http.MethodPost, "/geminicli/v1beta/models/gemini-3-pro:generateContent", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// a single-credential pool can't satisfy the retry after ReportInvalid
	// pulls the credential out for an async refresh, so the second
	// Acquire sees an empty pool.
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once the pool is exhausted mid-retry, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGeminiStreamGenerateContentHandlerSetsSSEHeadersAndForwardsFrames(t *testing.T) {
	sseBody := "data: {\"response\":{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"hi\"}]}}]}}\n\ndata: [DONE]\n\n"
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(sseBody)),
	}
	caller := newCallerWithOneCredential(t, store.ProviderGeminiCli, &fakeDoer{resp: resp})

	r := chi.NewRouter()
	r.Post("/geminicli/v1beta/models/{model}:streamGenerateContent", GeminiStreamGenerateContentHandler(caller))

	req := httptest.NewRequest(http.MethodPost, "/geminicli/v1beta/models/gemini-3-pro:streamGenerateContent", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"text":"hi"`) {
		t.Fatalf("expected unwrapped streamed text, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "[DONE]") {
		t.Fatalf("expected [DONE] frame to pass through, got %s", rec.Body.String())
	}
}
