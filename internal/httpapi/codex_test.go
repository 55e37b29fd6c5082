package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pollux-gateway/pollux/internal/store"
)

func TestCodexResponsesHandlerPassesThroughValidShape(t *testing.T) {
	body := `{"id":"resp_1","object":"response","model":"gpt-5.2-codex","output":[{"type":"message"}]}`
	caller := newCallerWithOneCredential(t, store.ProviderCodex, &fakeDoer{resp: jsonResponse(body)})

	h := CodexResponsesHandler(caller)
	req := httptest.NewRequest(http.MethodPost, "/codex/v1/responses", strings.NewReader(`{"model":"gpt-5.2-codex"}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != body {
		t.Fatalf("expected passthrough body, got %s", rec.Body.String())
	}
}

func TestCodexResponsesHandlerRejectsUnshapedBody(t *testing.T) {
	caller := newCallerWithOneCredential(t, store.ProviderCodex, &fakeDoer{resp: jsonResponse(`{"unexpected":true}`)})

	h := CodexResponsesHandler(caller)
	req := httptest.NewRequest(http.MethodPost, "/codex/v1/responses", strings.NewReader(`{"model":"gpt-5.2-codex"}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for an unshaped codex body, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCodexResponsesHandlerStreamsSSEAndDropsUnparsableLines(t *testing.T) {
	sse := "data: {\"type\":\"response.output_text.delta\",\"delta\":\"hi\"}\n\ndata: not-json\n\ndata: [DONE]\n\n"
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(sse)),
	}
	caller := newCallerWithOneCredential(t, store.ProviderCodex, &fakeDoer{resp: resp})

	h := CodexResponsesHandler(caller)
	req := httptest.NewRequest(http.MethodPost, "/codex/v1/responses", strings.NewReader(`{"model":"gpt-5.2-codex","stream":true}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `"delta":"hi"`) {
		t.Fatalf("expected valid delta frame to forward, got %s", out)
	}
	if strings.Contains(out, "not-json") {
		t.Fatalf("expected unparsable frame to be dropped, got %s", out)
	}
	if !strings.Contains(out, "[DONE]") {
		t.Fatalf("expected [DONE] frame to forward, got %s", out)
	}
}
