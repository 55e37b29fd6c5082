package ingest

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pollux-gateway/pollux/internal/store"
)

type fakeSink struct {
	mu    sync.Mutex
	creds []store.Credential
}

func (f *fakeSink) Ingest(c store.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = append(f.creds, c)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanDirectoryAcceptsSingleAndListFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "one.json"), []byte(`{"identity":"a@example.com","refresh_token":"rt-a"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "many.json"), []byte(`[{"identity":"b@example.com","refresh_token":"rt-b"},{"identity":"c@example.com","refresh_token":"rt-c"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	if err := ScanDirectory(dir, store.ProviderGeminiCli, sink, testLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.creds) != 3 {
		t.Fatalf("expected 3 ingested credentials, got %d", len(sink.creds))
	}
}

func TestScanDirectoryMissingDirIsNotAnError(t *testing.T) {
	sink := &fakeSink{}
	if err := ScanDirectory(filepath.Join(t.TempDir(), "missing"), store.ProviderCodex, sink, testLogger()); err != nil {
		t.Fatalf("missing cred_path should not error: %v", err)
	}
}

func TestResourceAddHandlerAcceptsBatchAndReturns202(t *testing.T) {
	sink := &fakeSink{}
	h := ResourceAddHandler(store.ProviderCodex, sink)

	body := `[{"identity":"x@example.com","refresh_token":"rt-x"},{"identity":"y@example.com","refresh_token":"rt-y"}]`
	req := httptest.NewRequest(http.MethodPost, "/codex/resource:add", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(sink.creds) != 2 {
		t.Fatalf("expected 2 ingested credentials, got %d", len(sink.creds))
	}
}

func TestResourceAddHandlerRejectsInvalidPayload(t *testing.T) {
	sink := &fakeSink{}
	h := ResourceAddHandler(store.ProviderGeminiCli, sink)

	req := httptest.NewRequest(http.MethodPost, "/geminicli/resource:add", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
