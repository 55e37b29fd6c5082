package httpapi

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pollux-gateway/pollux/internal/normalize"
	"github.com/pollux-gateway/pollux/internal/perror"
	"github.com/pollux-gateway/pollux/internal/upstream"
)

// CodexResponsesHandler serves /codex/v1/responses, forwarding the
// OpenAI Responses payload and passing the result through unchanged
// after shape validation.
func CodexResponsesHandler(caller *upstream.Caller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		var parsed struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		_ = json.Unmarshal(body, &parsed)

		result := caller.Call(r.Context(), &upstream.Request{Model: parsed.Model, Stream: parsed.Stream, Body: body})
		if result.Err != nil {
			result.Err.WriteJSON(w)
			return
		}

		if parsed.Stream {
			streamErr := streamCodexSSE(w, result.Response.Body)
			caller.ReportStreamOutcome(result, streamErr)
			return
		}
		defer result.Release()
		defer result.Response.Body.Close()

		respBody, err := io.ReadAll(result.Response.Body)
		if err != nil {
			http.Error(w, "failed to read upstream response", http.StatusBadGateway)
			return
		}
		if err := normalize.ValidateCodexShape(respBody); err != nil {
			perror.ErrUpstreamParse.WriteJSON(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(respBody)
	}
}

// streamCodexSSE relays the upstream SSE body line by line, validating
// each data line's shape, and reports the scanner's terminal error (nil
// on a clean close) so the caller can decide the credential's fate.
func streamCodexSSE(w http.ResponseWriter, body io.ReadCloser) error {
	defer body.Close()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			if err := normalize.ValidateCodexSSELine(data); err != nil {
				continue
			}
		}
		io.WriteString(w, line+"\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
	return scanner.Err()
}
