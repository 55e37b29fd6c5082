package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pollux-gateway/pollux/internal/normalize"
	"github.com/pollux-gateway/pollux/internal/perror"
	"github.com/pollux-gateway/pollux/internal/upstream"
)

// GeminiGenerateContentHandler serves the unary generateContent route:
// acquire/call/classify/report runs inside Caller.Call, then the body
// is unwrapped before being written back.
func GeminiGenerateContentHandler(caller *upstream.Caller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := chi.URLParam(r, "model")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		result := caller.Call(r.Context(), &upstream.Request{Model: model, Stream: false, Body: body})
		if result.Err != nil {
			result.Err.WriteJSON(w)
			return
		}
		defer result.Release()
		defer result.Response.Body.Close()

		respBody, err := io.ReadAll(result.Response.Body)
		if err != nil {
			http.Error(w, "failed to read upstream response", http.StatusBadGateway)
			return
		}

		if ct := result.Response.Header.Get("Content-Type"); strings.Contains(ct, "text/event-stream") {
			// upstream silently degraded a unary call into SSE
			merged, err := normalize.MergeSSEToJSON(io.NopCloser(strings.NewReader(string(respBody))))
			if err != nil {
				http.Error(w, "failed to merge degraded stream", http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(merged)
			return
		}

		unwrapped, err := normalize.UnwrapJSON(respBody)
		if err != nil {
			perror.ErrUpstreamParse.WriteJSON(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(unwrapped)
	}
}

// GeminiStreamGenerateContentHandler serves the SSE streamGenerateContent route.
func GeminiStreamGenerateContentHandler(caller *upstream.Caller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := chi.URLParam(r, "model")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		result := caller.Call(r.Context(), &upstream.Request{Model: model, Stream: true, Body: body})
		if result.Err != nil {
			result.Err.WriteJSON(w)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		streamErr := normalize.StreamSSE(w, result.Response.Body)
		caller.ReportStreamOutcome(result, streamErr)
	}
}
