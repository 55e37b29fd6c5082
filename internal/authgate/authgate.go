// Package authgate enforces the shared gateway key on every route
// other than the OAuth browser entry/callback URLs.
package authgate

import (
	"crypto/subtle"
	"net/http"

	"github.com/pollux-gateway/pollux/internal/perror"
)

// Middleware checks the configured key against Authorization: Bearer,
// x-goog-api-key, x-api-key, and the ?key= query parameter, in that
// order, using a constant-time comparison so the check doesn't leak
// timing information about how much of the key matched.
func Middleware(key string) func(http.Handler) http.Handler {
	expected := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !accepts(r, expected) {
				perror.ErrAuthRejected.WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accepts(r *http.Request, expected []byte) bool {
	if auth := r.Header.Get("Authorization"); len(auth) > len("Bearer ") && auth[:7] == "Bearer " {
		if equal(auth[7:], expected) {
			return true
		}
	}
	if equal(r.Header.Get("x-goog-api-key"), expected) {
		return true
	}
	if equal(r.Header.Get("x-api-key"), expected) {
		return true
	}
	if equal(r.URL.Query().Get("key"), expected) {
		return true
	}
	return false
}

func equal(candidate string, expected []byte) bool {
	if candidate == "" {
		return false
	}
	c := []byte(candidate)
	if len(c) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare(c, expected) == 1
}
