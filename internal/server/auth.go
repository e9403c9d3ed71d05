package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/bookwise/bookrag-go/internal/logging"
)

// requireAuth enforces Bearer token authentication on protected routes.
// With no APIKey configured the middleware is a passthrough, which keeps
// local development friction-free.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.cfg.APIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIKey)) != 1 {
			logging.FromContext(r.Context()).Warn("rejected unauthenticated request")
			w.Header().Set("WWW-Authenticate", `Bearer realm="bookrag"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer x" header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return h[len(prefix):], true
}
