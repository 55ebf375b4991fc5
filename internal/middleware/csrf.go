package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TokenVerifier checks a submitted CSRF token against the session's.
type TokenVerifier interface {
	Verify(expected, submitted string) error
}

// CSRF validates the session's synchronizer token on state-changing
// requests. It must run after Auth.
//
// Token sources, in order: X-CSRF-Token header, X-XSRF-Token header.
func CSRF(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) || isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			session, ok := GetSession(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			submitted := extractCSRFToken(r)
			if err := tokens.Verify(session.CSRFToken, submitted); err != nil {
				reason := "invalid token"
				if submitted == "" {
					reason = "missing token"
				}
				logCSRFFailure(r, session.DID, reason)
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod returns true if the HTTP method is idempotent and cacheable.
func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}

func isExemptPath(path string) bool {
	exemptPaths := []string{
		"/health",
		"/metrics",
		"/ws",
	}

	for _, exemptPath := range exemptPaths {
		if strings.HasPrefix(path, exemptPath) {
			return true
		}
	}
	return false
}

func extractCSRFToken(r *http.Request) string {
	if token := r.Header.Get("X-CSRF-Token"); token != "" {
		return token
	}
	return r.Header.Get("X-XSRF-Token")
}

func logCSRFFailure(r *http.Request, did, reason string) {
	slog.Warn("CSRF validation failed",
		slog.String("did", did),
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)
}
