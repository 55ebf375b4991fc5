package middleware

import (
	"context"
	"net/http"

	"friendclub/internal/domain"
	"friendclub/internal/observability"
)

type contextKey string

const (
	SessionKey contextKey = "session"

	// SessionCookie carries the session id for browsers; SessionQueryParam
	// is accepted for clients that cannot send cookies.
	SessionCookie     = "session_id"
	SessionQueryParam = "sessionId"
)

// Auth resolves the caller's session from the registry and rejects the
// request when there is none.
func Auth(sessions domain.SessionRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := SessionID(r)
			if id == "" {
				writeError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			session, err := sessions.Get(id)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}

			ctx := WithSession(r.Context(), session)
			ctx = observability.WithSession(ctx, session.ID, session.DID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionID extracts the session id from the cookie or the query string.
func SessionID(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get(SessionQueryParam)
}

func GetSession(ctx context.Context) (*domain.Session, bool) {
	session, ok := ctx.Value(SessionKey).(*domain.Session)
	return session, ok
}

func WithSession(ctx context.Context, session *domain.Session) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
