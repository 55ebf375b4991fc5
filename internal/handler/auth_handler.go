package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"friendclub/internal/domain"
	"friendclub/internal/middleware"
	"friendclub/internal/service"
)

const sessionMaxAge = 86400 // 24 hours

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService  *service.AuthService
	secureCookie bool
}

// NewAuthHandler creates a new authentication handler. secureCookie marks
// the session cookie Secure and should be set behind https.
func NewAuthHandler(authService *service.AuthService, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		secureCookie: secureCookie,
	}
}

// LoginRequest represents login request
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// SessionResponse describes the caller's session.
type SessionResponse struct {
	DID       string `json:"did"`
	Handle    string `json:"handle,omitempty"`
	SessionID string `json:"sessionId"`
	CSRFToken string `json:"csrfToken"`
}

// Login handles app-password login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.authService.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "Identifier and password are required")
		case errors.Is(err, domain.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid identifier or password")
		default:
			slog.Error("login failed",
				slog.String("identifier", req.Identifier),
				slog.String("error", err.Error()))
			writeError(w, http.StatusBadGateway, "Login failed")
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session.ID,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, sessionResponse(session))
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Session not found")
		return
	}

	if err := h.authService.Logout(session.ID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to logout")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the current session, including the CSRF token so a reloaded
// page can keep writing.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func sessionResponse(s *domain.Session) SessionResponse {
	return SessionResponse{
		DID:       s.DID,
		Handle:    s.Handle,
		SessionID: s.ID,
		CSRFToken: s.CSRFToken,
	}
}
