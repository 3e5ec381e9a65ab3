package handlers

import (
	"net/http"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/adapters/web/middleware"
	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// AuthHandler handles login and session introspection.
type AuthHandler struct {
	Service    ports.AuthService
	SessionTTL time.Duration
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service ports.AuthService, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		Service:    service,
		SessionTTL: sessionTTL,
	}
}

// HandleLogin verifies credentials and issues a session token, both in
// the body and as a cookie for the dashboard.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if creds.Username == "" || creds.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	token, err := h.Service.Login(r.Context(), creds)
	if err != nil {
		// Generic message to avoid account enumeration.
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials", Code: "unauthorized"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.SessionTTL.Seconds()),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(h.SessionTTL.Seconds()),
	})
}

// HandleLogout clears the session cookie. Tokens are stateless, so
// there is nothing to invalidate server-side; they age out on expiry.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "auth_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// HandleMe returns the authenticated user's identity.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Code: "unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}
