package handler

import (
	"net/http"

	"github.com/jamesl1500/taskispace.com-sub003/internal/contextkeys"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
)

// AuthHandler reports the identity the auth middleware attached to a request.
type AuthHandler struct{}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := contextkeys.CallerFrom(r.Context())
	if !ok {
		Error(w, domain.ErrNotAuthenticated)
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"id":    caller.UserID,
		"email": caller.Email,
		"role":  caller.Role,
	})
}
