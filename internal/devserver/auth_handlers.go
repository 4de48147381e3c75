package devserver

import (
	"net/http"
	"strings"

	"attendance.org/internal/audit"
	"attendance.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var missing []fieldError
	if strings.TrimSpace(req.Email) == "" {
		missing = append(missing, fieldError{Field: "email", Message: "is required"})
	}
	if req.Password == "" {
		missing = append(missing, fieldError{Field: "password", Message: "is required"})
	}
	if len(missing) > 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "validation failed", missing)
		return
	}

	userID, err := a.dir.Authenticate(req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": req.Email})
		writeError(w, r, http.StatusUnauthorized, "invalid email or password", nil)
		return
	}
	pair, err := a.issuer.IssuePair(userID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed", nil)
		return
	}
	ctx := auth.ContextWithUser(r.Context(), userID)
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"access_expires_at": pair.AccessExpiresAt})
	writeData(w, http.StatusOK, "Login successful", pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	pair, err := a.issuer.Refresh(req.RefreshToken)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.refresh.rejected", nil)
		writeError(w, r, http.StatusUnauthorized, "refresh token invalid or expired", nil)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{"access_expires_at": pair.AccessExpiresAt})
	writeData(w, http.StatusOK, "Token refreshed", pair)
}
