package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/signalix/phoneauth/internal/auth"
	"github.com/signalix/phoneauth/internal/middleware"
)

// AuthHandler handles session endpoints
type AuthHandler struct {
	auth      *auth.Service
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:      authService,
		validator: newValidator(),
		logger:    logger,
	}
}

// refreshRequest is the request body for POST /auth/refresh and /auth/logout
type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type refreshResponse struct {
	Success      bool         `json:"success"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	User         userResponse `json:"user"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeAndValidate(h.validator, r, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	session, err := h.auth.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshTokenReuseDetected):
			renderError(w, r, http.StatusUnauthorized, "refresh_token_reuse_detected", "refresh token was already used, all sessions revoked")
		case errors.Is(err, auth.ErrInvalidRefreshToken):
			renderError(w, r, http.StatusUnauthorized, "invalid_token", "invalid or expired refresh token")
		default:
			h.logger.Error("token refresh failed", zap.Error(err))
			renderError(w, r, http.StatusInternalServerError, "internal_error", "failed to refresh token")
		}
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, &refreshResponse{
		Success:      true,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    session.TokenType,
		User:         userResponse{ID: session.User.ID.String(), PhoneNumber: session.User.PhoneNumber},
	})
}

// HandleLogout handles POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeAndValidate(h.validator, r, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			renderError(w, r, http.StatusUnauthorized, "invalid_token", "invalid or expired refresh token")
			return
		}
		h.logger.Error("logout failed", zap.Error(err))
		renderError(w, r, http.StatusInternalServerError, "internal_error", "failed to log out")
		return
	}
	renderSuccess(w, r, http.StatusOK, "logged out")
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		renderError(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, &userResponse{
		ID:          user.ID.String(),
		PhoneNumber: user.PhoneNumber,
	})
}
