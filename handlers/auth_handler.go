package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/session"
	"github.com/upb/tenantguard/services/token"
	"github.com/upb/tenantguard/utils"
)

// authTokenCookie mirrors the cookie fallback accepted by the tenant middleware
const authTokenCookie = "auth_token"

// SessionService runs the login, refresh, logout and profile flows
type SessionService interface {
	Login(ctx context.Context, t *models.Tenant, creds session.Credentials, actor models.Actor) (*session.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, actor models.Actor) (*token.Pair, error)
	Logout(ctx context.Context, access *token.Claims, refreshToken string, actor models.Actor) error
	Me(ctx context.Context, claims *token.Claims, t *models.Tenant) (*session.Profile, error)
}

// RefreshRequest is the body of POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest is the optional body of POST /auth/logout
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// AuthHandler handles session endpoints
type AuthHandler struct {
	sessions      SessionService
	secureCookies bool
	logger        *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. secureCookies marks the auth cookie Secure.
func NewAuthHandler(sessions SessionService, secureCookies bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		sessions:      sessions,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// HandleLogin handles POST /api/v1/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var creds session.Credentials
	if err := decodeJSON(r, &creds, false); err != nil {
		writeDecodeError(w, err, h.logger)
		return
	}

	result, err := h.sessions.Login(ctx, middleware.GetTenantFromContext(ctx), creds, middleware.ActorFromRequest(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.setAuthCookie(w, result.AccessToken, result.AccessExpiresAt)
	_ = utils.WriteOK(w, result)
}

// HandleRefresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeDecodeError(w, err, h.logger)
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken, middleware.ActorFromRequest(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.setAuthCookie(w, pair.AccessToken, pair.AccessExpiresAt)
	_ = utils.WriteOK(w, pair)
}

// HandleLogout handles POST /api/v1/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LogoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req, false); err != nil {
			writeDecodeError(w, err, h.logger)
			return
		}
	}

	if err := h.sessions.Logout(ctx, middleware.GetClaimsFromContext(ctx), req.RefreshToken, middleware.ActorFromRequest(r)); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.clearAuthCookie(w)
	utils.WriteNoContent(w)
}

// HandleMe handles GET /api/v1/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		HandleServiceError(w, services.ErrMissingToken, h.logger)
		return
	}

	profile, err := h.sessions.Me(ctx, claims, middleware.GetTenantFromContext(ctx))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, profile)
}

func (h *AuthHandler) setAuthCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
