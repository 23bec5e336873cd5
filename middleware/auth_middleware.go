package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/tenantguard/services/tenant"
	"github.com/upb/tenantguard/utils"
)

// Tenant headers accepted on requests and echoed on responses
const (
	TenantIDHeader   = "X-Tenant-ID"
	TenantSlugHeader = "X-Tenant-Slug"
)

// TenantResolver resolves the caller's identity and tenant
type TenantResolver interface {
	Resolve(ctx context.Context, req tenant.Request, policy tenant.Policy) (*tenant.Resolution, error)
}

// AuthMiddleware binds each request to a tenant under a resolution policy
type AuthMiddleware struct {
	resolver TenantResolver
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(resolver TenantResolver, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
		logger:   logger,
	}
}

// authTokenCookieName is the cookie fallback for browser clients (Authorization header takes precedence)
const authTokenCookieName = "auth_token"

// RequireTenant demands a valid access token whose tenant is active
func (m *AuthMiddleware) RequireTenant(next http.Handler) http.Handler {
	return m.Tenant(tenant.PolicyRequired)(next)
}

// OptionalTenant authenticates when a token is present, otherwise falls back to headers
func (m *AuthMiddleware) OptionalTenant(next http.Handler) http.Handler {
	return m.Tenant(tenant.PolicyOptional)(next)
}

// PublicTenant resolves the tenant from headers for unauthenticated endpoints such as login
func (m *AuthMiddleware) PublicTenant(next http.Handler) http.Handler {
	return m.Tenant(tenant.PolicyPublic)(next)
}

// Tenant resolves identity and tenant under policy and stores the outcome in the context
func (m *AuthMiddleware) Tenant(policy tenant.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			res, err := m.resolver.Resolve(ctx, tenant.Request{
				Token:      extractToken(r),
				TenantID:   strings.TrimSpace(r.Header.Get(TenantIDHeader)),
				TenantSlug: strings.TrimSpace(r.Header.Get(TenantSlugHeader)),
			}, policy)
			if err != nil {
				m.logger.Warn("tenant resolution failed",
					zap.String("request_id", requestID),
					zap.String("policy", policy.String()),
					zap.Error(err))
				if _, werr := utils.WriteServiceError(w, err); werr != nil {
					m.logger.Error("failed to write resolution error", zap.Error(werr))
				}
				return
			}

			if res.Tenant != nil {
				w.Header().Set(TenantIDHeader, res.Tenant.ID.String())
				w.Header().Set(TenantSlugHeader, res.Tenant.Slug)
			}

			m.logger.Debug("tenant resolved",
				zap.String("request_id", requestID),
				zap.String("policy", policy.String()),
				zap.String("tenant_id", res.TenantID()),
				zap.Bool("authenticated", res.Authenticated()))

			next.ServeHTTP(w, r.WithContext(WithResolution(ctx, res)))
		})
	}
}

// extractToken extracts the bearer token from the Authorization header or the auth_token cookie.
// Authorization header takes precedence when both are present.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
