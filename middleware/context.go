package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services/tenant"
	"github.com/upb/tenantguard/services/token"
	"github.com/upb/tenantguard/utils"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ResolutionKey is the context key for the resolved identity and tenant
	ResolutionKey contextKey = "tenant_resolution"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithResolution stores the resolver outcome in the context
func WithResolution(ctx context.Context, res *tenant.Resolution) context.Context {
	return context.WithValue(ctx, ResolutionKey, res)
}

// GetResolutionFromContext retrieves the resolver outcome, or nil before the tenant middleware ran
func GetResolutionFromContext(ctx context.Context) *tenant.Resolution {
	if val := ctx.Value(ResolutionKey); val != nil {
		if res, ok := val.(*tenant.Resolution); ok {
			return res
		}
	}
	return nil
}

// GetClaimsFromContext retrieves verified access token claims, or nil for anonymous requests
func GetClaimsFromContext(ctx context.Context) *token.Claims {
	if res := GetResolutionFromContext(ctx); res != nil {
		return res.Claims
	}
	return nil
}

// GetTenantFromContext retrieves the resolved tenant, or nil when none was resolved
func GetTenantFromContext(ctx context.Context) *models.Tenant {
	if res := GetResolutionFromContext(ctx); res != nil {
		return res.Tenant
	}
	return nil
}

// GetUserIDFromContext retrieves the authenticated user ID
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	claims := GetClaimsFromContext(ctx)
	if claims == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ActorFromRequest builds the audit actor for the current caller
func ActorFromRequest(r *http.Request) models.Actor {
	ctx := r.Context()
	actor := models.Actor{
		Name:      "anonymous",
		IPAddress: utils.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: GetRequestIDFromContext(ctx),
	}
	if t := GetTenantFromContext(ctx); t != nil {
		id := t.ID
		actor.TenantID = &id
	}
	if claims := GetClaimsFromContext(ctx); claims != nil {
		if id, err := uuid.Parse(claims.UserID); err == nil {
			actor.ID = &id
		}
		actor.Name = claims.Email
		actor.Email = claims.Email
		actor.Role = claims.Role
	}
	return actor
}
