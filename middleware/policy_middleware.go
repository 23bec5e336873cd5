package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/ratelimit"
	"github.com/upb/tenantguard/utils"
)

// Rate limit response headers
const (
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
	RetryAfterHeader         = "Retry-After"
)

// Authorizer answers role and permission checks for a user
type Authorizer interface {
	Authorize(ctx context.Context, userID uuid.UUID, roleNames ...string) (bool, error)
	CheckPermission(ctx context.Context, userID uuid.UUID, resource, action string) (bool, error)
}

// RateLimiter admits or rejects a request for (ip, tenant)
type RateLimiter interface {
	Allow(ctx context.Context, ip, tenantID string) ratelimit.Decision
}

// PolicyEnforcementMiddleware enforces access control and the request budget.
// Access checks must run after tenant resolution.
type PolicyEnforcementMiddleware struct {
	authorizer Authorizer
	limiter    RateLimiter
	logger     *zap.Logger
}

// NewPolicyEnforcementMiddleware creates a new PolicyEnforcementMiddleware
func NewPolicyEnforcementMiddleware(authorizer Authorizer, limiter RateLimiter, logger *zap.Logger) *PolicyEnforcementMiddleware {
	return &PolicyEnforcementMiddleware{
		authorizer: authorizer,
		limiter:    limiter,
		logger:     logger,
	}
}

// RequireRole admits callers holding at least one of roles
func (m *PolicyEnforcementMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return m.guard("role", func(ctx context.Context, userID uuid.UUID) (bool, error) {
		return m.authorizer.Authorize(ctx, userID, roles...)
	}, func(err *services.DomainError) *services.DomainError {
		return err.WithDetail("required_roles", roles)
	})
}

// RequirePermission admits callers whose roles grant action on resource
func (m *PolicyEnforcementMiddleware) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return m.guard("permission", func(ctx context.Context, userID uuid.UUID) (bool, error) {
		return m.authorizer.CheckPermission(ctx, userID, resource, action)
	}, func(err *services.DomainError) *services.DomainError {
		return err.WithDetail("required_permission", models.PermissionName(resource, action))
	})
}

func (m *PolicyEnforcementMiddleware) guard(
	kind string,
	check func(ctx context.Context, userID uuid.UUID) (bool, error),
	describe func(*services.DomainError) *services.DomainError,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			userID, ok := GetUserIDFromContext(ctx)
			if !ok {
				m.logger.Error("access check without authenticated user",
					zap.String("request_id", requestID),
					zap.String("check", kind))
				m.writeError(w, services.ErrMissingToken)
				return
			}

			allowed, err := check(ctx, userID)
			if err != nil {
				m.logger.Error("access check failed",
					zap.String("request_id", requestID),
					zap.String("check", kind),
					zap.Error(err))
				m.writeError(w, err)
				return
			}
			if !allowed {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("check", kind),
					zap.String("user_id", userID.String()))
				m.writeError(w, describe(services.ErrPermissionDenied))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit charges the request against the (client IP, tenant) budget. Tenant
// resolution, when it ran earlier in the chain, selects the bucket; otherwise
// the request is counted as anonymous.
func (m *PolicyEnforcementMiddleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID := models.AnonymousTenant
		if res := GetResolutionFromContext(ctx); res != nil && res.TenantID() != "" {
			tenantID = res.TenantID()
		}

		d := m.limiter.Allow(ctx, utils.ClientIP(r), tenantID)

		h := w.Header()
		h.Set(RateLimitLimitHeader, strconv.Itoa(d.Limit))
		h.Set(RateLimitRemainingHeader, strconv.Itoa(d.Remaining))
		h.Set(RateLimitResetHeader, strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			h.Set(RetryAfterHeader, strconv.Itoa(d.RetryAfter))
			m.logger.Warn("request blocked by rate limit",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("tenant_id", tenantID),
				zap.Int("retry_after", d.RetryAfter))
			if err := utils.WriteTooManyRequests(w, "Too many requests, please retry later", d.Limit, d.WindowMs(), d.RetryAfter); err != nil {
				m.logger.Error("failed to write rate limit response", zap.Error(err))
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *PolicyEnforcementMiddleware) writeError(w http.ResponseWriter, err error) {
	if _, werr := utils.WriteServiceError(w, err); werr != nil {
		m.logger.Error("failed to write error response", zap.Error(werr))
	}
}
