package ratelimit

import (
	"context"

	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
)

// LimitProvider returns the per-window budget for a tenant
type LimitProvider interface {
	LimitFor(ctx context.Context, tenantID string) int
}

// StaticLimit applies the same budget to every tenant
type StaticLimit int

// LimitFor implements LimitProvider
func (l StaticLimit) LimitFor(context.Context, string) int {
	return int(l)
}

// TenantSource loads tenants for settings lookups
type TenantSource interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
}

// TenantLimits resolves a budget from configured overrides (by tenant id or slug),
// then the tenant's own settings, then the default.
type TenantLimits struct {
	defaultLimit int
	overrides    map[string]int
	tenants      TenantSource
	logger       *zap.Logger
}

// NewTenantLimits creates a TenantLimits. tenants may be nil.
func NewTenantLimits(defaultLimit int, overrides map[string]int, tenants TenantSource, logger *zap.Logger) *TenantLimits {
	if logger == nil {
		logger = zap.NewNop()
	}
	if overrides == nil {
		overrides = map[string]int{}
	}
	return &TenantLimits{
		defaultLimit: defaultLimit,
		overrides:    overrides,
		tenants:      tenants,
		logger:       logger,
	}
}

// LimitFor implements LimitProvider
func (l *TenantLimits) LimitFor(ctx context.Context, tenantID string) int {
	if limit, ok := l.overrides[tenantID]; ok {
		return limit
	}
	if l.tenants == nil || tenantID == "" || tenantID == models.AnonymousTenant {
		return l.defaultLimit
	}

	t, err := l.tenants.FindByID(ctx, tenantID)
	if err != nil || t == nil {
		l.logger.Debug("falling back to default rate limit",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return l.defaultLimit
	}
	if limit, ok := l.overrides[t.Slug]; ok {
		return limit
	}
	if limit, ok := t.RateLimit(); ok {
		return limit
	}
	return l.defaultLimit
}
