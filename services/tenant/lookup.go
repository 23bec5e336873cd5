package tenant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/internal/cache"
	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
)

// Lookup finds tenants by id or slug.
// Implementations return services.ErrTenantNotFound when nothing matches.
type Lookup interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
}

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 30 * time.Second
	cacheName        = "tenant"
)

// StoreLookup is a Lookup over the tenant repository with a short-lived cache
// keyed by both id and slug.
type StoreLookup struct {
	repo    repositories.TenantRepository
	cache   *cache.LRU[string, *models.Tenant]
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewStoreLookup creates a StoreLookup. A zero ttl selects the default.
func NewStoreLookup(repo repositories.TenantRepository, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics) *StoreLookup {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreLookup{
		repo:    repo,
		cache:   cache.New[string, *models.Tenant](defaultCacheSize, ttl),
		logger:  logger,
		metrics: metrics,
	}
}

// FindByID implements Lookup. Malformed ids are reported as not found.
func (l *StoreLookup) FindByID(ctx context.Context, id string) (*models.Tenant, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, services.ErrTenantNotFound.WithDetail("tenant_id", id)
	}

	key := idKey(parsed.String())
	if t, ok := l.cache.Get(key); ok {
		l.metrics.CacheLookup(cacheName, true)
		return t, nil
	}
	l.metrics.CacheLookup(cacheName, false)

	t, err := l.repo.GetByID(ctx, parsed)
	if err != nil {
		return nil, l.mapError(err, "tenant_id", id)
	}
	l.store(t)
	return t, nil
}

// FindBySlug implements Lookup
func (l *StoreLookup) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, services.ErrTenantNotFound.WithDetail("tenant_slug", slug)
	}

	key := slugKey(slug)
	if t, ok := l.cache.Get(key); ok {
		l.metrics.CacheLookup(cacheName, true)
		return t, nil
	}
	l.metrics.CacheLookup(cacheName, false)

	t, err := l.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, l.mapError(err, "tenant_slug", slug)
	}
	l.store(t)
	return t, nil
}

// Invalidate drops a tenant from the cache after it was changed
func (l *StoreLookup) Invalidate(t *models.Tenant) {
	if t == nil {
		return
	}
	l.cache.Invalidate(idKey(t.ID.String()))
	l.cache.Invalidate(slugKey(t.Slug))
}

func (l *StoreLookup) store(t *models.Tenant) {
	l.cache.Set(idKey(t.ID.String()), t)
	l.cache.Set(slugKey(t.Slug), t)
}

func (l *StoreLookup) mapError(err error, field, value string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrTenantNotFound.WithDetail(field, value)
	}
	l.logger.Error("tenant lookup failed", zap.String(field, value), zap.Error(err))
	return services.WrapInternal("failed to load tenant", err)
}

func idKey(id string) string     { return "id:" + id }
func slugKey(slug string) string { return "slug:" + slug }
