// Package rbac resolves effective permissions, answers authorization checks
// and manages roles, permissions and user role assignments.
package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/internal/cache"
	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
)

const (
	defaultPermissionCacheTTL  = 30 * time.Second
	defaultPermissionCacheSize = 4096
	permissionCacheName        = "permissions"
)

// AuditSink receives audit entries for every mutation
type AuditSink interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// Engine is the RBAC service
type Engine struct {
	roles       repositories.RoleRepository
	permissions repositories.PermissionRepository
	assignments repositories.AssignmentRepository
	users       repositories.UserRepository
	txm         repositories.TransactionManager
	audit       AuditSink
	permCache   *cache.LRU[uuid.UUID, []models.Permission]
	cacheTTL    time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithPermissionCacheTTL sets how long resolved permissions are cached per user.
// A zero or negative ttl disables caching.
func WithPermissionCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = ttl
	}
}

// WithMetrics records cache hits and misses
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an RBAC engine. audit may be nil.
func NewEngine(repos *repositories.Repositories, txm repositories.TransactionManager, audit AuditSink, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		roles:       repos.Roles,
		permissions: repos.Permissions,
		assignments: repos.Assignments,
		users:       repos.Users,
		txm:         txm,
		audit:       audit,
		cacheTTL:    defaultPermissionCacheTTL,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	size := defaultPermissionCacheSize
	if e.cacheTTL <= 0 {
		size = 1
	}
	e.permCache = cache.New[uuid.UUID, []models.Permission](size, e.cacheTTL)
	return e
}

// ResolvePermissions returns the deduplicated union of permissions across a user's roles
func (e *Engine) ResolvePermissions(ctx context.Context, userID uuid.UUID) ([]models.Permission, error) {
	if e.cacheTTL > 0 {
		if perms, ok := e.permCache.Get(userID); ok {
			e.metrics.CacheLookup(permissionCacheName, true)
			return perms, nil
		}
		e.metrics.CacheLookup(permissionCacheName, false)
	}

	perms, err := e.assignments.PermissionsForUser(ctx, userID)
	if err != nil {
		e.logger.Error("failed to resolve permissions",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, services.WrapInternal("failed to resolve permissions", err)
	}

	if e.cacheTTL > 0 {
		e.permCache.Set(userID, perms)
	}
	return perms, nil
}

// Authorize reports whether the user holds any of the named roles
func (e *Engine) Authorize(ctx context.Context, userID uuid.UUID, roleNames ...string) (bool, error) {
	if len(roleNames) == 0 {
		return false, nil
	}
	roles, err := e.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}

	wanted := make(map[string]bool, len(roleNames))
	for _, name := range roleNames {
		wanted[name] = true
	}
	for _, r := range roles {
		if wanted[r.Name] {
			return true, nil
		}
	}
	return false, nil
}

// CheckPermission reports whether any of the user's permissions grants action on resource.
// Permissions whose resource or action is "*" match anything in that position.
func (e *Engine) CheckPermission(ctx context.Context, userID uuid.UUID, resource, action string) (bool, error) {
	perms, err := e.ResolvePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return Grants(perms, resource, action), nil
}

// Grants reports whether perms allow action on resource
func Grants(perms []models.Permission, resource, action string) bool {
	for _, p := range perms {
		if p.Allows(resource, action) {
			return true
		}
	}
	return false
}

// UserRoles lists a user's roles, earliest assignment first
func (e *Engine) UserRoles(ctx context.Context, userID uuid.UUID) ([]models.UserRole, error) {
	roles, err := e.assignments.ListByUser(ctx, userID)
	if err != nil {
		return nil, services.WrapInternal("failed to list user roles", err)
	}
	return roles, nil
}

// PrimaryRole is the name of the user's earliest assigned role, or "" when none
func (e *Engine) PrimaryRole(ctx context.Context, userID uuid.UUID) (string, error) {
	roles, err := e.UserRoles(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(roles) == 0 {
		return "", nil
	}
	return roles[0].Name, nil
}

// ListRoles returns every role, system roles first
func (e *Engine) ListRoles(ctx context.Context) ([]*models.Role, error) {
	roles, err := e.roles.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list roles", err)
	}
	return roles, nil
}

// GetRole returns a role with its permissions and assignment count
func (e *Engine) GetRole(ctx context.Context, id uuid.UUID) (*models.RoleDetail, error) {
	role, err := e.loadRole(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.detail(ctx, role)
}

// ListPermissions returns the catalog, optionally narrowed to one category
func (e *Engine) ListPermissions(ctx context.Context, category string) ([]models.Permission, error) {
	perms, err := e.permissions.List(ctx, category)
	if err != nil {
		return nil, services.WrapInternal("failed to list permissions", err)
	}
	return perms, nil
}

// UserPermissions lists the effective permissions of a user in the actor's tenant
func (e *Engine) UserPermissions(ctx context.Context, actor models.Actor, userID uuid.UUID) ([]models.Permission, error) {
	if _, err := e.loadUser(ctx, actor, userID); err != nil {
		return nil, err
	}
	return e.ResolvePermissions(ctx, userID)
}

// RolesOf lists a user's roles in the actor's tenant
func (e *Engine) RolesOf(ctx context.Context, actor models.Actor, userID uuid.UUID) ([]models.UserRole, error) {
	if _, err := e.loadUser(ctx, actor, userID); err != nil {
		return nil, err
	}
	return e.UserRoles(ctx, userID)
}

func (e *Engine) detail(ctx context.Context, role *models.Role) (*models.RoleDetail, error) {
	perms, err := e.roles.GetPermissions(ctx, role.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to load role permissions", err)
	}
	count, err := e.roles.CountAssignments(ctx, role.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to count role assignments", err)
	}
	return &models.RoleDetail{Role: *role, Permissions: perms, AssignmentCount: count}, nil
}

func (e *Engine) loadRole(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	role, err := e.roles.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrRoleNotFound.WithDetail("role_id", id.String())
	}
	if err != nil {
		return nil, services.WrapInternal("failed to load role", err)
	}
	return role, nil
}

// loadUser fetches a user and hides users of other tenants behind not found
func (e *Engine) loadUser(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.User, error) {
	user, err := e.users.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrUserNotFound.WithDetail("user_id", id.String())
	}
	if err != nil {
		return nil, services.WrapInternal("failed to load user", err)
	}
	if actor.TenantID != nil && !user.BelongsTo(*actor.TenantID) {
		e.logger.Warn("cross-tenant user access refused",
			zap.String("user_id", id.String()),
			zap.String("actor_tenant_id", actor.TenantID.String()))
		return nil, services.ErrUserNotFound.WithDetail("user_id", id.String())
	}
	return user, nil
}

// record hands an entry to the audit sink. Failures never fail the caller.
func (e *Engine) record(ctx context.Context, entry *models.AuditLog) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		e.logger.Warn("failed to record audit entry",
			zap.String("action", string(entry.Action)),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err))
	}
}
