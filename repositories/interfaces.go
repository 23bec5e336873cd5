package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/upb/tenantguard/models"
)

// Sentinel errors returned by every repository implementation
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	ErrInUse     = errors.New("record still referenced")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// TenantRepository handles tenant data operations
type TenantRepository interface {
	// Create creates a new tenant
	Create(ctx context.Context, tenant *models.Tenant) error

	// GetByID retrieves a tenant by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	// GetBySlug retrieves a tenant by slug
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)

	// List retrieves tenants with pagination
	List(ctx context.Context, limit, offset int) ([]*models.Tenant, error)

	// Update updates a tenant. Tenants are deactivated, never deleted.
	Update(ctx context.Context, tenant *models.Tenant) error
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a user by email within a tenant
	GetByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.User, error)

	// ListByTenant retrieves users of a tenant with pagination
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.User, error)

	// Update updates a user
	Update(ctx context.Context, user *models.User) error
}

// RoleRepository handles role data operations
type RoleRepository interface {
	// Create creates a new role
	Create(ctx context.Context, role *models.Role) error

	// GetByID retrieves a role by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error)

	// GetByName retrieves a role by its unique name
	GetByName(ctx context.Context, name string) (*models.Role, error)

	// List retrieves all roles ordered by name
	List(ctx context.Context) ([]*models.Role, error)

	// Update updates a role's name and description
	Update(ctx context.Context, role *models.Role) error

	// Delete deletes a role and its permission links
	Delete(ctx context.Context, id uuid.UUID) error

	// GetPermissions retrieves the permissions linked to a role
	GetPermissions(ctx context.Context, roleID uuid.UUID) ([]models.Permission, error)

	// SetPermissions replaces a role's permission set wholesale
	SetPermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error

	// CountAssignments returns how many users hold the role
	CountAssignments(ctx context.Context, roleID uuid.UUID) (int, error)
}

// PermissionRepository handles permission catalog operations
type PermissionRepository interface {
	// Upsert inserts a permission or returns the existing one with the same name
	Upsert(ctx context.Context, permission *models.Permission) (*models.Permission, error)

	// GetByIDs retrieves the permissions with the given IDs; unknown IDs are skipped
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Permission, error)

	// List retrieves the catalog, optionally filtered by category
	List(ctx context.Context, category string) ([]models.Permission, error)
}

// AssignmentRepository handles user role assignment operations
type AssignmentRepository interface {
	// Create creates an assignment; returns ErrDuplicate if the pair exists
	Create(ctx context.Context, assignment *models.UserRoleAssignment) error

	// Get retrieves the assignment of role to user
	Get(ctx context.Context, userID, roleID uuid.UUID) (*models.UserRoleAssignment, error)

	// Delete removes the assignment of role to user
	Delete(ctx context.Context, userID, roleID uuid.UUID) error

	// ListByUser retrieves a user's roles in assignment order
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.UserRole, error)

	// PermissionsForUser retrieves the distinct union of permissions across a user's roles
	PermissionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Permission, error)
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByID retrieves an audit log by ID, scoped to a tenant when tenantID is set
	GetByID(ctx context.Context, id uuid.UUID, tenantID *uuid.UUID) (*models.AuditLog, error)

	// Query retrieves one page of matching entries (newest first) and the total match count
	Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLog, int, error)

	// CountBy groups entries since a point in time by column (category, severity or entity_type)
	CountBy(ctx context.Context, column string, tenantID *uuid.UUID, since time.Time) (map[string]int, error)

	// Recent retrieves the latest entries
	Recent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]*models.AuditLog, error)

	// DeleteBefore hard-deletes entries older than cutoff and returns how many were removed
	DeleteBefore(ctx context.Context, cutoff time.Time, tenantID *uuid.UUID) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Tenants     TenantRepository
	Users       UserRepository
	Roles       RoleRepository
	Permissions PermissionRepository
	Assignments AssignmentRepository
	AuditLogs   AuditRepository
}
