package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
)

const roleColumns = `id, name, description, is_system, created_at, updated_at`

// RoleRepository implements the repositories.RoleRepository interface
type RoleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB, logger *zap.Logger) repositories.RoleRepository {
	return &RoleRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	query := `
		INSERT INTO roles (id, name, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		role.IsSystem,
		role.CreatedAt,
		role.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("create role", err)
	}

	r.logger.Debug("role created", zap.String("id", role.ID.String()), zap.String("name", role.Name))
	return nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	role, err := scanRole(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrapReadError("role", id, err)
	}
	return role, nil
}

// GetByName retrieves a role by name
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`

	executor := GetExecutor(ctx, r.db)
	role, err := scanRole(executor.QueryRowContext(ctx, query, name))
	if err != nil {
		return nil, wrapReadError("role", name, err)
	}
	return role, nil
}

// List retrieves all roles, system roles first
func (r *RoleRepository) List(ctx context.Context) ([]*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY is_system DESC, name`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []*models.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role rows: %w", err)
	}
	return roles, nil
}

// Update updates a role's name and description
func (r *RoleRepository) Update(ctx context.Context, role *models.Role) error {
	query := `
		UPDATE roles
		SET name = $2,
		    description = $3,
		    updated_at = $4
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		role.UpdatedAt,
	)
	if err != nil {
		return wrapWriteError("update role", err)
	}

	if err := expectAffected(result, "role", role.ID); err != nil {
		return err
	}

	r.logger.Debug("role updated", zap.String("id", role.ID.String()))
	return nil
}

// Delete deletes a role. Permission links cascade.
func (r *RoleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM roles WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return wrapDeleteError("role", err)
	}

	if err := expectAffected(result, "role", id); err != nil {
		return err
	}

	r.logger.Debug("role deleted", zap.String("id", id.String()))
	return nil
}

// GetPermissions retrieves the permissions linked to a role
func (r *RoleRepository) GetPermissions(ctx context.Context, roleID uuid.UUID) ([]models.Permission, error) {
	query := `
		SELECT p.id, p.name, p.category, p.resource, p.action, p.description, p.created_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.category, p.name
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	return collectPermissions(rows)
}

// SetPermissions replaces a role's permission set. Run inside a transaction.
func (r *RoleRepository) SetPermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	executor := GetExecutor(ctx, r.db)

	if _, err := executor.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING
	`
	if _, err := executor.ExecContext(ctx, query, roleID, pq.Array(uuidStrings(permissionIDs))); err != nil {
		return fmt.Errorf("failed to set role permissions: %w", err)
	}

	r.logger.Debug("role permissions replaced",
		zap.String("role_id", roleID.String()),
		zap.Int("count", len(permissionIDs)))
	return nil
}

// CountAssignments returns how many users hold the role
func (r *RoleRepository) CountAssignments(ctx context.Context, roleID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM user_role_assignments WHERE role_id = $1`

	var count int
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query, roleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count role assignments: %w", err)
	}
	return count, nil
}

func scanRole(row rowScanner) (*models.Role, error) {
	role := &models.Role{}
	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.IsSystem,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return role, nil
}
