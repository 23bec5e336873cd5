package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
)

// AssignmentRepository implements the repositories.AssignmentRepository interface
type AssignmentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *DB, logger *zap.Logger) repositories.AssignmentRepository {
	return &AssignmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates an assignment
func (r *AssignmentRepository) Create(ctx context.Context, a *models.UserRoleAssignment) error {
	query := `
		INSERT INTO user_role_assignments (id, user_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		a.ID,
		a.UserID,
		a.RoleID,
		a.AssignedBy,
		a.AssignedAt,
	)
	if err != nil {
		return wrapWriteError("create assignment", err)
	}

	r.logger.Debug("role assigned",
		zap.String("user_id", a.UserID.String()),
		zap.String("role_id", a.RoleID.String()))
	return nil
}

// Get retrieves the assignment of role to user
func (r *AssignmentRepository) Get(ctx context.Context, userID, roleID uuid.UUID) (*models.UserRoleAssignment, error) {
	query := `
		SELECT id, user_id, role_id, assigned_by, assigned_at
		FROM user_role_assignments
		WHERE user_id = $1 AND role_id = $2
	`

	var (
		a          models.UserRoleAssignment
		assignedBy uuid.NullUUID
	)
	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query, userID, roleID).Scan(
		&a.ID,
		&a.UserID,
		&a.RoleID,
		&assignedBy,
		&a.AssignedAt,
	)
	if err != nil {
		return nil, wrapReadError("assignment", fmt.Sprintf("%s/%s", userID, roleID), err)
	}
	if assignedBy.Valid {
		a.AssignedBy = &assignedBy.UUID
	}
	return &a, nil
}

// Delete removes the assignment of role to user
func (r *AssignmentRepository) Delete(ctx context.Context, userID, roleID uuid.UUID) error {
	query := `DELETE FROM user_role_assignments WHERE user_id = $1 AND role_id = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	if err := expectAffected(result, "assignment", fmt.Sprintf("%s/%s", userID, roleID)); err != nil {
		return err
	}

	r.logger.Debug("role unassigned",
		zap.String("user_id", userID.String()),
		zap.String("role_id", roleID.String()))
	return nil
}

// ListByUser retrieves a user's roles, oldest assignment first
func (r *AssignmentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.UserRole, error) {
	query := `
		SELECT r.id, r.name, r.description, r.is_system, r.created_at, r.updated_at,
		       a.assigned_by, a.assigned_at
		FROM user_role_assignments a
		JOIN roles r ON r.id = a.role_id
		WHERE a.user_id = $1
		ORDER BY a.assigned_at ASC, r.name
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	roles := []models.UserRole{}
	for rows.Next() {
		var (
			ur         models.UserRole
			assignedBy uuid.NullUUID
		)
		err := rows.Scan(
			&ur.ID,
			&ur.Name,
			&ur.Description,
			&ur.IsSystem,
			&ur.CreatedAt,
			&ur.UpdatedAt,
			&assignedBy,
			&ur.AssignedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		if assignedBy.Valid {
			ur.AssignedBy = &assignedBy.UUID
		}
		roles = append(roles, ur)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user role rows: %w", err)
	}
	return roles, nil
}

// PermissionsForUser retrieves the distinct union of permissions across a user's roles
func (r *AssignmentRepository) PermissionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Permission, error) {
	query := `
		SELECT DISTINCT p.id, p.name, p.category, p.resource, p.action, p.description, p.created_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_role_assignments a ON a.role_id = rp.role_id
		WHERE a.user_id = $1
		ORDER BY p.name
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user permissions: %w", err)
	}
	return collectPermissions(rows)
}
