package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
)

const permissionColumns = `id, name, category, resource, action, description, created_at`

// PermissionRepository implements the repositories.PermissionRepository interface
type PermissionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPermissionRepository creates a new permission repository
func NewPermissionRepository(db *DB, logger *zap.Logger) repositories.PermissionRepository {
	return &PermissionRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts a permission or returns the stored row with the same name.
// Category and description are refreshed from the input.
func (r *PermissionRepository) Upsert(ctx context.Context, p *models.Permission) (*models.Permission, error) {
	query := `
		INSERT INTO permissions (id, name, category, resource, action, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE
		SET category = EXCLUDED.category,
		    description = EXCLUDED.description
		RETURNING ` + permissionColumns

	executor := GetExecutor(ctx, r.db)
	stored, err := scanPermission(executor.QueryRowContext(ctx, query,
		p.ID,
		p.Name,
		p.Category,
		p.Resource,
		p.Action,
		p.Description,
		p.CreatedAt,
	))
	if err != nil {
		return nil, wrapWriteError("upsert permission", err)
	}
	return stored, nil
}

// GetByIDs retrieves the permissions with the given IDs
func (r *PermissionRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Permission, error) {
	if len(ids) == 0 {
		return []models.Permission{}, nil
	}
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = ANY($1::uuid[]) ORDER BY name`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to get permissions: %w", err)
	}
	return collectPermissions(rows)
}

// List retrieves the catalog, optionally filtered by category
func (r *PermissionRepository) List(ctx context.Context, category string) ([]models.Permission, error) {
	executor := GetExecutor(ctx, r.db)

	var (
		rows *sql.Rows
		err  error
	)
	if category == "" {
		rows, err = executor.QueryContext(ctx,
			`SELECT `+permissionColumns+` FROM permissions ORDER BY category, name`)
	} else {
		rows, err = executor.QueryContext(ctx,
			`SELECT `+permissionColumns+` FROM permissions WHERE category = $1 ORDER BY name`, category)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	return collectPermissions(rows)
}

func scanPermission(row rowScanner) (*models.Permission, error) {
	p := &models.Permission{}
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Category,
		&p.Resource,
		&p.Action,
		&p.Description,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// collectPermissions drains and closes rows
func collectPermissions(rows *sql.Rows) ([]models.Permission, error) {
	defer rows.Close()

	permissions := []models.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permission rows: %w", err)
	}
	return permissions, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
