package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
)

// RoleInput creates a custom role
type RoleInput struct {
	Name          string      `json:"name" validate:"required,min=2,max=64"`
	Description   string      `json:"description" validate:"max=255"`
	PermissionIDs []uuid.UUID `json:"permission_ids"`
}

// RoleUpdate changes a custom role. Nil fields are left untouched;
// a non-nil PermissionIDs replaces the permission set wholesale.
type RoleUpdate struct {
	Name          *string      `json:"name,omitempty" validate:"omitempty,min=2,max=64"`
	Description   *string      `json:"description,omitempty" validate:"omitempty,max=255"`
	PermissionIDs *[]uuid.UUID `json:"permission_ids,omitempty"`
}

// CloneInput names the copy produced by CloneRole
type CloneInput struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=255"`
}

// roleSnapshot is the audited view of a role
type roleSnapshot struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	PermissionIDs []string `json:"permission_ids,omitempty"`
}

// CreateRole creates a custom role with an optional permission set
func (e *Engine) CreateRole(ctx context.Context, actor models.Actor, in RoleInput) (*models.RoleDetail, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if err := e.ensureNameFree(ctx, in.Name, uuid.Nil); err != nil {
		return nil, err
	}
	permIDs, err := e.checkPermissionIDs(ctx, in.PermissionIDs)
	if err != nil {
		return nil, err
	}

	role := models.NewRole(in.Name, in.Description)
	err = e.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		if err := e.roles.Create(ctx, role); err != nil {
			return err
		}
		return e.roles.SetPermissions(ctx, role.ID, permIDs)
	})
	if err != nil {
		return nil, e.mutationError("create role", err)
	}

	e.logger.Info("role created",
		zap.String("role_id", role.ID.String()),
		zap.String("name", role.Name),
		zap.Int("permissions", len(permIDs)))
	e.record(ctx, roleEntry(models.AuditActionRoleCreated, models.SeverityMedium, actor, role).
		WithChanges(nil, snapshot(role, permIDs)).
		WithDescription(fmt.Sprintf("Created role %s", role.Name)))

	return e.detail(ctx, role)
}

// UpdateRole changes a custom role. System roles are refused before anything is persisted.
func (e *Engine) UpdateRole(ctx context.Context, actor models.Actor, id uuid.UUID, in RoleUpdate) (*models.RoleDetail, error) {
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	role, err := e.loadRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, services.ErrSystemRoleProtected.WithDetail("role", role.Name)
	}

	oldPerms, err := e.roles.GetPermissions(ctx, role.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to load role permissions", err)
	}
	before := snapshot(role, permissionIDs(oldPerms))

	if in.Name != nil && *in.Name != role.Name {
		if err := e.ensureNameFree(ctx, *in.Name, role.ID); err != nil {
			return nil, err
		}
		role.Name = *in.Name
	}
	if in.Description != nil {
		role.Description = *in.Description
	}

	newPermIDs := permissionIDs(oldPerms)
	if in.PermissionIDs != nil {
		if newPermIDs, err = e.checkPermissionIDs(ctx, *in.PermissionIDs); err != nil {
			return nil, err
		}
	}

	role.UpdatedAt = time.Now()
	err = e.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		if err := e.roles.Update(ctx, role); err != nil {
			return err
		}
		if in.PermissionIDs != nil {
			return e.roles.SetPermissions(ctx, role.ID, newPermIDs)
		}
		return nil
	})
	if err != nil {
		return nil, e.mutationError("update role", err)
	}

	if in.PermissionIDs != nil {
		e.permCache.Clear()
	}
	e.logger.Info("role updated", zap.String("role_id", role.ID.String()), zap.String("name", role.Name))
	e.record(ctx, roleEntry(models.AuditActionRoleUpdated, models.SeverityMedium, actor, role).
		WithChanges(before, snapshot(role, newPermIDs)).
		WithDescription(fmt.Sprintf("Updated role %s", role.Name)))

	return e.detail(ctx, role)
}

// DeleteRole removes a custom role that nobody holds
func (e *Engine) DeleteRole(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	role, err := e.loadRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return services.ErrSystemRoleProtected.WithDetail("role", role.Name)
	}

	perms, err := e.roles.GetPermissions(ctx, role.ID)
	if err != nil {
		return services.WrapInternal("failed to load role permissions", err)
	}

	// An assignment landing after the count still trips the foreign key,
	// which the repository reports as ErrInUse.
	err = e.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		count, err := e.roles.CountAssignments(ctx, role.ID)
		if err != nil {
			return services.WrapInternal("failed to count role assignments", err)
		}
		if count > 0 {
			return services.ErrRoleInUse.
				WithDetail("role", role.Name).
				WithDetail("assignment_count", count)
		}
		return e.roles.Delete(ctx, role.ID)
	})
	if errors.Is(err, repositories.ErrInUse) {
		return services.ErrRoleInUse.WithDetail("role", role.Name)
	}
	if err != nil {
		return e.mutationError("delete role", err)
	}

	e.logger.Info("role deleted", zap.String("role_id", role.ID.String()), zap.String("name", role.Name))
	e.record(ctx, roleEntry(models.AuditActionRoleDeleted, models.SeverityHigh, actor, role).
		WithChanges(snapshot(role, permissionIDs(perms)), nil).
		WithDescription(fmt.Sprintf("Deleted role %s", role.Name)))
	return nil
}

// CloneRole copies a role's permission set under a new name. The copy is never a system role.
func (e *Engine) CloneRole(ctx context.Context, actor models.Actor, sourceID uuid.UUID, in CloneInput) (*models.RoleDetail, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	source, err := e.loadRole(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := e.ensureNameFree(ctx, in.Name, uuid.Nil); err != nil {
		return nil, err
	}
	perms, err := e.roles.GetPermissions(ctx, source.ID)
	if err != nil {
		return nil, services.WrapInternal("failed to load role permissions", err)
	}

	description := in.Description
	if description == "" {
		description = source.Description
	}
	clone := models.NewRole(in.Name, description)
	permIDs := permissionIDs(perms)

	err = e.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		if err := e.roles.Create(ctx, clone); err != nil {
			return err
		}
		return e.roles.SetPermissions(ctx, clone.ID, permIDs)
	})
	if err != nil {
		return nil, e.mutationError("clone role", err)
	}

	e.logger.Info("role cloned",
		zap.String("source_role_id", source.ID.String()),
		zap.String("role_id", clone.ID.String()),
		zap.String("name", clone.Name))
	e.record(ctx, roleEntry(models.AuditActionRoleCloned, models.SeverityMedium, actor, clone).
		WithChanges(nil, snapshot(clone, permIDs)).
		WithMetadata(map[string]string{"source_role_id": source.ID.String(), "source_role": source.Name}).
		WithDescription(fmt.Sprintf("Cloned role %s as %s", source.Name, clone.Name)))

	return e.detail(ctx, clone)
}

// AssignRole grants a role to a user of the actor's tenant
func (e *Engine) AssignRole(ctx context.Context, actor models.Actor, userID, roleID uuid.UUID) (*models.UserRoleAssignment, error) {
	user, err := e.loadUser(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	role, err := e.loadRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	assignment := models.NewUserRoleAssignment(user.ID, role.ID, actor.ID)
	err = e.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		return e.assignments.Create(ctx, assignment)
	})
	if errors.Is(err, repositories.ErrDuplicate) {
		return nil, services.ErrAlreadyAssigned.
			WithDetail("user_id", user.ID.String()).
			WithDetail("role", role.Name)
	}
	if err != nil {
		return nil, e.mutationError("assign role", err)
	}

	e.permCache.Invalidate(user.ID)
	e.logger.Info("role assigned",
		zap.String("user_id", user.ID.String()),
		zap.String("role", role.Name))
	e.record(ctx, assignmentEntry(models.AuditActionRoleAssigned, actor, user, role).
		WithChanges(nil, map[string]string{"role": role.Name}).
		WithDescription(fmt.Sprintf("Assigned role %s to %s", role.Name, user.Email)))

	return assignment, nil
}

// UnassignRole revokes a role from a user of the actor's tenant
func (e *Engine) UnassignRole(ctx context.Context, actor models.Actor, userID, roleID uuid.UUID) error {
	user, err := e.loadUser(ctx, actor, userID)
	if err != nil {
		return err
	}
	role, err := e.loadRole(ctx, roleID)
	if err != nil {
		return err
	}

	err = e.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		return e.assignments.Delete(ctx, user.ID, role.ID)
	})
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrAssignmentNotFound.
			WithDetail("user_id", user.ID.String()).
			WithDetail("role", role.Name)
	}
	if err != nil {
		return e.mutationError("unassign role", err)
	}

	e.permCache.Invalidate(user.ID)
	e.logger.Info("role unassigned",
		zap.String("user_id", user.ID.String()),
		zap.String("role", role.Name))
	e.record(ctx, assignmentEntry(models.AuditActionRoleUnassigned, actor, user, role).
		WithChanges(map[string]string{"role": role.Name}, nil).
		WithDescription(fmt.Sprintf("Removed role %s from %s", role.Name, user.Email)))
	return nil
}

// Bulk assignment outcomes
const (
	BulkCreated = "created"
	BulkExists  = "exists"
	BulkError   = "error"
)

// AssignmentPair is one user/role pair in a bulk request
type AssignmentPair struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	RoleID uuid.UUID `json:"role_id" validate:"required"`
}

// BulkResult is the outcome for one pair
type BulkResult struct {
	UserID uuid.UUID `json:"user_id"`
	RoleID uuid.UUID `json:"role_id"`
	Status string    `json:"status"`
	Code   string    `json:"code,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// BulkAssign assigns each pair independently; one failure never aborts the rest
func (e *Engine) BulkAssign(ctx context.Context, actor models.Actor, pairs []AssignmentPair) []BulkResult {
	results := make([]BulkResult, 0, len(pairs))
	for _, p := range pairs {
		res := BulkResult{UserID: p.UserID, RoleID: p.RoleID, Status: BulkCreated}
		_, err := e.AssignRole(ctx, actor, p.UserID, p.RoleID)
		switch {
		case err == nil:
		case errors.Is(err, services.ErrAlreadyAssigned):
			res.Status = BulkExists
		default:
			res.Status = BulkError
			res.Code = string(services.GetErrorCode(err))
			res.Error = services.GetErrorMessage(err)
		}
		results = append(results, res)
	}
	return results
}

// ensureNameFree fails with ErrNameConflict when another role already has name
func (e *Engine) ensureNameFree(ctx context.Context, name string, self uuid.UUID) error {
	existing, err := e.roles.GetByName(ctx, name)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return nil
	case err != nil:
		return services.WrapInternal("failed to check role name", err)
	case existing.ID != self:
		return services.ErrNameConflict.WithDetail("name", name)
	}
	return nil
}

// checkPermissionIDs dedupes ids and fails if any is unknown
func (e *Engine) checkPermissionIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return unique, nil
	}

	found, err := e.permissions.GetByIDs(ctx, unique)
	if err != nil {
		return nil, services.WrapInternal("failed to load permissions", err)
	}
	if len(found) == len(unique) {
		return unique, nil
	}

	known := make(map[uuid.UUID]bool, len(found))
	for _, p := range found {
		known[p.ID] = true
	}
	missing := []string{}
	for _, id := range unique {
		if !known[id] {
			missing = append(missing, id.String())
		}
	}
	return nil, services.ErrPermissionNotFound.WithDetail("permission_ids", missing)
}

// mutationError maps a failed write. A unique violation that slipped past the
// pre-check means a concurrent writer took the name.
func (e *Engine) mutationError(op string, err error) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, repositories.ErrDuplicate) {
		return services.ErrNameConflict
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrRoleNotFound
	}
	e.logger.Error("rbac mutation failed", zap.String("op", op), zap.Error(err))
	return services.WrapInternal("failed to "+op, err)
}

func validateInput(in interface{}) error {
	if err := utils.ValidateStruct(in); err != nil {
		details := map[string]interface{}{}
		for field, msg := range utils.GetValidationFields(err) {
			details[field] = msg
		}
		e := services.ErrInvalidInput.WithMessage(err.Error())
		e.Details = details
		return e
	}
	return nil
}

func permissionIDs(perms []models.Permission) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids
}

func snapshot(role *models.Role, permIDs []uuid.UUID) roleSnapshot {
	s := roleSnapshot{Name: role.Name, Description: role.Description}
	for _, id := range permIDs {
		s.PermissionIDs = append(s.PermissionIDs, id.String())
	}
	return s
}

func roleEntry(action models.AuditAction, severity models.AuditSeverity, actor models.Actor, role *models.Role) *models.AuditLog {
	return models.NewAuditLog(action, models.EntityRole, severity, models.CategoryRBAC).
		WithActor(actor).
		WithEntity(role.ID.String(), role.Name)
}

func assignmentEntry(action models.AuditAction, actor models.Actor, user *models.User, role *models.Role) *models.AuditLog {
	return models.NewAuditLog(action, models.EntityAssignment, models.SeverityMedium, models.CategoryRBAC).
		WithActor(actor).
		WithTenant(user.TenantID).
		WithEntity(user.ID.String(), user.Email).
		WithMetadata(map[string]string{"role_id": role.ID.String(), "role": role.Name})
}
