package models

import (
	"time"

	"github.com/google/uuid"
)

// Built-in system role names seeded at provisioning time
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleStaff      = "staff"
	RoleViewer     = "viewer"
)

// Role is a named bundle of permissions. System roles are immutable.
type Role struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"` // globally unique
	Description string    `json:"description" db:"description"`
	IsSystem    bool      `json:"is_system" db:"is_system"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Role model
func (Role) TableName() string {
	return "roles"
}

// NewRole creates a new custom (non-system) role
func NewRole(name, description string) *Role {
	now := time.Now()
	return &Role{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RoleDetail is a role with its permission set and assignment count
type RoleDetail struct {
	Role
	Permissions     []Permission `json:"permissions"`
	AssignmentCount int          `json:"assignment_count"`
}

// RolePermission joins a role to one permission
type RolePermission struct {
	RoleID       uuid.UUID `json:"role_id" db:"role_id"`
	PermissionID uuid.UUID `json:"permission_id" db:"permission_id"`
}

// TableName returns the table name for the RolePermission model
func (RolePermission) TableName() string {
	return "role_permissions"
}

// UserRoleAssignment grants a role to a user
type UserRoleAssignment struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	RoleID     uuid.UUID  `json:"role_id" db:"role_id"`
	AssignedBy *uuid.UUID `json:"assigned_by,omitempty" db:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at" db:"assigned_at"`
}

// TableName returns the table name for the UserRoleAssignment model
func (UserRoleAssignment) TableName() string {
	return "user_role_assignments"
}

// NewUserRoleAssignment creates an assignment stamped with the assigning actor
func NewUserRoleAssignment(userID, roleID uuid.UUID, assignedBy *uuid.UUID) *UserRoleAssignment {
	return &UserRoleAssignment{
		ID:         uuid.New(),
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: time.Now(),
	}
}

// UserRole is an assignment joined with its role, as listed for a user
type UserRole struct {
	Role
	AssignedBy *uuid.UUID `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
}
