package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wildcard matches any resource or action in a permission check
const Wildcard = "*"

// Permission is a fine-grained capability, e.g. resource=order action=delete
type Permission struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"` // unique, conventionally resource:action
	Category    string    `json:"category" db:"category"`
	Resource    string    `json:"resource" db:"resource"`
	Action      string    `json:"action" db:"action"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Permission model
func (Permission) TableName() string {
	return "permissions"
}

// NewPermission creates a permission named resource:action
func NewPermission(category, resource, action, description string) *Permission {
	return &Permission{
		ID:          uuid.New(),
		Name:        PermissionName(resource, action),
		Category:    category,
		Resource:    resource,
		Action:      action,
		Description: description,
		CreatedAt:   time.Now(),
	}
}

// PermissionName builds the canonical resource:action name
func PermissionName(resource, action string) string {
	return fmt.Sprintf("%s:%s", resource, action)
}

// Allows reports whether this permission grants action on resource
func (p Permission) Allows(resource, action string) bool {
	return (p.Resource == Wildcard || p.Resource == resource) &&
		(p.Action == Wildcard || p.Action == action)
}
