package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditSeverity ranks the impact of an audited action
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditCategory groups audited actions by subsystem
type AuditCategory string

const (
	CategoryAuthentication AuditCategory = "authentication"
	CategoryAuthorization  AuditCategory = "authorization"
	CategoryRBAC           AuditCategory = "rbac"
	CategoryTenant         AuditCategory = "tenant"
	CategorySystem         AuditCategory = "system"
	CategoryData           AuditCategory = "data"
)

// AuditAction is the verb recorded for an entry
type AuditAction string

const (
	AuditActionLogin          AuditAction = "auth.login"
	AuditActionLoginFailed    AuditAction = "auth.login_failed"
	AuditActionLogout         AuditAction = "auth.logout"
	AuditActionTokenRefreshed AuditAction = "auth.token_refreshed"
	AuditActionRoleCreated    AuditAction = "role.created"
	AuditActionRoleUpdated    AuditAction = "role.updated"
	AuditActionRoleDeleted    AuditAction = "role.deleted"
	AuditActionRoleCloned     AuditAction = "role.cloned"
	AuditActionRoleAssigned   AuditAction = "role.assigned"
	AuditActionRoleUnassigned AuditAction = "role.unassigned"
	AuditActionTenantCreated  AuditAction = "tenant.created"
	AuditActionUserCreated    AuditAction = "user.created"
	AuditActionCatalogSeeded  AuditAction = "rbac.catalog_seeded"
	AuditActionLogsArchived   AuditAction = "audit.archived"
	AuditActionLogsExported   AuditAction = "audit.exported"
)

// Audit entity types
const (
	EntityRole       = "role"
	EntityAssignment = "user_role_assignment"
	EntityUser       = "user"
	EntityTenant     = "tenant"
	EntityAuditLog   = "audit_log"
	EntityCatalog    = "rbac_catalog"
)

// ValidSeverities and ValidCategories back query validation
var (
	ValidSeverities = []string{string(SeverityLow), string(SeverityMedium), string(SeverityHigh), string(SeverityCritical)}
	ValidCategories = []string{
		string(CategoryAuthentication), string(CategoryAuthorization), string(CategoryRBAC),
		string(CategoryTenant), string(CategorySystem), string(CategoryData),
	}
)

// Actor identifies who performed an audited action
type Actor struct {
	ID       *uuid.UUID `json:"id,omitempty"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Role     string     `json:"role"`

	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
	RequestID string `json:"-"`
}

// SystemActor is used for CLI and background operations
func SystemActor() Actor {
	return Actor{Name: "system", Role: "system"}
}

// AuditLog is an immutable audit trail entry
type AuditLog struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	TenantID    *uuid.UUID      `json:"tenant_id,omitempty" db:"tenant_id"`
	ActorID     *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	ActorName   string          `json:"actor_name" db:"actor_name"`
	ActorEmail  string          `json:"actor_email" db:"actor_email"`
	ActorRole   string          `json:"actor_role" db:"actor_role"`
	Action      AuditAction     `json:"action" db:"action"`
	EntityType  string          `json:"entity_type" db:"entity_type"`
	EntityID    string          `json:"entity_id,omitempty" db:"entity_id"`
	EntityName  string          `json:"entity_name,omitempty" db:"entity_name"`
	OldValues   json.RawMessage `json:"old_values,omitempty" db:"old_values"`
	NewValues   json.RawMessage `json:"new_values,omitempty" db:"new_values"`
	Metadata    json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Severity    AuditSeverity   `json:"severity" db:"severity"`
	Category    AuditCategory   `json:"category" db:"category"`
	IPAddress   string          `json:"ip_address" db:"ip_address"`
	UserAgent   string          `json:"user_agent" db:"user_agent"`
	RequestID   string          `json:"request_id" db:"request_id"`
	Description string          `json:"description" db:"description"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, entityType string, severity AuditSeverity, category AuditCategory) *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		Action:     action,
		EntityType: entityType,
		Severity:   severity,
		Category:   category,
		Timestamp:  time.Now().UTC(),
	}
}

// WithActor copies the actor identity and request metadata onto the entry
func (a *AuditLog) WithActor(actor Actor) *AuditLog {
	a.ActorID = actor.ID
	a.TenantID = actor.TenantID
	a.ActorName = actor.Name
	a.ActorEmail = actor.Email
	a.ActorRole = actor.Role
	a.IPAddress = actor.IPAddress
	a.UserAgent = actor.UserAgent
	a.RequestID = actor.RequestID
	return a
}

// WithTenant scopes the entry to a tenant
func (a *AuditLog) WithTenant(tenantID uuid.UUID) *AuditLog {
	a.TenantID = &tenantID
	return a
}

// WithEntity sets the entity id and display name
func (a *AuditLog) WithEntity(id, name string) *AuditLog {
	a.EntityID = id
	a.EntityName = name
	return a
}

// WithChanges snapshots the before/after values. Nil values are left empty.
func (a *AuditLog) WithChanges(oldValues, newValues interface{}) *AuditLog {
	a.OldValues = marshalOrNil(oldValues)
	a.NewValues = marshalOrNil(newValues)
	return a
}

// WithMetadata sets free-form metadata
func (a *AuditLog) WithMetadata(metadata interface{}) *AuditLog {
	a.Metadata = marshalOrNil(metadata)
	return a
}

// WithDescription sets the human readable description
func (a *AuditLog) WithDescription(description string) *AuditLog {
	a.Description = description
	return a
}

func marshalOrNil(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil
	}
	return data
}

// AuditFilter narrows an audit query. Zero values are ignored.
type AuditFilter struct {
	Search     string
	Category   AuditCategory
	Severity   AuditSeverity
	EntityType string
	ActorID    *uuid.UUID
	TenantID   *uuid.UUID
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// Pagination bounds for audit queries
const (
	DefaultAuditPageSize = 20
	MaxAuditPageSize     = 100
)

// Normalize clamps pagination to sane bounds
func (f *AuditFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultAuditPageSize
	}
	if f.PageSize > MaxAuditPageSize {
		f.PageSize = MaxAuditPageSize
	}
}

// Offset returns the row offset of the current page
func (f AuditFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// AuditPage is one page of audit results
type AuditPage struct {
	Logs     []*AuditLog `json:"logs"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// AuditStats summarises activity since a point in time
type AuditStats struct {
	Since        time.Time      `json:"since"`
	Total        int            `json:"total"`
	ByCategory   map[string]int `json:"by_category"`
	BySeverity   map[string]int `json:"by_severity"`
	ByEntityType map[string]int `json:"by_entity_type"`
	Recent       []*AuditLog    `json:"recent"`
}
