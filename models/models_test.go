package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tenant tests
func TestNewTenant(t *testing.T) {
	tenant := NewTenant("Burger Express", "burgerexpress")

	assert.NotEqual(t, uuid.Nil, tenant.ID)
	assert.Equal(t, "Burger Express", tenant.Name)
	assert.Equal(t, "burgerexpress", tenant.Slug)
	assert.True(t, tenant.IsActive)
	assert.Equal(t, tenant.CreatedAt, tenant.UpdatedAt)
	assert.Equal(t, "tenants", tenant.TableName())
}

func TestTenant_RateLimit(t *testing.T) {
	limit := 250
	zero := 0

	tests := []struct {
		name      string
		tenant    *Tenant
		wantLimit int
		wantOK    bool
	}{
		{"nil tenant", nil, 0, false},
		{"no setting", &Tenant{}, 0, false},
		{"zero ignored", &Tenant{Settings: TenantSettings{RateLimitPerMinute: &zero}}, 0, false},
		{"configured", &Tenant{Settings: TenantSettings{RateLimitPerMinute: &limit}}, 250, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.tenant.RateLimit()
			assert.Equal(t, tt.wantLimit, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestTenantSettings_ScanValue(t *testing.T) {
	limit := 60
	in := TenantSettings{RateLimitPerMinute: &limit, Timezone: "America/Bogota"}

	v, err := in.Value()
	require.NoError(t, err)

	var out TenantSettings
	require.NoError(t, out.Scan(v))
	require.NotNil(t, out.RateLimitPerMinute)
	assert.Equal(t, 60, *out.RateLimitPerMinute)
	assert.Equal(t, "America/Bogota", out.Timezone)

	t.Run("nil resets", func(t *testing.T) {
		require.NoError(t, out.Scan(nil))
		assert.Nil(t, out.RateLimitPerMinute)
	})

	t.Run("string input", func(t *testing.T) {
		require.NoError(t, out.Scan(`{"currency":"COP"}`))
		assert.Equal(t, "COP", out.Currency)
	})

	t.Run("unsupported type", func(t *testing.T) {
		assert.Error(t, out.Scan(42))
	})
}

// User tests
func TestNewUser(t *testing.T) {
	tenantID := uuid.New()

	user := NewUser(tenantID, "  Owner@BurgerExpress.com ", "Owner", "hash")

	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.Equal(t, "owner@burgerexpress.com", user.Email)
	assert.True(t, user.IsActive)
	assert.False(t, user.EmailVerified)
	assert.True(t, user.BelongsTo(tenantID))
	assert.False(t, user.BelongsTo(uuid.New()))
	assert.Equal(t, "users", user.TableName())
}

func TestUser_PasswordHashNotSerialized(t *testing.T) {
	user := NewUser(uuid.New(), "a@b.co", "A", "secret-hash")

	data, err := json.Marshal(user)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-hash")
}

// Role and permission tests
func TestNewRole(t *testing.T) {
	role := NewRole("shift_lead", "Runs a shift")

	assert.NotEqual(t, uuid.Nil, role.ID)
	assert.False(t, role.IsSystem)
	assert.Equal(t, "roles", role.TableName())
}

func TestNewUserRoleAssignment(t *testing.T) {
	actor := uuid.New()
	a := NewUserRoleAssignment(uuid.New(), uuid.New(), &actor)

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, &actor, a.AssignedBy)
	assert.False(t, a.AssignedAt.IsZero())
}

func TestPermission_Allows(t *testing.T) {
	tests := []struct {
		name     string
		perm     Permission
		resource string
		action   string
		want     bool
	}{
		{"exact match", Permission{Resource: "order", Action: "delete"}, "order", "delete", true},
		{"wrong action", Permission{Resource: "order", Action: "read"}, "order", "delete", false},
		{"wrong resource", Permission{Resource: "product", Action: "delete"}, "order", "delete", false},
		{"action wildcard", Permission{Resource: "order", Action: Wildcard}, "order", "refund", true},
		{"resource wildcard", Permission{Resource: Wildcard, Action: "read"}, "invoice", "read", true},
		{"full wildcard", Permission{Resource: Wildcard, Action: Wildcard}, "anything", "at_all", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.perm.Allows(tt.resource, tt.action))
		})
	}
}

func TestNewPermission(t *testing.T) {
	p := NewPermission("orders", "order", "delete", "Delete orders")

	assert.Equal(t, "order:delete", p.Name)
	assert.Equal(t, "permissions", p.TableName())
}

// AuditLog tests
func TestNewAuditLog(t *testing.T) {
	log := NewAuditLog(AuditActionRoleCreated, EntityRole, SeverityMedium, CategoryRBAC)

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, AuditActionRoleCreated, log.Action)
	assert.Equal(t, EntityRole, log.EntityType)
	assert.Equal(t, SeverityMedium, log.Severity)
	assert.Equal(t, CategoryRBAC, log.Category)
	assert.WithinDuration(t, time.Now(), log.Timestamp, time.Second)
	assert.Equal(t, "audit_logs", log.TableName())
}

func TestAuditLog_BuilderMethods(t *testing.T) {
	actorID := uuid.New()
	tenantID := uuid.New()
	actor := Actor{
		ID:        &actorID,
		TenantID:  &tenantID,
		Name:      "Ana",
		Email:     "ana@burgerexpress.com",
		Role:      RoleAdmin,
		IPAddress: "10.0.0.1",
		UserAgent: "curl/8",
		RequestID: "req-1",
	}

	log := NewAuditLog(AuditActionRoleUpdated, EntityRole, SeverityMedium, CategoryRBAC).
		WithActor(actor).
		WithEntity("r-1", "cashier").
		WithChanges(map[string]string{"name": "cashier"}, map[string]string{"name": "cashier_lead"}).
		WithMetadata(map[string]int{"permissions": 3}).
		WithDescription("renamed role")

	assert.Equal(t, &actorID, log.ActorID)
	assert.Equal(t, &tenantID, log.TenantID)
	assert.Equal(t, "Ana", log.ActorName)
	assert.Equal(t, "10.0.0.1", log.IPAddress)
	assert.Equal(t, "req-1", log.RequestID)
	assert.Equal(t, "cashier", log.EntityName)
	assert.JSONEq(t, `{"name":"cashier"}`, string(log.OldValues))
	assert.JSONEq(t, `{"name":"cashier_lead"}`, string(log.NewValues))
	assert.JSONEq(t, `{"permissions":3}`, string(log.Metadata))
	assert.Equal(t, "renamed role", log.Description)
}

func TestAuditLog_WithChangesNil(t *testing.T) {
	log := NewAuditLog(AuditActionRoleCreated, EntityRole, SeverityLow, CategoryRBAC).WithChanges(nil, map[string]string{"a": "b"})

	assert.Nil(t, log.OldValues)
	assert.NotNil(t, log.NewValues)
}

func TestAuditFilter_Normalize(t *testing.T) {
	f := AuditFilter{Page: 0, PageSize: 500}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, MaxAuditPageSize, f.PageSize)
	assert.Equal(t, 0, f.Offset())

	f = AuditFilter{Page: 3}
	f.Normalize()
	assert.Equal(t, DefaultAuditPageSize, f.PageSize)
	assert.Equal(t, 40, f.Offset())
}
