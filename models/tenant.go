package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnonymousTenant is the rate-limit key used when no tenant was resolved
const AnonymousTenant = "anonymous"

// TenantSettings is the per-tenant settings blob stored as JSONB
type TenantSettings struct {
	RateLimitPerMinute *int              `json:"rateLimitPerMinute,omitempty"`
	Timezone           string            `json:"timezone,omitempty"`
	Currency           string            `json:"currency,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// Value implements driver.Valuer
func (s TenantSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *TenantSettings) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = TenantSettings{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported settings type %T", src)
	}
	if len(data) == 0 {
		*s = TenantSettings{}
		return nil
	}
	return json.Unmarshal(data, s)
}

// Tenant represents an isolated restaurant organization
type Tenant struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Slug      string         `json:"slug" db:"slug"` // globally unique, URL-friendly
	Name      string         `json:"name" db:"name"`
	Domain    string         `json:"domain,omitempty" db:"domain"`
	IsActive  bool           `json:"is_active" db:"is_active"`
	Settings  TenantSettings `json:"settings" db:"settings"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a new active Tenant instance
func NewTenant(name, slug string) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RateLimit returns the configured per-minute budget, if any
func (t *Tenant) RateLimit() (int, bool) {
	if t == nil || t.Settings.RateLimitPerMinute == nil || *t.Settings.RateLimitPerMinute <= 0 {
		return 0, false
	}
	return *t.Settings.RateLimitPerMinute, true
}
