package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
)

// Catalog is the seed document describing permissions and system roles
type Catalog struct {
	Permissions []CatalogPermission `yaml:"permissions"`
	Roles       []CatalogRole       `yaml:"roles"`
}

// CatalogPermission is one permission in the seed
type CatalogPermission struct {
	Category    string `yaml:"category"`
	Resource    string `yaml:"resource"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

// Name returns the canonical permission name
func (p CatalogPermission) Name() string {
	return models.PermissionName(p.Resource, p.Action)
}

// CatalogRole is a system role and the permission names it holds
type CatalogRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// CatalogResult summarises what EnsureCatalog changed
type CatalogResult struct {
	Permissions  int `json:"permissions"`
	RolesCreated int `json:"roles_created"`
	RolesSynced  int `json:"roles_synced"`
}

// ParseCatalog decodes and validates a YAML seed document
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse RBAC catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every role references declared permissions
func (c *Catalog) Validate() error {
	declared := make(map[string]bool, len(c.Permissions))
	for _, p := range c.Permissions {
		if strings.TrimSpace(p.Resource) == "" || strings.TrimSpace(p.Action) == "" {
			return fmt.Errorf("catalog permission in category %q needs resource and action", p.Category)
		}
		if declared[p.Name()] {
			return fmt.Errorf("catalog permission %q declared twice", p.Name())
		}
		declared[p.Name()] = true
	}

	seen := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return errors.New("catalog role needs a name")
		}
		if seen[r.Name] {
			return fmt.Errorf("catalog role %q declared twice", r.Name)
		}
		seen[r.Name] = true
		for _, name := range r.Permissions {
			if !declared[name] {
				return fmt.Errorf("catalog role %q references unknown permission %q", r.Name, name)
			}
		}
	}
	return nil
}

// EnsureCatalog provisions the catalog idempotently: permissions are upserted,
// system roles are created when missing and their permission sets resynced.
func (e *Engine) EnsureCatalog(ctx context.Context, catalog *Catalog) (*CatalogResult, error) {
	if err := catalog.Validate(); err != nil {
		return nil, services.ErrInvalidInput.WithMessage(err.Error())
	}

	result := &CatalogResult{}
	err := e.txm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		ids := make(map[string]uuid.UUID, len(catalog.Permissions))
		for _, p := range catalog.Permissions {
			stored, err := e.permissions.Upsert(ctx, models.NewPermission(p.Category, p.Resource, p.Action, p.Description))
			if err != nil {
				return fmt.Errorf("failed to upsert permission %s: %w", p.Name(), err)
			}
			ids[stored.Name] = stored.ID
		}
		result.Permissions = len(ids)

		for _, cr := range catalog.Roles {
			role, err := e.roles.GetByName(ctx, cr.Name)
			switch {
			case errors.Is(err, repositories.ErrNotFound):
				role = models.NewRole(cr.Name, cr.Description)
				role.IsSystem = true
				if err := e.roles.Create(ctx, role); err != nil {
					return fmt.Errorf("failed to create system role %s: %w", cr.Name, err)
				}
				result.RolesCreated++
			case err != nil:
				return fmt.Errorf("failed to load role %s: %w", cr.Name, err)
			default:
				if role.Description != cr.Description {
					role.Description = cr.Description
					role.UpdatedAt = time.Now()
					if err := e.roles.Update(ctx, role); err != nil {
						return fmt.Errorf("failed to update system role %s: %w", cr.Name, err)
					}
				}
				result.RolesSynced++
			}

			permIDs := make([]uuid.UUID, 0, len(cr.Permissions))
			for _, name := range cr.Permissions {
				permIDs = append(permIDs, ids[name])
			}
			if err := e.roles.SetPermissions(ctx, role.ID, permIDs); err != nil {
				return fmt.Errorf("failed to set permissions for %s: %w", cr.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("failed to provision RBAC catalog", zap.Error(err))
		return nil, services.WrapInternal("failed to provision RBAC catalog", err)
	}

	e.permCache.Clear()
	e.logger.Info("RBAC catalog provisioned",
		zap.Int("permissions", result.Permissions),
		zap.Int("roles_created", result.RolesCreated),
		zap.Int("roles_synced", result.RolesSynced))

	e.record(ctx, models.NewAuditLog(models.AuditActionCatalogSeeded, models.EntityCatalog, models.SeverityMedium, models.CategoryRBAC).
		WithActor(models.SystemActor()).
		WithMetadata(result).
		WithDescription("Provisioned RBAC permission catalog and system roles"))
	return result, nil
}
