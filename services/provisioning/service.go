package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/session"
	"github.com/upb/tenantguard/utils"
)

// RoleAssigner grants a role to a user. *rbac.Engine satisfies it.
type RoleAssigner interface {
	AssignRole(ctx context.Context, actor models.Actor, userID, roleID uuid.UUID) (*models.UserRoleAssignment, error)
}

// AuditSink receives provisioning entries
type AuditSink interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// TenantInput describes a new restaurant organization
type TenantInput struct {
	Name      string `json:"name" validate:"required,max=255"`
	Slug      string `json:"slug" validate:"required,min=3,max=63,slug"`
	Domain    string `json:"domain" validate:"omitempty,fqdn"`
	RateLimit int    `json:"rate_limit" validate:"gte=0"`
	Timezone  string `json:"timezone"`
	Currency  string `json:"currency" validate:"omitempty,len=3"`
}

// UserInput describes a new tenant member
type UserInput struct {
	TenantID uuid.UUID `json:"tenant_id" validate:"required"`
	Email    string    `json:"email" validate:"required,email"`
	Name     string    `json:"name" validate:"required,max=255"`
	Password string    `json:"password" validate:"required"`
	Roles    []string  `json:"roles"`
}

// Service creates tenants and users outside the request path
type Service struct {
	tenants repositories.TenantRepository
	users   repositories.UserRepository
	roles   repositories.RoleRepository
	assign  RoleAssigner
	audit   AuditSink
	logger  *zap.Logger
}

// NewService creates a new provisioning service
func NewService(repos *repositories.Repositories, assign RoleAssigner, audit AuditSink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		tenants: repos.Tenants,
		users:   repos.Users,
		roles:   repos.Roles,
		assign:  assign,
		audit:   audit,
		logger:  logger,
	}
}

// CreateTenant validates and stores a new active tenant
func (s *Service) CreateTenant(ctx context.Context, actor models.Actor, in TenantInput) (*models.Tenant, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = strings.ToLower(strings.TrimSpace(in.Slug))
	if err := validate(in); err != nil {
		return nil, err
	}

	t := models.NewTenant(in.Name, in.Slug)
	t.Domain = strings.ToLower(strings.TrimSpace(in.Domain))
	t.Settings.Timezone = in.Timezone
	t.Settings.Currency = strings.ToUpper(in.Currency)
	if in.RateLimit > 0 {
		limit := in.RateLimit
		t.Settings.RateLimitPerMinute = &limit
	}

	if err := s.tenants.Create(ctx, t); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.ErrDuplicateSlug.WithDetail("slug", in.Slug)
		}
		return nil, services.WrapInternal("failed to create tenant", err)
	}

	s.record(ctx, models.NewAuditLog(models.AuditActionTenantCreated, models.EntityTenant, models.SeverityMedium, models.CategoryTenant).
		WithActor(actor).
		WithTenant(t.ID).
		WithEntity(t.ID.String(), t.Slug).
		WithChanges(nil, t).
		WithDescription(fmt.Sprintf("Created tenant %s", t.Slug)))

	s.logger.Info("tenant created",
		zap.String("tenant_id", t.ID.String()),
		zap.String("slug", t.Slug))
	return t, nil
}

// CreateUser stores a new user in an existing tenant and assigns the named roles.
// A role that cannot be assigned fails the call after the user was stored.
func (s *Service) CreateUser(ctx context.Context, actor models.Actor, in UserInput) (*models.User, error) {
	in.Email = models.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validate(in); err != nil {
		return nil, err
	}

	t, err := s.tenants.GetByID(ctx, in.TenantID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrTenantNotFound.WithDetail("tenant_id", in.TenantID.String())
	}
	if err != nil {
		return nil, services.WrapInternal("failed to load tenant", err)
	}
	if !t.IsActive {
		return nil, services.ErrTenantInactive.WithDetail("tenant_id", t.ID.String())
	}

	roleIDs := make([]uuid.UUID, 0, len(in.Roles))
	for _, name := range in.Roles {
		role, err := s.roles.GetByName(ctx, strings.TrimSpace(name))
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrRoleNotFound.WithDetail("role", name)
		}
		if err != nil {
			return nil, services.WrapInternal("failed to load role", err)
		}
		roleIDs = append(roleIDs, role.ID)
	}

	hash, err := session.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := models.NewUser(t.ID, in.Email, in.Name, hash)
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.ErrDuplicateEmail.WithDetail("email", in.Email)
		}
		return nil, services.WrapInternal("failed to create user", err)
	}

	s.record(ctx, models.NewAuditLog(models.AuditActionUserCreated, models.EntityUser, models.SeverityMedium, models.CategoryTenant).
		WithActor(actor).
		WithTenant(t.ID).
		WithEntity(user.ID.String(), user.Email).
		WithChanges(nil, user).
		WithDescription(fmt.Sprintf("Created user %s in %s", user.Email, t.Slug)))

	for _, roleID := range roleIDs {
		if _, err := s.assign.AssignRole(ctx, actor, user.ID, roleID); err != nil {
			return user, err
		}
	}

	s.logger.Info("user created",
		zap.String("user_id", user.ID.String()),
		zap.String("tenant_id", t.ID.String()),
		zap.Int("roles", len(roleIDs)))
	return user, nil
}

func (s *Service) record(ctx context.Context, entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record provisioning audit entry",
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}

func validate(v interface{}) error {
	if err := utils.ValidateStruct(v); err != nil {
		var verr *utils.ValidationError
		if errors.As(err, &verr) {
			return services.ErrInvalidInput.WithMessage(verr.Message).WithDetail("fields", verr.Fields)
		}
		return services.ErrInvalidInput.Wrap(err)
	}
	return nil
}
