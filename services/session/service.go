// Package session implements the password login, token refresh, logout and
// profile flows on top of the token service and the RBAC engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/token"
	"github.com/upb/tenantguard/utils"
)

// Tokens issues, verifies and revokes tokens
type Tokens interface {
	IssuePair(subject token.Subject) (*token.Pair, error)
	Verify(ctx context.Context, tokenString string, expected token.Type) (*token.Claims, error)
	Revoke(ctx context.Context, claims *token.Claims) error
	Consume(ctx context.Context, claims *token.Claims) error
}

// Roles answers role and permission questions for a user
type Roles interface {
	PrimaryRole(ctx context.Context, userID uuid.UUID) (string, error)
	UserRoles(ctx context.Context, userID uuid.UUID) ([]models.UserRole, error)
	ResolvePermissions(ctx context.Context, userID uuid.UUID) ([]models.Permission, error)
}

// Tenants loads a tenant by id
type Tenants interface {
	FindByID(ctx context.Context, id string) (*models.Tenant, error)
}

// AuditSink receives login, refresh and logout entries
type AuditSink interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// Credentials is the login request body
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=128"`
}

// LoginResult is returned by a successful login
type LoginResult struct {
	*token.Pair
	User   *models.User      `json:"user"`
	Tenant *models.Tenant    `json:"tenant"`
	Roles  []models.UserRole `json:"roles"`
}

// Profile describes the authenticated caller
type Profile struct {
	User        *models.User      `json:"user"`
	Tenant      *models.Tenant    `json:"tenant"`
	Roles       []models.UserRole `json:"roles"`
	Permissions []string          `json:"permissions"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Service runs the session flows
type Service struct {
	tokens  Tokens
	users   repositories.UserRepository
	roles   Roles
	tenants Tenants
	audit   AuditSink
	logger  *zap.Logger
}

// NewService creates a new session service
func NewService(tokens Tokens, users repositories.UserRepository, roles Roles, tenants Tenants, audit AuditSink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		tokens:  tokens,
		users:   users,
		roles:   roles,
		tenants: tenants,
		audit:   audit,
		logger:  logger,
	}
}

// Login checks credentials within an already resolved tenant and issues a token pair.
// Unknown emails, inactive users and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, t *models.Tenant, creds Credentials, actor models.Actor) (*LoginResult, error) {
	if err := utils.ValidateStruct(creds); err != nil {
		return nil, services.ErrInvalidInput.WithMessage("invalid login request").
			WithDetail("fields", utils.GetValidationFields(err))
	}
	if t == nil {
		return nil, services.ErrTenantNotFound.WithMessage("login requires a tenant")
	}

	email := models.NormalizeEmail(creds.Email)
	user, err := s.users.GetByEmail(ctx, t.ID, email)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.WrapInternal("failed to load user", err)
	}

	if user == nil {
		// keep the response time of unknown emails close to a real comparison
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(creds.Password))
		s.loginFailed(ctx, t, email, "unknown_email", actor)
		return nil, services.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		s.loginFailed(ctx, t, email, "wrong_password", actor)
		return nil, services.ErrInvalidCredentials
	}
	if !user.IsActive {
		s.loginFailed(ctx, t, email, "user_inactive", actor)
		return nil, services.ErrInvalidCredentials
	}

	roles, err := s.roles.UserRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.IssuePair(subjectFor(user, primary(roles)))
	if err != nil {
		return nil, err
	}

	actor = actorFor(actor, user, primary(roles))
	s.record(ctx, models.NewAuditLog(models.AuditActionLogin, models.EntityUser, models.SeverityLow, models.CategoryAuthentication).
		WithActor(actor).
		WithTenant(t.ID).
		WithEntity(user.ID.String(), user.Email).
		WithDescription(fmt.Sprintf("%s signed in", user.Email)))

	s.logger.Info("user logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("tenant_id", t.ID.String()))

	return &LoginResult{Pair: pair, User: user, Tenant: t, Roles: roles}, nil
}

// Refresh exchanges a refresh token for a new pair. With a deny-list
// configured the presented refresh token is consumed before the new pair is
// issued, so concurrent refreshes with one token yield a single pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string, actor models.Actor) (*token.Pair, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, token.TypeRefresh)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, services.ErrInvalidToken.WithMessage("token subject is not a user id")
	}
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrInvalidToken.WithMessage("token subject no longer exists")
	}
	if err != nil {
		return nil, services.WrapInternal("failed to load user", err)
	}
	if !user.IsActive {
		return nil, services.ErrInvalidToken.WithMessage("user is inactive")
	}

	t, err := s.tenants.FindByID(ctx, user.TenantID.String())
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, services.ErrTenantInactive.WithDetail("tenant_id", t.ID.String())
	}

	role, err := s.roles.PrimaryRole(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Consume(ctx, claims); err != nil {
		if services.IsInternalError(err) {
			s.logger.Error("failed to consume refresh token",
				zap.String("user_id", user.ID.String()),
				zap.Error(err))
		}
		return nil, err
	}

	pair, err := s.tokens.IssuePair(subjectFor(user, role))
	if err != nil {
		return nil, err
	}

	s.record(ctx, models.NewAuditLog(models.AuditActionTokenRefreshed, models.EntityUser, models.SeverityLow, models.CategoryAuthentication).
		WithActor(actorFor(actor, user, role)).
		WithTenant(t.ID).
		WithEntity(user.ID.String(), user.Email))

	return pair, nil
}

// Logout revokes the access token and, when given, the caller's refresh token
func (s *Service) Logout(ctx context.Context, access *token.Claims, refreshToken string, actor models.Actor) error {
	if access == nil {
		return services.ErrMissingToken
	}
	if err := s.tokens.Revoke(ctx, access); err != nil {
		return services.WrapInternal("failed to revoke access token", err)
	}

	if refreshToken != "" {
		refresh, err := s.tokens.Verify(ctx, refreshToken, token.TypeRefresh)
		switch {
		case err != nil:
			s.logger.Debug("ignoring unusable refresh token on logout", zap.Error(err))
		case refresh.UserID != access.UserID:
			s.logger.Warn("refresh token on logout belongs to another user",
				zap.String("user_id", access.UserID))
		default:
			if err := s.tokens.Revoke(ctx, refresh); err != nil {
				return services.WrapInternal("failed to revoke refresh token", err)
			}
		}
	}

	entry := models.NewAuditLog(models.AuditActionLogout, models.EntityUser, models.SeverityLow, models.CategoryAuthentication).
		WithActor(actor).
		WithEntity(access.UserID, access.Email)
	if tenantID, err := uuid.Parse(access.TenantID); err == nil {
		entry.WithTenant(tenantID)
	}
	s.record(ctx, entry)
	return nil
}

// Me returns the caller's user, tenant, roles and effective permission names
func (s *Service) Me(ctx context.Context, claims *token.Claims, t *models.Tenant) (*Profile, error) {
	if claims == nil {
		return nil, services.ErrMissingToken
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, services.ErrInvalidToken.WithMessage("token subject is not a user id")
	}

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.ErrUserNotFound
	}
	if err != nil {
		return nil, services.WrapInternal("failed to load user", err)
	}
	if t != nil && !user.BelongsTo(t.ID) {
		return nil, services.ErrUserNotFound
	}

	roles, err := s.roles.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms, err := s.roles.ResolvePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}

	return &Profile{
		User:        user,
		Tenant:      t,
		Roles:       roles,
		Permissions: names,
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

func (s *Service) loginFailed(ctx context.Context, t *models.Tenant, email, reason string, actor models.Actor) {
	actor.Email = email
	if actor.Name == "" {
		actor.Name = email
	}
	s.record(ctx, models.NewAuditLog(models.AuditActionLoginFailed, models.EntityUser, models.SeverityMedium, models.CategoryAuthentication).
		WithActor(actor).
		WithTenant(t.ID).
		WithEntity("", email).
		WithMetadata(map[string]string{"reason": reason}).
		WithDescription(fmt.Sprintf("Failed sign-in for %s", email)))
}

func (s *Service) record(ctx context.Context, entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record session audit entry",
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}

func subjectFor(user *models.User, role string) token.Subject {
	return token.Subject{
		UserID:   user.ID.String(),
		Email:    user.Email,
		Role:     role,
		TenantID: user.TenantID.String(),
	}
}

func actorFor(base models.Actor, user *models.User, role string) models.Actor {
	id, tenantID := user.ID, user.TenantID
	base.ID = &id
	base.TenantID = &tenantID
	base.Name = user.Name
	base.Email = user.Email
	base.Role = role
	return base
}

func primary(roles []models.UserRole) string {
	if len(roles) == 0 {
		return ""
	}
	return roles[0].Name
}
