// Package tenant establishes the tenant a request acts on and enforces that
// an authenticated caller never crosses into another tenant.
package tenant

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/token"
)

// Policy selects how resolution failures are treated
type Policy int

const (
	// PolicyRequired rejects the request on any failure
	PolicyRequired Policy = iota
	// PolicyOptional proceeds without a tenant unless the caller crosses tenants
	PolicyOptional
	// PolicyPublic resolves from headers only; a valid token must still agree
	PolicyPublic
)

func (p Policy) String() string {
	switch p {
	case PolicyRequired:
		return "required"
	case PolicyOptional:
		return "optional"
	case PolicyPublic:
		return "public"
	default:
		return "unknown"
	}
}

// Verifier checks a bearer token. *token.Service satisfies it.
type Verifier interface {
	Verify(ctx context.Context, tokenString string, expected token.Type) (*token.Claims, error)
}

// Request carries the inputs read off an inbound request
type Request struct {
	Token      string
	TenantID   string // X-Tenant-ID
	TenantSlug string // X-Tenant-Slug
}

// Resolution is what gets attached to the request context.
// Claims and Tenant are each nil when not established.
type Resolution struct {
	Claims *token.Claims
	Tenant *models.Tenant
}

// TenantID returns the resolved tenant id, or "" when there is none
func (r *Resolution) TenantID() string {
	if r == nil || r.Tenant == nil {
		return ""
	}
	return r.Tenant.ID.String()
}

// Authenticated reports whether a valid token was presented
func (r *Resolution) Authenticated() bool {
	return r != nil && r.Claims != nil
}

// Resolver resolves tenants under a Policy
type Resolver struct {
	verifier Verifier
	lookup   Lookup
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewResolver creates a Resolver
func NewResolver(verifier Verifier, lookup Lookup, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		verifier: verifier,
		lookup:   lookup,
		logger:   logger,
		metrics:  metrics,
	}
}

// Resolve establishes the tenant for req under policy.
// The returned Resolution is never nil when err is nil.
func (r *Resolver) Resolve(ctx context.Context, req Request, policy Policy) (*Resolution, error) {
	var (
		res *Resolution
		err error
	)
	switch policy {
	case PolicyRequired:
		res, err = r.required(ctx, req)
	case PolicyOptional:
		res, err = r.optional(ctx, req)
	case PolicyPublic:
		res, err = r.public(ctx, req)
	default:
		err = services.WrapInternal("unknown tenant policy", nil)
	}

	r.metrics.TenantResolved(policy.String(), outcome(res, err))
	return res, err
}

func (r *Resolver) required(ctx context.Context, req Request) (*Resolution, error) {
	if strings.TrimSpace(req.Token) == "" {
		return nil, services.ErrMissingToken
	}
	claims, err := r.verifier.Verify(ctx, req.Token, token.TypeAccess)
	if err != nil {
		return nil, err
	}

	t, err := r.forClaims(ctx, req, claims)
	if err != nil {
		return nil, err
	}
	return &Resolution{Claims: claims, Tenant: t}, nil
}

func (r *Resolver) optional(ctx context.Context, req Request) (*Resolution, error) {
	if strings.TrimSpace(req.Token) == "" {
		return r.public(ctx, req)
	}
	claims, err := r.verifier.Verify(ctx, req.Token, token.TypeAccess)
	if err != nil {
		r.logger.Warn("optional tenant auth failed, continuing anonymously",
			zap.String("code", string(services.GetErrorCode(err))))
		return r.fromHeaders(ctx, req), nil
	}

	t, err := r.forClaims(ctx, req, claims)
	switch {
	case err == nil:
		return &Resolution{Claims: claims, Tenant: t}, nil
	case errors.Is(err, services.ErrTenantMismatch):
		return nil, err
	case errors.Is(err, services.ErrTenantNotFound), errors.Is(err, services.ErrTenantInactive):
		r.logger.Warn("optional tenant not usable, continuing without tenant",
			zap.String("user_id", claims.UserID),
			zap.String("code", string(services.GetErrorCode(err))))
		return &Resolution{Claims: claims}, nil
	default:
		return nil, err
	}
}

func (r *Resolver) public(ctx context.Context, req Request) (*Resolution, error) {
	res := r.fromHeaders(ctx, req)
	if strings.TrimSpace(req.Token) == "" {
		return res, nil
	}

	claims, err := r.verifier.Verify(ctx, req.Token, token.TypeAccess)
	if err != nil {
		// an unusable token on a public route is ignored
		return res, nil
	}
	if res.Tenant != nil && claims.TenantID != "" && !sameID(claims.TenantID, res.Tenant.ID.String()) {
		return nil, mismatch(claims.TenantID, res.Tenant.ID.String())
	}
	res.Claims = claims
	return res, nil
}

// forClaims picks the target tenant, cross-checks it against the token and loads it
func (r *Resolver) forClaims(ctx context.Context, req Request, claims *token.Claims) (*models.Tenant, error) {
	var (
		target string
		loaded *models.Tenant
	)
	switch {
	case strings.TrimSpace(req.TenantID) != "":
		target = strings.TrimSpace(req.TenantID)
	case strings.TrimSpace(req.TenantSlug) != "":
		t, err := r.lookup.FindBySlug(ctx, req.TenantSlug)
		if err != nil {
			return nil, err
		}
		target, loaded = t.ID.String(), t
	default:
		target = claims.TenantID
	}

	if target == "" {
		return nil, services.ErrTenantNotFound.WithMessage("no tenant context on request or token")
	}
	if !sameID(target, claims.TenantID) {
		return nil, mismatch(claims.TenantID, target)
	}

	if loaded == nil {
		t, err := r.lookup.FindByID(ctx, target)
		if err != nil {
			return nil, err
		}
		loaded = t
	}
	if !loaded.IsActive {
		return nil, services.ErrTenantInactive.WithDetail("tenant_id", loaded.ID.String())
	}
	return loaded, nil
}

// fromHeaders resolves a tenant from headers alone, swallowing failures
func (r *Resolver) fromHeaders(ctx context.Context, req Request) *Resolution {
	var (
		t   *models.Tenant
		err error
	)
	switch {
	case strings.TrimSpace(req.TenantID) != "":
		t, err = r.lookup.FindByID(ctx, req.TenantID)
	case strings.TrimSpace(req.TenantSlug) != "":
		t, err = r.lookup.FindBySlug(ctx, req.TenantSlug)
	default:
		return &Resolution{}
	}

	if err != nil {
		r.logger.Debug("header tenant not resolved",
			zap.String("tenant_id", req.TenantID),
			zap.String("tenant_slug", req.TenantSlug),
			zap.Error(err))
		return &Resolution{}
	}
	if !t.IsActive {
		r.logger.Debug("header tenant inactive", zap.String("tenant_id", t.ID.String()))
		return &Resolution{}
	}
	return &Resolution{Tenant: t}
}

func mismatch(tokenTenant, requested string) error {
	return services.ErrTenantMismatch.
		WithDetail("token_tenant_id", tokenTenant).
		WithDetail("requested_tenant_id", requested)
}

func sameID(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func outcome(res *Resolution, err error) string {
	switch {
	case err != nil:
		return strings.ToLower(string(services.GetErrorCode(err)))
	case res.Tenant == nil:
		return "none"
	default:
		return "resolved"
	}
}
