package tenant

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/token"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, tokenString string, expected token.Type) (*token.Claims, error) {
	args := m.Called(ctx, tokenString, expected)
	if c := args.Get(0); c != nil {
		return c.(*token.Claims), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeLookup is an in-memory Lookup
type fakeLookup struct {
	mu      sync.Mutex
	tenants []*models.Tenant
	calls   int
}

func (f *fakeLookup) FindByID(_ context.Context, id string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, t := range f.tenants {
		if strings.EqualFold(t.ID.String(), id) {
			return t, nil
		}
	}
	return nil, services.ErrTenantNotFound
}

func (f *fakeLookup) FindBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, t := range f.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, services.ErrTenantNotFound
}

type fixture struct {
	burger   *models.Tenant
	taco     *models.Tenant
	closed   *models.Tenant
	lookup   *fakeLookup
	verifier *mockVerifier
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		burger:   models.NewTenant("Burger Express", "burger-express"),
		taco:     models.NewTenant("Taco Stand", "taco-stand"),
		closed:   models.NewTenant("Closed Diner", "closed-diner"),
		verifier: new(mockVerifier),
	}
	f.closed.IsActive = false
	f.lookup = &fakeLookup{tenants: []*models.Tenant{f.burger, f.taco, f.closed}}
	f.resolver = NewResolver(f.verifier, f.lookup, zap.NewNop(), nil)

	f.verifier.On("Verify", mock.Anything, "burger-token", token.TypeAccess).
		Return(&token.Claims{UserID: "u1", Role: "owner", TenantID: f.burger.ID.String(), Type: token.TypeAccess}, nil)
	f.verifier.On("Verify", mock.Anything, "closed-token", token.TypeAccess).
		Return(&token.Claims{UserID: "u2", TenantID: f.closed.ID.String(), Type: token.TypeAccess}, nil)
	f.verifier.On("Verify", mock.Anything, "no-tenant-token", token.TypeAccess).
		Return(&token.Claims{UserID: "u3", Type: token.TypeAccess}, nil)
	f.verifier.On("Verify", mock.Anything, "expired-token", token.TypeAccess).
		Return(nil, services.ErrTokenExpired)
	f.verifier.On("Verify", mock.Anything, "garbage", token.TypeAccess).
		Return(nil, services.ErrInvalidToken)
	return f
}

func TestResolver_Required(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		req      func(f *fixture) Request
		wantCode services.Code
		wantSlug string
	}{
		{
			name:     "missing token",
			req:      func(f *fixture) Request { return Request{TenantID: f.burger.ID.String()} },
			wantCode: services.CodeMissingToken,
		},
		{
			name:     "invalid token",
			req:      func(*fixture) Request { return Request{Token: "garbage"} },
			wantCode: services.CodeInvalidToken,
		},
		{
			name:     "expired token keeps its own code",
			req:      func(*fixture) Request { return Request{Token: "expired-token"} },
			wantCode: services.CodeTokenExpired,
		},
		{
			name:     "tenant from token claim",
			req:      func(*fixture) Request { return Request{Token: "burger-token"} },
			wantSlug: "burger-express",
		},
		{
			name: "matching tenant header",
			req: func(f *fixture) Request {
				return Request{Token: "burger-token", TenantID: strings.ToUpper(f.burger.ID.String())}
			},
			wantSlug: "burger-express",
		},
		{
			name:     "matching slug header",
			req:      func(*fixture) Request { return Request{Token: "burger-token", TenantSlug: "burger-express"} },
			wantSlug: "burger-express",
		},
		{
			name:     "cross-tenant id header",
			req:      func(f *fixture) Request { return Request{Token: "burger-token", TenantID: f.taco.ID.String()} },
			wantCode: services.CodeTenantMismatch,
		},
		{
			name:     "cross-tenant slug header",
			req:      func(*fixture) Request { return Request{Token: "burger-token", TenantSlug: "taco-stand"} },
			wantCode: services.CodeTenantMismatch,
		},
		{
			name:     "unknown slug",
			req:      func(*fixture) Request { return Request{Token: "burger-token", TenantSlug: "nowhere"} },
			wantCode: services.CodeTenantNotFound,
		},
		{
			name:     "inactive tenant",
			req:      func(*fixture) Request { return Request{Token: "closed-token"} },
			wantCode: services.CodeTenantInactive,
		},
		{
			name:     "token without tenant",
			req:      func(*fixture) Request { return Request{Token: "no-tenant-token"} },
			wantCode: services.CodeTenantNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.resolver.Resolve(ctx, tt.req(f), PolicyRequired)

			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, services.GetErrorCode(err))
				assert.Nil(t, res)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, res.Tenant)
			assert.Equal(t, tt.wantSlug, res.Tenant.Slug)
			assert.True(t, res.Authenticated())
			assert.Equal(t, f.burger.ID.String(), res.TenantID())
		})
	}
}

func TestResolver_RequiredMismatchSkipsLoad(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), Request{
		Token:    "burger-token",
		TenantID: f.taco.ID.String(),
	}, PolicyRequired)

	assert.ErrorIs(t, err, services.ErrTenantMismatch)
	assert.Zero(t, f.lookup.calls, "target tenant must not be loaded for a mismatched caller")
}

func TestResolver_Optional(t *testing.T) {
	ctx := context.Background()

	t.Run("no token proceeds anonymously", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.Resolve(ctx, Request{}, PolicyOptional)
		require.NoError(t, err)
		assert.False(t, res.Authenticated())
		assert.Empty(t, res.TenantID())
	})

	t.Run("invalid token is swallowed", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.Resolve(ctx, Request{Token: "garbage"}, PolicyOptional)
		require.NoError(t, err)
		assert.False(t, res.Authenticated())
	})

	t.Run("inactive tenant is swallowed", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.Resolve(ctx, Request{Token: "closed-token"}, PolicyOptional)
		require.NoError(t, err)
		assert.True(t, res.Authenticated())
		assert.Nil(t, res.Tenant)
	})

	t.Run("unknown slug is swallowed", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.Resolve(ctx, Request{Token: "burger-token", TenantSlug: "nowhere"}, PolicyOptional)
		require.NoError(t, err)
		assert.Nil(t, res.Tenant)
	})

	t.Run("mismatch is still rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.Resolve(ctx, Request{Token: "burger-token", TenantID: f.taco.ID.String()}, PolicyOptional)
		assert.ErrorIs(t, err, services.ErrTenantMismatch)
	})

	t.Run("valid token resolves", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.Resolve(ctx, Request{Token: "burger-token"}, PolicyOptional)
		require.NoError(t, err)
		assert.Equal(t, f.burger.ID.String(), res.TenantID())
	})
}

func TestResolver_Public(t *testing.T) {
	ctx := context.Background()

	t.Run("tenant from slug header without auth", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.Resolve(ctx, Request{TenantSlug: "taco-stand"}, PolicyPublic)
		require.NoError(t, err)
		assert.Equal(t, f.taco.ID.String(), res.TenantID())
		assert.False(t, res.Authenticated())
	})

	t.Run("no headers means no tenant", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.Resolve(ctx, Request{Token: "burger-token"}, PolicyPublic)
		require.NoError(t, err)
		assert.Nil(t, res.Tenant)
		assert.True(t, res.Authenticated())
	})

	t.Run("unknown or inactive tenant is swallowed", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.Resolve(ctx, Request{TenantSlug: "nowhere"}, PolicyPublic)
		require.NoError(t, err)
		assert.Nil(t, res.Tenant)

		res, err = f.resolver.Resolve(ctx, Request{TenantID: f.closed.ID.String()}, PolicyPublic)
		require.NoError(t, err)
		assert.Nil(t, res.Tenant)
	})

	t.Run("valid token for another tenant is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.resolver.Resolve(ctx, Request{Token: "burger-token", TenantSlug: "taco-stand"}, PolicyPublic)
		assert.ErrorIs(t, err, services.ErrTenantMismatch)
	})

	t.Run("invalid token is ignored", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.resolver.Resolve(ctx, Request{Token: "garbage", TenantSlug: "taco-stand"}, PolicyPublic)
		require.NoError(t, err)
		assert.Equal(t, f.taco.ID.String(), res.TenantID())
		assert.False(t, res.Authenticated())
	})
}

// End to end with real tokens: a token minted for tenant A with X-Tenant-ID B is refused.
func TestResolver_IsolationWithSignedTokens(t *testing.T) {
	key, err := token.GenerateKeyPair(2048)
	require.NoError(t, err)
	svc, err := token.NewService(zap.NewNop(), token.WithSigningKey(key))
	require.NoError(t, err)

	burger := models.NewTenant("Burger Express", "burger-express")
	taco := models.NewTenant("Taco Stand", "taco-stand")
	resolver := NewResolver(svc, &fakeLookup{tenants: []*models.Tenant{burger, taco}}, zap.NewNop(), nil)

	access, _, err := svc.IssueAccessToken(token.Subject{
		UserID:   "owner-1",
		Email:    "owner@burgerexpress.com",
		Role:     "owner",
		TenantID: burger.ID.String(),
	})
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), Request{Token: access, TenantID: taco.ID.String()}, PolicyRequired)
	require.Error(t, err)
	assert.Equal(t, services.CodeTenantMismatch, services.GetErrorCode(err))
	assert.Equal(t, services.ErrorTypeForbidden, services.GetErrorType(err))

	res, err := resolver.Resolve(context.Background(), Request{Token: access}, PolicyRequired)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", res.Claims.UserID)
	assert.Equal(t, burger.ID.String(), res.TenantID())
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "required", PolicyRequired.String())
	assert.Equal(t, "optional", PolicyOptional.String())
	assert.Equal(t, "public", PolicyPublic.String())
	assert.Equal(t, "unknown", Policy(42).String())
}
