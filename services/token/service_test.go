package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/services"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	otherKey    *rsa.PrivateKey
)

// Key generation is slow, so the pair is shared across tests.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = GenerateKeyPair(2048)
		if err != nil {
			panic(err)
		}
		otherKey, err = GenerateKeyPair(2048)
		if err != nil {
			panic(err)
		}
	})
	return testKey, otherKey
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Unix(1_750_000_000, 0)}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	key, _ := testKeys(t)
	base := []Option{WithSigningKey(key), WithKeyID("test-key")}
	svc, err := NewService(zap.NewNop(), append(base, opts...)...)
	require.NoError(t, err)
	return svc
}

var burgerExpressOwner = Subject{
	UserID:   "u1",
	Email:    "owner@burgerexpress.com",
	Role:     "admin",
	TenantID: "tenant-1",
}

func TestService_AccessTokenRoundTrip(t *testing.T) {
	c := newClock()
	svc := newTestService(t, WithClock(c.Now))

	signed, exp, err := svc.IssueAccessToken(burgerExpressOwner)
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(15*time.Minute), exp)

	claims, err := svc.Verify(context.Background(), signed, TypeAccess)
	require.NoError(t, err)

	assert.Equal(t, burgerExpressOwner, claims.Subject())
	assert.Equal(t, TypeAccess, claims.Type)
	assert.NotEmpty(t, claims.TokenID)
	assert.Equal(t, exp.Unix(), claims.ExpiresAt.Unix())
}

func TestService_RefreshTokenIsMinimal(t *testing.T) {
	svc := newTestService(t)

	signed, _, err := svc.IssueRefreshToken(burgerExpressOwner)
	require.NoError(t, err)

	claims, err := svc.Verify(context.Background(), signed, TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, TypeRefresh, claims.Type)
	assert.Empty(t, claims.Email)
	assert.Empty(t, claims.Role)
	assert.Empty(t, claims.TenantID)

	// Inspect the raw payload too
	raw := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(signed, raw)
	require.NoError(t, err)
	assert.Equal(t, "refresh", raw["type"])
	assert.NotContains(t, raw, "tenantId")
	assert.NotContains(t, raw, "email")
}

func TestService_TokenTypeEnforced(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	refresh, _, err := svc.IssueRefreshToken(burgerExpressOwner)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, refresh, TypeAccess)
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	access, _, err := svc.IssueAccessToken(burgerExpressOwner)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, access, TypeRefresh)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestService_ExpiredIsDistinctFromInvalid(t *testing.T) {
	c := newClock()
	svc := newTestService(t, WithClock(c.Now))
	ctx := context.Background()

	signed, _, err := svc.IssueAccessToken(burgerExpressOwner)
	require.NoError(t, err)

	c.Advance(15*time.Minute + time.Second)

	_, err = svc.Verify(ctx, signed, TypeAccess)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrTokenExpired)
	assert.False(t, errors.Is(err, services.ErrInvalidToken))
	assert.Equal(t, services.CodeTokenExpired, services.GetErrorCode(err))
}

func TestService_ExpiredRefreshStillExpiresAfterSevenDays(t *testing.T) {
	c := newClock()
	svc := newTestService(t, WithClock(c.Now))

	signed, _, err := svc.IssueRefreshToken(burgerExpressOwner)
	require.NoError(t, err)

	c.Advance(7*24*time.Hour - time.Minute)
	_, err = svc.Verify(context.Background(), signed, TypeRefresh)
	assert.NoError(t, err)

	c.Advance(2 * time.Minute)
	_, err = svc.Verify(context.Background(), signed, TypeRefresh)
	assert.ErrorIs(t, err, services.ErrTokenExpired)
}

func TestService_InvalidTokens(t *testing.T) {
	c := newClock()
	svc := newTestService(t, WithClock(c.Now))
	_, other := testKeys(t)
	ctx := context.Background()

	foreign, err := NewService(zap.NewNop(), WithSigningKey(other), WithKeyID("test-key"), WithClock(c.Now))
	require.NoError(t, err)
	wrongIssuer := newTestService(t, WithIssuer("someone-else"), WithClock(c.Now))
	wrongAudience := newTestService(t, WithAudience("other-api"), WithClock(c.Now))

	forged, _, err := foreign.IssueAccessToken(burgerExpressOwner)
	require.NoError(t, err)
	badIss, _, err := wrongIssuer.IssueAccessToken(burgerExpressOwner)
	require.NoError(t, err)
	badAud, _, err := wrongAudience.IssueAccessToken(burgerExpressOwner)
	require.NoError(t, err)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": "u1", "iss": DefaultIssuer, "aud": DefaultAudience,
		"exp": c.Now().Add(time.Hour).Unix(), "iat": c.Now().Unix(),
	})
	hsSigned, err := hs.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"wrong signing key", forged},
		{"wrong issuer", badIss},
		{"wrong audience", badAud},
		{"symmetric algorithm rejected", hsSigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(ctx, tt.token, TypeAccess)
			require.Error(t, err)
			assert.ErrorIs(t, err, services.ErrInvalidToken)
			assert.False(t, errors.Is(err, services.ErrTokenExpired))
		})
	}

	t.Run("expired and wrong issuer is invalid, not expired", func(t *testing.T) {
		signed, _, err := wrongIssuer.IssueAccessToken(burgerExpressOwner)
		require.NoError(t, err)
		c.Advance(time.Hour)
		_, err = svc.Verify(ctx, signed, TypeAccess)
		assert.ErrorIs(t, err, services.ErrInvalidToken)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := svc.Verify(ctx, "  ", TypeAccess)
		assert.ErrorIs(t, err, services.ErrMissingToken)
	})
}

func TestService_VerificationOnlyNode(t *testing.T) {
	key, _ := testKeys(t)
	issuer := newTestService(t)

	verifier, err := NewService(zap.NewNop(), WithPublicKey(&key.PublicKey), WithKeyID("test-key"))
	require.NoError(t, err)
	assert.False(t, verifier.CanIssue())

	signed, _, err := issuer.IssueAccessToken(burgerExpressOwner)
	require.NoError(t, err)

	claims, err := verifier.Verify(context.Background(), signed, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.TenantID)

	_, _, err = verifier.IssueAccessToken(burgerExpressOwner)
	assert.ErrorIs(t, err, services.ErrSigningUnavailable)
}

func TestNewService_RequiresVerificationKey(t *testing.T) {
	_, err := NewService(zap.NewNop())
	assert.Error(t, err)
}

func TestService_IssuePair(t *testing.T) {
	c := newClock()
	svc := newTestService(t, WithClock(c.Now), WithAccessTTL(5*time.Minute))

	pair, err := svc.IssuePair(burgerExpressOwner)
	require.NoError(t, err)

	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(300), pair.ExpiresIn)
	assert.Equal(t, c.Now().Add(7*24*time.Hour), pair.RefreshExpiresAt)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
}

func TestService_Revocation(t *testing.T) {
	list := NewMemoryRevocationList()
	svc := newTestService(t, WithRevocationList(list))
	ctx := context.Background()
	assert.True(t, svc.RevocationEnabled())

	signed, _, err := svc.IssueAccessToken(burgerExpressOwner)
	require.NoError(t, err)

	claims, err := svc.Verify(ctx, signed, TypeAccess)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, claims))

	_, err = svc.Verify(ctx, signed, TypeAccess)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

type failingRevocations struct{}

func (failingRevocations) Revoke(context.Context, string, time.Time) error { return nil }
func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingRevocations) RevokeIfNew(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("redis down")
}

func TestService_RevocationStoreFailureFailsClosed(t *testing.T) {
	svc := newTestService(t, WithRevocationList(failingRevocations{}))

	signed, _, err := svc.IssueAccessToken(burgerExpressOwner)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), signed, TypeAccess)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestService_RevokeWithoutListIsNoop(t *testing.T) {
	svc := newTestService(t)
	assert.False(t, svc.RevocationEnabled())
	assert.NoError(t, svc.Revoke(context.Background(), &Claims{TokenID: "x", ExpiresAt: time.Now().Add(time.Hour)}))
}

func TestService_JWKS(t *testing.T) {
	key, _ := testKeys(t)
	svc := newTestService(t)

	set := svc.JWKS()
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "test-key", set.Keys[0].Kid)
	assert.Equal(t, "RS256", set.Keys[0].Alg)

	pub, err := PublicKeyFromJWK(set.Keys[0])
	require.NoError(t, err)
	assert.Equal(t, 0, key.PublicKey.N.Cmp(pub.N))
	assert.Equal(t, key.PublicKey.E, pub.E)
}

func TestNewTokenID_NotSequential(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	first, err := ulid.Parse(newTokenID(now))
	require.NoError(t, err)
	second, err := ulid.Parse(newTokenID(now))
	require.NoError(t, err)

	assert.Equal(t, ulid.Timestamp(now), first.Time())
	assert.Equal(t, first.Time(), second.Time())

	// Fresh entropy per id: the high bytes of the random part do not carry over
	a, b := first.Entropy(), second.Entropy()
	assert.NotEqual(t, a[:6], b[:6])
}

func TestService_Consume(t *testing.T) {
	ctx := context.Background()

	t.Run("single use", func(t *testing.T) {
		svc := newTestService(t, WithRevocationList(NewMemoryRevocationList()))
		pair, err := svc.IssuePair(burgerExpressOwner)
		require.NoError(t, err)
		claims, err := svc.Verify(ctx, pair.RefreshToken, TypeRefresh)
		require.NoError(t, err)

		require.NoError(t, svc.Consume(ctx, claims))
		assert.ErrorIs(t, svc.Consume(ctx, claims), services.ErrInvalidToken)

		_, err = svc.Verify(ctx, pair.RefreshToken, TypeRefresh)
		assert.ErrorIs(t, err, services.ErrInvalidToken)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		svc := newTestService(t, WithRevocationList(failingRevocations{}))
		err := svc.Consume(ctx, &Claims{TokenID: "jti-1", ExpiresAt: time.Now().Add(time.Minute)})
		assert.True(t, services.IsInternalError(err))
	})

	t.Run("no list configured", func(t *testing.T) {
		svc := newTestService(t)
		assert.NoError(t, svc.Consume(ctx, &Claims{TokenID: "jti-1", ExpiresAt: time.Now().Add(time.Minute)}))
	})
}
