// Package token issues and verifies the RS256 access and refresh tokens that
// carry user identity and tenant claims.
//
// Issuance needs the private key. Verification needs only a public key or a
// JWKS endpoint, so any stateless node can check tokens without holding
// signing material. A Service is immutable after construction and safe for
// concurrent use.
package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/services"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Service issues and verifies tokens
type Service struct {
	signer      *rsa.PrivateKey
	publicKey   *rsa.PublicKey
	keyID       string
	keys        KeyResolver
	issuer      string
	audience    string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	now         func() time.Time
	revocations RevocationList
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// Option configures a Service
type Option func(*Service) error

// WithSigningKey enables issuance. The matching public key is used for verification
// unless another source is configured.
func WithSigningKey(key *rsa.PrivateKey) Option {
	return func(s *Service) error {
		if key == nil {
			return errors.New("token: signing key is nil")
		}
		s.signer = key
		if s.publicKey == nil {
			s.publicKey = &key.PublicKey
		}
		return nil
	}
}

// WithPublicKey sets the local verification key
func WithPublicKey(key *rsa.PublicKey) Option {
	return func(s *Service) error {
		if key == nil {
			return errors.New("token: public key is nil")
		}
		s.publicKey = key
		return nil
	}
}

// WithKeyMaterial applies a loaded key pair
func WithKeyMaterial(km KeyMaterial) Option {
	return func(s *Service) error {
		if km.Private != nil {
			if err := WithSigningKey(km.Private)(s); err != nil {
				return err
			}
		}
		if km.Public != nil {
			s.publicKey = km.Public
		}
		return nil
	}
}

// WithKeyResolver verifies against an external key source such as a RemoteKeySet
func WithKeyResolver(r KeyResolver) Option {
	return func(s *Service) error {
		s.keys = r
		return nil
	}
}

// WithKeyID sets the kid header on issued tokens
func WithKeyID(kid string) Option {
	return func(s *Service) error {
		s.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// WithIssuer overrides the issuer. Intended for tests.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		s.issuer = issuer
		return nil
	}
}

// WithAudience overrides the audience. Intended for tests.
func WithAudience(audience string) Option {
	return func(s *Service) error {
		s.audience = audience
		return nil
	}
}

// WithAccessTTL configures access token lifetime
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests)
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithRevocationList enables the jti deny-list check on Verify
func WithRevocationList(list RevocationList) Option {
	return func(s *Service) error {
		s.revocations = list
		return nil
	}
}

// WithMetrics records verification outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// NewService builds a Service. At least one verification source is required.
func NewService(logger *zap.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		issuer:     DefaultIssuer,
		audience:   DefaultAudience,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.keys == nil {
		if s.publicKey == nil {
			return nil, errors.New("token: a public key, signing key or key resolver is required")
		}
		s.keys = staticKeys{kid: s.keyID, key: s.publicKey}
	}
	return s, nil
}

// CanIssue reports whether this node holds signing material
func (s *Service) CanIssue() bool {
	return s.signer != nil
}

// AccessTTL returns the configured access token lifetime
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// IssueAccessToken mints a short-lived token carrying identity and tenant claims
func (s *Service) IssueAccessToken(subject Subject) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := &jwtClaims{
		UserID:           subject.UserID,
		Email:            subject.Email,
		Role:             subject.Role,
		TenantID:         subject.TenantID,
		RegisteredClaims: s.registered(subject.UserID, now, exp),
	}
	signed, err := s.sign(claims)
	return signed, exp, err
}

// IssueRefreshToken mints a long-lived token carrying only the user id and type marker
func (s *Service) IssueRefreshToken(subject Subject) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.refreshTTL)
	claims := &jwtClaims{
		UserID:           subject.UserID,
		Type:             string(TypeRefresh),
		RegisteredClaims: s.registered(subject.UserID, now, exp),
	}
	signed, err := s.sign(claims)
	return signed, exp, err
}

// IssuePair mints both tokens for subject
func (s *Service) IssuePair(subject Subject) (*Pair, error) {
	access, accessExp, err := s.IssueAccessToken(subject)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(subject)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessTTL.Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) registered(sub string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   sub,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        newTokenID(now),
	}
}

func (s *Service) sign(claims *jwtClaims) (string, error) {
	if s.signer == nil {
		return "", services.ErrSigningUnavailable
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.keyID != "" {
		tok.Header["kid"] = s.keyID
	}
	signed, err := tok.SignedString(s.signer)
	if err != nil {
		return "", services.WrapInternal("failed to sign token", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience, expiry and token type.
// Expiry alone yields ErrTokenExpired; every other failure is ErrInvalidToken.
func (s *Service) Verify(ctx context.Context, tokenString string, expected Type) (*Claims, error) {
	claims, err := s.verify(ctx, tokenString, expected)
	outcome := "ok"
	switch {
	case errors.Is(err, services.ErrTokenExpired):
		outcome = "expired"
	case err != nil:
		outcome = "invalid"
	}
	s.metrics.TokenVerified(string(expected), outcome)
	return claims, err
}

func (s *Service) verify(ctx context.Context, tokenString string, expected Type) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, services.ErrMissingToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)

	parsed := &jwtClaims{}
	_, err := parser.ParseWithClaims(tokenString, parsed, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return s.keys.PublicKey(ctx, kid)
	})
	if err != nil {
		if isExpiryOnly(err) && parsed.tokenType() == expected {
			return nil, services.ErrTokenExpired.Wrap(err)
		}
		return nil, services.ErrInvalidToken.Wrap(err)
	}

	if parsed.tokenType() != expected {
		return nil, services.ErrInvalidToken.WithMessage(fmt.Sprintf("expected %s token", expected))
	}
	if parsed.UserID == "" {
		return nil, services.ErrInvalidToken.WithMessage("token has no subject")
	}

	if s.revocations != nil && parsed.ID != "" {
		revoked, err := s.revocations.IsRevoked(ctx, parsed.ID)
		if err != nil {
			s.logger.Error("revocation check failed", zap.String("jti", parsed.ID), zap.Error(err))
			return nil, services.ErrInvalidToken.Wrap(err)
		}
		if revoked {
			return nil, services.ErrInvalidToken.WithMessage("token has been revoked")
		}
	}

	return claimsFromJWT(parsed), nil
}

// isExpiryOnly is true when the signature checked out and expiry was the only failed claim
func isExpiryOnly(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	for _, other := range []error{
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenMalformed,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenInvalidAudience,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenUsedBeforeIssued,
	} {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}

// Revoke deny-lists a verified token until its natural expiry.
// Without a revocation list configured this is a no-op.
func (s *Service) Revoke(ctx context.Context, claims *Claims) error {
	if s.revocations == nil || claims == nil || claims.TokenID == "" {
		return nil
	}
	return s.revocations.Revoke(ctx, claims.TokenID, claims.ExpiresAt)
}

// Consume revokes a verified single-use token. A token already revoked,
// including by a concurrent caller, is rejected with ErrInvalidToken.
// Without a revocation list configured every call succeeds.
func (s *Service) Consume(ctx context.Context, claims *Claims) error {
	if s.revocations == nil || claims == nil || claims.TokenID == "" {
		return nil
	}
	first, err := s.revocations.RevokeIfNew(ctx, claims.TokenID, claims.ExpiresAt)
	if err != nil {
		return services.WrapInternal("failed to consume token", err)
	}
	if !first {
		return services.ErrInvalidToken.WithMessage("token has already been used")
	}
	return nil
}

// RevocationEnabled reports whether Verify consults a deny-list
func (s *Service) RevocationEnabled() bool {
	return s.revocations != nil
}

// JWKS publishes the local verification key
func (s *Service) JWKS() JWKS {
	if s.publicKey == nil {
		return JWKS{Keys: []JWK{}}
	}
	return JWKS{Keys: []JWK{JWKFromPublicKey(s.keyID, s.publicKey)}}
}
