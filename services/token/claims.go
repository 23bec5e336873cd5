package token

import (
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Type distinguishes access from refresh tokens
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Fixed issuer and audience validated on every verification
const (
	DefaultIssuer   = "tenantguard"
	DefaultAudience = "tenantguard-api"
)

// Subject is the identity a token is minted for
type Subject struct {
	UserID   string
	Email    string
	Role     string
	TenantID string
}

// jwtClaims is the wire form shared by both token types.
// Access tokens carry identity and tenant; refresh tokens carry only userId and type.
type jwtClaims struct {
	UserID   string `json:"userId"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	Type     string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

func (c *jwtClaims) tokenType() Type {
	if c.Type == string(TypeRefresh) {
		return TypeRefresh
	}
	return TypeAccess
}

// Claims are the verified contents of a token
type Claims struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	TenantID  string    `json:"tenantId,omitempty"`
	Type      Type      `json:"type"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Subject returns the identity portion of the claims
func (c *Claims) Subject() Subject {
	return Subject{UserID: c.UserID, Email: c.Email, Role: c.Role, TenantID: c.TenantID}
}

func claimsFromJWT(c *jwtClaims) *Claims {
	out := &Claims{
		UserID:   c.UserID,
		Email:    c.Email,
		Role:     c.Role,
		TenantID: c.TenantID,
		Type:     c.tokenType(),
		TokenID:  c.ID,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

// Pair is an access/refresh token pair with expiry metadata
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// newTokenID returns a time-ordered jti carrying 80 bits from crypto/rand
func newTokenID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
