package token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// ErrKeyNotFound is returned when no verification key matches a token's kid
var ErrKeyNotFound = errors.New("verification key not found")

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeyResolver returns the RSA public key for a key id
type KeyResolver interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// staticKeys resolves a single locally configured key. An empty kid matches it too.
type staticKeys struct {
	kid string
	key *rsa.PublicKey
}

func (s staticKeys) PublicKey(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" || kid == s.kid {
		return s.key, nil
	}
	return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
}

// JWKFromPublicKey encodes an RSA public key for publication
func JWKFromPublicKey(kid string, key *rsa.PublicKey) JWK {
	e := big.NewInt(int64(key.E)).Bytes()
	return JWK{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(e),
	}
}

// PublicKeyFromJWK decodes an RSA JWK
func PublicKeyFromJWK(jwk JWK) (*rsa.PublicKey, error) {
	if jwk.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", jwk.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	// Exponents are at most 32 bits and must be odd; anything else is not a usable RSA key.
	if len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, fmt.Errorf("invalid exponent length %d", len(eBytes))
	}
	e64 := new(big.Int).SetBytes(eBytes).Int64()
	if e64 < 3 || e64 > math.MaxInt32 || e64%2 == 0 {
		return nil, fmt.Errorf("invalid exponent %d", e64)
	}
	if len(nBytes) == 0 {
		return nil, errors.New("empty modulus")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e64)}, nil
}

// DefaultMinRefreshInterval bounds how often a cache miss may hit the JWKS endpoint
const DefaultMinRefreshInterval = time.Minute

// RemoteKeySet fetches and caches a JWKS document so verification-only nodes
// can check tokens without holding key files.
type RemoteKeySet struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration
	minRefresh time.Duration
	now        func() time.Time

	// refreshMu serializes fetches so concurrent misses share one request
	refreshMu sync.Mutex

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	expiresAt   time.Time
	lastAttempt time.Time
	lastErr     error
}

// NewRemoteKeySet creates a key set backed by url. A zero ttl defaults to one hour.
func NewRemoteKeySet(url string, httpClient *http.Client, ttl time.Duration) *RemoteKeySet {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteKeySet{
		url:        url,
		httpClient: httpClient,
		ttl:        ttl,
		minRefresh: DefaultMinRefreshInterval,
		now:        time.Now,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// WithMinRefreshInterval overrides how long unknown kids and failed fetches
// are answered from the cache before the endpoint is asked again.
func (r *RemoteKeySet) WithMinRefreshInterval(d time.Duration) *RemoteKeySet {
	if d > 0 {
		r.minRefresh = d
	}
	return r
}

// PublicKey returns the key for kid. The set is refetched when the cache is
// stale or the kid is unknown (key rotation), at most once per minimum
// refresh interval. Inside that interval a stale key is still served.
func (r *RemoteKeySet) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok, fresh, attempt := r.lookup(kid)
	if ok && fresh {
		return key, nil
	}
	if r.now().Sub(attempt) < r.minRefresh {
		return r.cached(kid)
	}

	r.refreshMu.Lock()
	_, _, _, latest := r.lookup(kid)
	if latest.Equal(attempt) {
		_ = r.Refresh(ctx)
	}
	r.refreshMu.Unlock()

	return r.cached(kid)
}

func (r *RemoteKeySet) lookup(kid string) (*rsa.PublicKey, bool, bool, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[kid]
	return key, ok, r.now().Before(r.expiresAt), r.lastAttempt
}

func (r *RemoteKeySet) cached(kid string) (*rsa.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if key, ok := r.keys[kid]; ok {
		return key, nil
	}
	if r.lastErr != nil {
		return nil, r.lastErr
	}
	return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
}

// Refresh downloads the key set and replaces the cache. A failed fetch keeps
// the previous keys.
func (r *RemoteKeySet) Refresh(ctx context.Context) error {
	keys, err := r.fetch(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAttempt = r.now()
	r.lastErr = err
	if err != nil {
		return err
	}
	r.keys = keys
	r.expiresAt = r.now().Add(r.ttl)
	return nil
}

func (r *RemoteKeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: status code %d", resp.StatusCode)
	}

	var set JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		key, err := PublicKeyFromJWK(jwk)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = key
	}
	return keys, nil
}

// CachedKeys reports how many keys are currently held
func (r *RemoteKeySet) CachedKeys() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
