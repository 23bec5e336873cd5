package handlers

import (
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services/token"
)

func TestTenantHandler_GetCurrent(t *testing.T) {
	handler := NewTenantHandler(zap.NewNop())
	burger := models.NewTenant("Burger Express", "burger-express")

	t.Run("authenticated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetCurrent(w, asCaller(httptest.NewRequest(http.MethodGet, "/api/v1/tenant/current", nil), uuid.New(), burger))

		require.Equal(t, http.StatusOK, w.Code)
		var body CurrentTenantResponse
		decodeData(t, w, &body)
		assert.True(t, body.Authenticated)
		assert.Equal(t, "burger-express", body.Tenant.Slug)
	})

	t.Run("resolved from headers only", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetCurrent(w, asPublicTenant(httptest.NewRequest(http.MethodGet, "/api/v1/tenant/current", nil), burger))

		require.Equal(t, http.StatusOK, w.Code)
		var body CurrentTenantResponse
		decodeData(t, w, &body)
		assert.False(t, body.Authenticated)
	})

	t.Run("nothing resolved", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.GetCurrent(w, httptest.NewRequest(http.MethodGet, "/api/v1/tenant/current", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "TENANT_NOT_FOUND", decodeErrorBody(t, w).Code)
	})
}

var (
	jwksKeyOnce sync.Once
	jwksKey     *rsa.PrivateKey
)

func TestJWKSHandler(t *testing.T) {
	jwksKeyOnce.Do(func() {
		var err error
		jwksKey, err = token.GenerateKeyPair(2048)
		if err != nil {
			panic(err)
		}
	})
	tokens, err := token.NewService(zap.NewNop(), token.WithSigningKey(jwksKey), token.WithKeyID("k-2024"))
	require.NoError(t, err)

	handler := NewJWKSHandler(tokens, zap.NewNop())
	w := httptest.NewRecorder()
	handler.HandleJWKS(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=300", w.Header().Get("Cache-Control"))

	var set token.JWKS
	require.NoError(t, json.NewDecoder(w.Body).Decode(&set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, "k-2024", set.Keys[0].Kid)
	assert.Equal(t, "RSA", set.Keys[0].Kty)
	assert.Equal(t, "RS256", set.Keys[0].Alg)
}
