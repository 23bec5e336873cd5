package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services/tenant"
	"github.com/upb/tenantguard/services/token"
)

// asCaller attaches an authenticated resolution for userID in t
func asCaller(req *http.Request, userID uuid.UUID, t *models.Tenant) *http.Request {
	res := &tenant.Resolution{
		Claims: &token.Claims{
			UserID:   userID.String(),
			Email:    "mia@burger.example",
			Role:     models.RoleManager,
			TenantID: t.ID.String(),
			Type:     token.TypeAccess,
		},
		Tenant: t,
	}
	return req.WithContext(middleware.WithResolution(req.Context(), res))
}

// asPublicTenant attaches a resolution carrying only the tenant, as public routes see it
func asPublicTenant(req *http.Request, t *models.Tenant) *http.Request {
	return req.WithContext(middleware.WithResolution(req.Context(), &tenant.Resolution{Tenant: t}))
}

// withURLParams sets chi route parameters as pairs of name, value
func withURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// decodeData unwraps the {"data": ...} envelope into dst
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}
