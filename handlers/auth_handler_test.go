package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/session"
	"github.com/upb/tenantguard/services/token"
)

// MockSessionService is a mock implementation of SessionService
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Login(ctx context.Context, t *models.Tenant, creds session.Credentials, actor models.Actor) (*session.LoginResult, error) {
	args := m.Called(ctx, t, creds, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.LoginResult), args.Error(1)
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshToken string, actor models.Actor) (*token.Pair, error) {
	args := m.Called(ctx, refreshToken, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*token.Pair), args.Error(1)
}

func (m *MockSessionService) Logout(ctx context.Context, access *token.Claims, refreshToken string, actor models.Actor) error {
	args := m.Called(ctx, access, refreshToken, actor)
	return args.Error(0)
}

func (m *MockSessionService) Me(ctx context.Context, claims *token.Claims, t *models.Tenant) (*session.Profile, error) {
	args := m.Called(ctx, claims, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Profile), args.Error(1)
}

func testPair() *token.Pair {
	now := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	return &token.Pair{
		AccessToken:      "access-token",
		RefreshToken:     "refresh-token",
		TokenType:        "Bearer",
		ExpiresIn:        900,
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshExpiresAt: now.Add(7 * 24 * time.Hour),
	}
}

func TestAuthHandler_HandleLogin(t *testing.T) {
	logger := zap.NewNop()
	burger := models.NewTenant("Burger Express", "burger-express")

	t.Run("returns the token pair and sets the cookie", func(t *testing.T) {
		sessions := new(MockSessionService)
		handler := NewAuthHandler(sessions, true, logger)

		user := models.NewUser(burger.ID, "mia@burger.example", "Mia", "hash")
		sessions.On("Login", mock.Anything, burger,
			session.Credentials{Email: "mia@burger.example", Password: "fries-and-shakes"},
			mock.AnythingOfType("models.Actor")).
			Return(&session.LoginResult{Pair: testPair(), User: user, Tenant: burger}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
			strings.NewReader(`{"email":"mia@burger.example","password":"fries-and-shakes"}`))
		req = asPublicTenant(req, burger)
		w := httptest.NewRecorder()

		handler.HandleLogin(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			TokenType    string `json:"token_type"`
			User         struct {
				Email string `json:"email"`
			} `json:"user"`
		}
		decodeData(t, w, &body)
		assert.Equal(t, "access-token", body.AccessToken)
		assert.Equal(t, "refresh-token", body.RefreshToken)
		assert.Equal(t, "Bearer", body.TokenType)
		assert.Equal(t, "mia@burger.example", body.User.Email)
		assert.NotContains(t, w.Body.String(), "password")

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "auth_token", cookies[0].Name)
		assert.Equal(t, "access-token", cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
		assert.True(t, cookies[0].Secure)
		sessions.AssertExpectations(t)
	})

	t.Run("bad credentials", func(t *testing.T) {
		sessions := new(MockSessionService)
		handler := NewAuthHandler(sessions, false, logger)
		sessions.On("Login", mock.Anything, burger, mock.Anything, mock.Anything).
			Return(nil, services.ErrInvalidCredentials)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
			strings.NewReader(`{"email":"mia@burger.example","password":"wrong"}`))
		w := httptest.NewRecorder()
		handler.HandleLogin(w, asPublicTenant(req, burger))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "INVALID_CREDENTIALS", decodeErrorBody(t, w).Code)
		assert.Empty(t, w.Result().Cookies())
	})

	t.Run("malformed body never reaches the service", func(t *testing.T) {
		sessions := new(MockSessionService)
		handler := NewAuthHandler(sessions, false, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":`))
		w := httptest.NewRecorder()
		handler.HandleLogin(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeErrorBody(t, w).Code)
		sessions.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAuthHandler_HandleRefresh(t *testing.T) {
	logger := zap.NewNop()

	t.Run("rotates the pair", func(t *testing.T) {
		sessions := new(MockSessionService)
		handler := NewAuthHandler(sessions, false, logger)
		sessions.On("Refresh", mock.Anything, "old-refresh", mock.Anything).Return(testPair(), nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{"refresh_token":"old-refresh"}`))
		w := httptest.NewRecorder()
		handler.HandleRefresh(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var pair token.Pair
		decodeData(t, w, &pair)
		assert.Equal(t, "refresh-token", pair.RefreshToken)
	})

	t.Run("refresh token is required", func(t *testing.T) {
		sessions := new(MockSessionService)
		handler := NewAuthHandler(sessions, false, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		handler.HandleRefresh(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeErrorBody(t, w)
		assert.Equal(t, "VALIDATION_ERROR", body.Code)
		assert.Contains(t, body.Details, "refresh_token")
	})

	t.Run("expired refresh token", func(t *testing.T) {
		sessions := new(MockSessionService)
		handler := NewAuthHandler(sessions, false, logger)
		sessions.On("Refresh", mock.Anything, "stale", mock.Anything).Return(nil, services.ErrTokenExpired)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{"refresh_token":"stale"}`))
		w := httptest.NewRecorder()
		handler.HandleRefresh(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "TOKEN_EXPIRED", decodeErrorBody(t, w).Code)
	})
}

func TestAuthHandler_HandleLogout(t *testing.T) {
	logger := zap.NewNop()
	burger := models.NewTenant("Burger Express", "burger-express")
	userID := uuid.New()

	t.Run("with refresh token", func(t *testing.T) {
		sessions := new(MockSessionService)
		handler := NewAuthHandler(sessions, false, logger)
		sessions.On("Logout", mock.Anything, mock.AnythingOfType("*token.Claims"), "refresh-token", mock.Anything).Return(nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", strings.NewReader(`{"refresh_token":"refresh-token"}`))
		w := httptest.NewRecorder()
		handler.HandleLogout(w, asCaller(req, userID, burger))

		assert.Equal(t, http.StatusNoContent, w.Code)
		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, -1, cookies[0].MaxAge)
		sessions.AssertExpectations(t)
	})

	t.Run("without body", func(t *testing.T) {
		sessions := new(MockSessionService)
		handler := NewAuthHandler(sessions, false, logger)
		sessions.On("Logout", mock.Anything, mock.AnythingOfType("*token.Claims"), "", mock.Anything).Return(nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		w := httptest.NewRecorder()
		handler.HandleLogout(w, asCaller(req, userID, burger))

		assert.Equal(t, http.StatusNoContent, w.Code)
		sessions.AssertExpectations(t)
	})
}

func TestAuthHandler_HandleMe(t *testing.T) {
	logger := zap.NewNop()
	burger := models.NewTenant("Burger Express", "burger-express")
	userID := uuid.New()

	t.Run("returns the profile", func(t *testing.T) {
		sessions := new(MockSessionService)
		handler := NewAuthHandler(sessions, false, logger)
		user := models.NewUser(burger.ID, "mia@burger.example", "Mia", "hash")
		sessions.On("Me", mock.Anything, mock.AnythingOfType("*token.Claims"), burger).
			Return(&session.Profile{User: user, Tenant: burger, Permissions: []string{"order:read"}}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		w := httptest.NewRecorder()
		handler.HandleMe(w, asCaller(req, userID, burger))

		require.Equal(t, http.StatusOK, w.Code)
		var profile struct {
			Permissions []string `json:"permissions"`
		}
		decodeData(t, w, &profile)
		assert.Equal(t, []string{"order:read"}, profile.Permissions)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		handler := NewAuthHandler(new(MockSessionService), false, logger)

		w := httptest.NewRecorder()
		handler.HandleMe(w, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "MISSING_TOKEN", decodeErrorBody(t, w).Code)
	})
}
