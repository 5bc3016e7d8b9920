package jwtmiddleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/linemk/reseller-shop/internal/domain/models"
	security "github.com/linemk/reseller-shop/internal/jwt-new"
	"github.com/linemk/reseller-shop/internal/jwt-new/jwtmiddleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestToken создаёт JWT-токен с заданными userID, ролью и секретом.
func createTestToken(userID int64, role, secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub": fmt.Sprintf("%d", userID),
	}
	if role != "" {
		claims["role"] = role
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// actorEcho отвечает 200 и пишет в тело роль и id из контекста
func actorEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			http.Error(w, "actor not found", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s:%d", actor.Role, actor.UserID)
	})
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	secret := "testsecret"
	os.Setenv("JWT_SECRET", secret)
	defer os.Unsetenv("JWT_SECRET")

	noRole, err := createTestToken(1, "", secret)
	require.NoError(t, err)
	badRole, err := createTestToken(1, "superuser", secret)
	require.NoError(t, err)
	otherSecret, err := createTestToken(1, "admin", "another-secret")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		body   string
	}{
		{name: "missing header", header: "", body: "missing token"},
		{name: "invalid format", header: "InvalidFormat", body: "invalid token format"},
		{name: "garbage token", header: "Bearer invalid.token.value", body: "invalid token"},
		{name: "wrong secret", header: "Bearer " + otherSecret, body: "invalid token"},
		{name: "missing role", header: "Bearer " + noRole, body: "unknown role"},
		{name: "unknown role", header: "Bearer " + badRole, body: "unknown role"},
	}

	handler := jwtmiddleware.NewJWTMiddleware()(actorEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.body)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	secret := "testsecret"
	os.Setenv("JWT_SECRET", secret)
	defer os.Unsetenv("JWT_SECRET")

	tokenStr, err := createTestToken(123, "reseller", secret)
	require.NoError(t, err)

	handler := jwtmiddleware.NewJWTMiddleware()(actorEcho())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, "Expected OK status for valid token")
	assert.Equal(t, "reseller:123", rr.Body.String())
}

// токен, выпущенный при логине, должен приниматься middleware
func TestJWTMiddleware_AcceptsIssuedToken(t *testing.T) {
	os.Setenv("JWT_SECRET", "testsecret")
	defer os.Unsetenv("JWT_SECRET")

	user := &models.User{ID: 7, Email: "admin@example.com", Role: models.RoleAdmin}
	tokenStr, err := security.NewToken(context.Background(), user, time.Hour)
	require.NoError(t, err)

	handler := jwtmiddleware.NewJWTMiddleware()(actorEcho())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "admin:7", rr.Body.String())
}

func TestFromContext(t *testing.T) {
	_, ok := jwtmiddleware.FromContext(context.Background())
	assert.False(t, ok)

	ctx := jwtmiddleware.WithActor(context.Background(), models.Actor{UserID: 456, Role: models.RoleAdmin})
	actor, ok := jwtmiddleware.FromContext(ctx)
	assert.True(t, ok, "Expected to retrieve actor from context")
	assert.Equal(t, int64(456), actor.UserID)
	assert.True(t, actor.IsAdmin())
}
