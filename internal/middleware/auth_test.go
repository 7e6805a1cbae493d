package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"player-portal/internal/models"
)

type fakeVerifier map[string]models.Identity

func (f fakeVerifier) Verify(token string) (models.Identity, error) {
	identity, ok := f[token]
	if !ok {
		return models.Identity{}, errors.New("invalid")
	}
	return identity, nil
}

type fakeResolver map[string]models.User

func (f fakeResolver) Authenticate(ctx context.Context, identity models.Identity) (models.User, error) {
	user, ok := f[identity.UserID]
	if !ok {
		return models.User{}, errors.New("unknown")
	}
	return user, nil
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	verifier := fakeVerifier{
		"user-token":  {UserID: "u1"},
		"admin-token": {UserID: "a1"},
		"ghost-token": {UserID: "ghost"},
	}
	resolver := fakeResolver{
		"u1": {ID: "u1", Role: models.RoleUser},
		"a1": {ID: "a1", Role: models.RoleAdmin},
	}

	r := gin.New()
	authed := r.Group("/", AuthMiddleware(verifier, resolver))
	authed.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.GetString(UserIDKey)})
	})
	authed.GET("/admin", RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func doRequest(r *gin.Engine, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	r := setupRouter()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic user-token", status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "unresolvable user", header: "Bearer ghost-token", status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer user-token", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(r, "/me", tt.header)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestAuthMiddlewareSetsUserID(t *testing.T) {
	rec := doRequest(setupRouter(), "/me", "Bearer user-token")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"u1"}`, rec.Body.String())
}

func TestRequireAdmin(t *testing.T) {
	r := setupRouter()

	assert.Equal(t, http.StatusForbidden, doRequest(r, "/admin", "Bearer user-token").Code)
	assert.Equal(t, http.StatusNoContent, doRequest(r, "/admin", "Bearer admin-token").Code)
}
