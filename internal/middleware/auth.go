package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"player-portal/internal/auth"
	"player-portal/internal/models"
)

const (
	UserIDKey   = "userID"
	UserKey     = "user"
	IdentityKey = "identity"
)

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

// UserResolver maps a verified identity onto the directory, provisioning it
// on first sight and recording presence.
type UserResolver interface {
	Authenticate(ctx context.Context, identity models.Identity) (models.User, error)
}

// AuthMiddleware validates the Authorization header against the identity
// provider's signing key.
func AuthMiddleware(verifier TokenVerifier, resolver UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		user, err := resolver.Authenticate(c.Request.Context(), identity)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "could not resolve user"})
			return
		}

		c.Set(IdentityKey, identity)
		c.Set(UserIDKey, user.ID)
		c.Set(UserKey, user)
		c.Next()
	}
}

// RequireAdmin lets only users whose stored role is admin through.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := c.Get(UserKey)
		user, isUser := val.(models.User)
		if !ok || !isUser || !user.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
