package ws

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"player-portal/internal/auth"
)

// newConnID tags a single socket; one user may hold several.
func newConnID() string {
	return uuid.NewString()
}

// tokenFromRequest prefers the Authorization header. Browsers cannot set
// headers on a websocket handshake, so ?token= is accepted as well.
func tokenFromRequest(c *gin.Context) string {
	if token, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
		return token
	}
	return c.Query("token")
}
