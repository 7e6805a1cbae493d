package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"player-portal/internal/models"
	"player-portal/internal/telemetry"
)

// TokenSigner mints identity tokens for local development.
type TokenSigner interface {
	Sign(identity models.Identity, ttl time.Duration) (string, error)
}

// RegisterDebugRoutes wires debug-only endpoints. Minted tokens never carry a
// role claim; admins come from the bootstrap lists.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, signer TokenSigner, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Record(c.Request.Context(), auditRecord(c, "debug.audit_test", "", "audit test"))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/debug/token", func(c *gin.Context) {
		var req struct {
			UserID   string `json:"user_id" binding:"required"`
			Email    string `json:"email"`
			Name     string `json:"name"`
			TTLHours int    `json:"ttl_hours"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ttl := 24 * time.Hour
		if req.TTLHours > 0 {
			ttl = time.Duration(req.TTLHours) * time.Hour
		}
		token, err := signer.Sign(models.Identity{
			UserID:      req.UserID,
			Email:       req.Email,
			DisplayName: req.Name,
		}, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not sign token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token})
	})
}
