package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"player-portal/internal/middleware"
	"player-portal/internal/models"
	"player-portal/internal/telemetry"
)

type UserHandler struct {
	directory Directory
	emitter   *telemetry.AuditEmitter
}

func NewUserHandler(directory Directory, emitter *telemetry.AuditEmitter) *UserHandler {
	return &UserHandler{directory: directory, emitter: emitter}
}

// Session provisions the caller from the verified identity and returns the
// stored profile.
func (h *UserHandler) Session(c *gin.Context) {
	val, ok := c.Get(middleware.IdentityKey)
	identity, isIdentity := val.(models.Identity)
	if !ok || !isIdentity {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.directory.UpsertUser(requestContext(c), identity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.directory.GetUser(requestContext(c), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) UpdateMe(c *gin.Context) {
	var patch models.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.directory.UpdateProfile(requestContext(c), c.GetString(middleware.UserIDKey), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) DeleteMe(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if err := h.directory.DeleteUser(requestContext(c), userID); err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.emitter, "user.delete", userID, "account deleted by owner")
	c.Status(http.StatusNoContent)
}

// Heartbeat keeps the caller online between socket frames.
func (h *UserHandler) Heartbeat(c *gin.Context) {
	h.directory.TouchPresence(requestContext(c), c.GetString(middleware.UserIDKey))
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.directory.ListUsers(requestContext(c), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *UserHandler) AdminListUsers(c *gin.Context) {
	users, err := h.directory.ListAllUsers(requestContext(c), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *UserHandler) AdminDeleteUser(c *gin.Context) {
	target := c.Param("user_id")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	if err := h.directory.DeleteUser(requestContext(c), target); err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.emitter, "admin.user.delete", target, "user deleted by admin")
	c.Status(http.StatusNoContent)
}
