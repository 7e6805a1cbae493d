package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"player-portal/internal/middleware"
	"player-portal/internal/telemetry"
)

type ConversationHandler struct {
	convs   Conversations
	emitter *telemetry.AuditEmitter
}

func NewConversationHandler(convs Conversations, emitter *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{convs: convs, emitter: emitter}
}

// List returns the caller's conversations, optionally narrowed with
// ?filter=unread or ?filter=groups.
func (h *ConversationHandler) List(c *gin.Context) {
	views, err := h.convs.ListForUser(requestContext(c), c.GetString(middleware.UserIDKey), c.Query("filter"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

func (h *ConversationHandler) ListChannels(c *gin.Context) {
	views, err := h.convs.ListPublicChannels(requestContext(c), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": views})
}

func (h *ConversationHandler) ListInvitations(c *gin.Context) {
	invitations, err := h.convs.ListInvitations(requestContext(c), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": invitations})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	view, err := h.convs.Get(requestContext(c), c.Param("conversation_id"), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *ConversationHandler) CreateDirect(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.convs.CreateDirect(requestContext(c), c.GetString(middleware.UserIDKey), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string   `json:"name" binding:"required"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.convs.CreateGroup(requestContext(c), c.GetString(middleware.UserIDKey), req.Name, req.MemberIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *ConversationHandler) CreateChannel(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.convs.CreatePublicChannel(requestContext(c), c.GetString(middleware.UserIDKey), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.emitter, "admin.channel.create", view.ID, "public channel created")
	c.JSON(http.StatusCreated, view)
}

func (h *ConversationHandler) Invite(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.convs.InviteMembers(requestContext(c), c.Param("conversation_id"), c.GetString(middleware.UserIDKey), req.UserIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *ConversationHandler) Accept(c *gin.Context) {
	view, err := h.convs.AcceptInvitation(requestContext(c), c.Param("conversation_id"), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *ConversationHandler) Decline(c *gin.Context) {
	invitation, err := h.convs.DeclineInvitation(requestContext(c), c.Param("conversation_id"), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invitation)
}

// MarkRead moves the caller's read marker. The body is optional; without
// it the marker moves to now.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	var req struct {
		At *time.Time `json:"at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	view, err := h.convs.MarkRead(requestContext(c), c.Param("conversation_id"), c.GetString(middleware.UserIDKey), at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *ConversationHandler) Rename(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversationID := c.Param("conversation_id")
	view, err := h.convs.Rename(requestContext(c), conversationID, c.GetString(middleware.UserIDKey), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.emitter, "admin.conversation.rename", conversationID, "conversation renamed")
	c.JSON(http.StatusOK, view)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if err := h.convs.Delete(requestContext(c), conversationID, c.GetString(middleware.UserIDKey)); err != nil {
		respondError(c, err)
		return
	}
	emitAudit(c, h.emitter, "admin.conversation.delete", conversationID, "conversation deleted")
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) AdminList(c *gin.Context) {
	convs, err := h.convs.ListAll(requestContext(c), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}
