package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"player-portal/internal/middleware"
	"player-portal/internal/models"
	"player-portal/internal/service"
)

type MessageHandler struct {
	msgs Messages
}

func NewMessageHandler(msgs Messages) *MessageHandler {
	return &MessageHandler{msgs: msgs}
}

type proposalRequest struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Location string `json:"location"`
}

type sendMessageRequest struct {
	Text     string             `json:"text"`
	Type     models.MessageType `json:"type"`
	Proposal *proposalRequest   `json:"proposal"`
}

func (h *MessageHandler) List(c *gin.Context) {
	msgs, err := h.msgs.ListForConversation(requestContext(c), c.Param("conversation_id"), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := service.SendInput{Text: req.Text, Type: req.Type}
	if req.Proposal != nil {
		in.Proposal = &service.ProposalInput{Date: req.Proposal.Date, Time: req.Proposal.Time, Location: req.Proposal.Location}
	}
	msg, err := h.msgs.Send(requestContext(c), c.Param("conversation_id"), c.GetString(middleware.UserIDKey), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *MessageHandler) SetStatus(c *gin.Context) {
	var req struct {
		Status models.ProposalStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.msgs.SetProposalStatus(requestContext(c), c.Param("message_id"), c.GetString(middleware.UserIDKey), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) Vote(c *gin.Context) {
	var req struct {
		Choice models.VoteChoice `json:"choice" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.msgs.CastVote(requestContext(c), c.Param("message_id"), c.GetString(middleware.UserIDKey), req.Choice)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// ListProposals is the caller's lesson schedule.
func (h *MessageHandler) ListProposals(c *gin.Context) {
	entries, err := h.msgs.ListProposalsForUser(requestContext(c), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": entries})
}

func (h *MessageHandler) AdminListProposals(c *gin.Context) {
	entries, err := h.msgs.ListAllProposals(requestContext(c), c.GetString(middleware.UserIDKey))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": entries})
}
