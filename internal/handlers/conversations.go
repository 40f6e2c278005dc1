package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/repositories"
	"conversation-service/internal/telemetry"
)

// ConversationHandler manages conversation bootstrap endpoints. Message
// history and booking CRUD live in other services.
type ConversationHandler struct {
	convRepo repositories.ConversationRepository
	audit    *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo, audit: audit}
}

// StartConversation creates or returns the conversation between the
// authenticated customer and a business.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		BusinessID string `json:"business_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := userIDFromContext(c)
	conv, err := h.convRepo.CreateOrGetConversation(c.Request.Context(), userID, req.BusinessID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start conversation"})
		return
	}

	h.audit.Emit(c.Request.Context(), "info",
		fmt.Sprintf("conversation %s started with business %s", conv.ID, req.BusinessID),
		requestIDFromContext(c), &userID)

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// GetConversation returns a conversation the caller participates in.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := userIDFromContext(c)

	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return
	}

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}
