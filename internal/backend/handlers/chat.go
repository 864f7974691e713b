package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chatsync/internal/backend/middleware"
	"chatsync/internal/backend/repositories"
	"chatsync/internal/backend/ws"
)

const defaultMessageLimit = 50

// ChatHandler manages conversation endpoints.
type ChatHandler struct {
	convRepo repositories.ConversationRepository
	msgRepo  repositories.MessageRepository
	hub      *ws.Hub
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, hub *ws.Hub) *ChatHandler {
	return &ChatHandler{convRepo: convRepo, msgRepo: msgRepo, hub: hub}
}

// ListConversations returns the threads visible to the caller.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	actorID := c.GetString(middleware.ActorContextKey)

	convs, err := h.convRepo.ListForUser(c.Request.Context(), actorID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	type conversationResponse struct {
		ID            string    `json:"id"`
		CounterpartID string    `json:"counterpartId"`
		CreatedAt     time.Time `json:"createdAt"`
	}

	responses := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		responses = append(responses, conversationResponse{
			ID:            conv.ID,
			CounterpartID: conv.CounterpartOf(actorID),
			CreatedAt:     conv.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// StartConversation creates or returns an existing thread with the
// counterpart.
func (h *ChatHandler) StartConversation(c *gin.Context) {
	var req struct {
		CounterpartID string `json:"counterpartId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actorID := c.GetString(middleware.ActorContextKey)
	if actorID == req.CounterpartID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	conv, err := h.convRepo.CreateOrGet(c.Request.Context(), actorID, req.CounterpartID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversationId": conv.ID})
}

// GetMessages returns the newest page of a conversation in ascending
// order.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	actorID := c.GetString(middleware.ActorContextKey)

	conv, err := h.convRepo.Get(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(actorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	limit := defaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	msgs, err := h.msgRepo.ListMessages(c.Request.Context(), conversationID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and pushes it to the room. The sender is
// excluded from the broadcast; their confirmed copy is the POST response.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	actorID := c.GetString(middleware.ActorContextKey)

	conv, err := h.convRepo.Get(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(actorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	var req struct {
		Content  string `json:"content"`
		ImageURL string `json:"imageUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.msgRepo.CreateMessage(c.Request.Context(), conversationID, actorID, req.Content, req.ImageURL)
	if err != nil {
		if errors.Is(err, repositories.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message needs content or an image"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.hub.BroadcastMessage(conversationID, msg, actorID)
	c.JSON(http.StatusCreated, msg)
}

// MarkRead flags messages as read for unread-count accuracy.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	actorID := c.GetString(middleware.ActorContextKey)

	conv, err := h.convRepo.Get(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(actorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	var req struct {
		MessageIDs []string `json:"messageIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.msgRepo.MarkRead(c.Request.Context(), conversationID, req.MessageIDs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}

	c.Status(http.StatusNoContent)
}
