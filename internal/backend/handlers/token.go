package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/backend/csrf"
)

// TokenHandler issues anti-forgery tokens.
type TokenHandler struct {
	manager *csrf.Manager
}

// NewTokenHandler builds a TokenHandler.
func NewTokenHandler(manager *csrf.Manager) *TokenHandler {
	return &TokenHandler{manager: manager}
}

// GetToken mints a fresh token. Idempotent from the caller's point of
// view: every call yields a usable token with no auth side effects.
func (h *TokenHandler) GetToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"token": h.manager.Issue()})
}
