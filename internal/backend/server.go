// Package backend assembles the reference chat backend: the REST and
// websocket surface the synchronization SDK is written against.
package backend

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chatsync/internal/backend/csrf"
	"chatsync/internal/backend/handlers"
	"chatsync/internal/backend/middleware"
	"chatsync/internal/backend/repositories"
	"chatsync/internal/backend/ws"
	"chatsync/internal/observability"
)

// NewRouter wires the full route table.
func NewRouter(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, manager *csrf.Manager, hub *ws.Hub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chatsync-backend"))
	router.Use(observability.HTTPMetricsMiddleware())

	tokenHandler := handlers.NewTokenHandler(manager)
	chatHandler := handlers.NewChatHandler(convRepo, msgRepo, hub)
	wsHandler := ws.NewHandler(hub)

	identity := middleware.IdentityMiddleware()
	guard := middleware.CSRFMiddleware(manager)

	router.GET("/security-token", tokenHandler.GetToken)

	router.GET("/conversations", identity, chatHandler.ListConversations)
	router.POST("/conversations/start", identity, guard, chatHandler.StartConversation)
	router.GET("/conversations/:conversation_id/messages", identity, chatHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", identity, guard, chatHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", identity, guard, chatHandler.MarkRead)

	router.GET("/ws", identity, wsHandler.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
