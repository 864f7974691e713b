package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chatsync/internal/backend/middleware"
	"chatsync/internal/observability"
	"chatsync/pkg/wire"
)

// Handler upgrades push-channel connections and routes room frames.
type Handler struct {
	hub *Hub
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and serves frames until it closes.
func (h *Handler) Handle(c *gin.Context) {
	actorID := c.GetString(middleware.ActorContextKey)

	ctx, span := otel.Tracer("chatsync/backend").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	connID := uuid.NewString()
	connectedAt := time.Now()
	requestID := observability.RequestIDFromRequest(c.Request)
	traceID := span.SpanContext().TraceID().String()

	observability.IncWSActive()
	_ = observability.PublishEvent(ctx, "ws_events.chatsync", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload: map[string]interface{}{
			"conn_id":  connID,
			"actor_id": actorID,
			"ip":       observability.IPFromRequest(c.Request),
		},
	}, observability.BuildHeaders(requestID, traceID))

	defer func() {
		conversationIDs := h.hub.RemoveConn(conn)
		for _, conversationID := range conversationIDs {
			h.hub.BroadcastPresence(conversationID, actorID, false, nil)
		}
		observability.DecWSActive()
		_ = observability.PublishEvent(ctx, "ws_events.chatsync", observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "ws_disconnect",
			Payload: map[string]interface{}{
				"conn_id":     connID,
				"actor_id":    actorID,
				"duration_ms": time.Since(connectedAt).Milliseconds(),
			},
		}, observability.BuildHeaders(requestID, traceID))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read error for %s: %v", actorID, err)
			}
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("dropping malformed frame from %s: %v", actorID, err)
			continue
		}
		h.handleFrame(conn, actorID, frame)
	}
}

func (h *Handler) handleFrame(conn *websocket.Conn, actorID string, frame wire.Frame) {
	switch frame.Action {
	case wire.ActionJoin:
		member := frame.ActorID
		if member == "" {
			member = actorID
		}
		h.hub.AddClient(frame.ConversationID, conn, member)
		h.hub.BroadcastPresence(frame.ConversationID, member, true, conn)
	case wire.ActionLeave:
		h.hub.RemoveClient(frame.ConversationID, conn)
	case wire.ActionTypingStart:
		h.hub.BroadcastTyping(frame.ConversationID, actorID, true, conn)
	case wire.ActionTypingStop:
		h.hub.BroadcastTyping(frame.ConversationID, actorID, false, conn)
	default:
		log.Printf("ignoring unknown frame action %q from %s", frame.Action, actorID)
	}
}
