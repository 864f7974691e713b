package wire

import (
	"encoding/json"
	"time"
)

// Event types pushed by the server.
const (
	EventMessageNew      = "message:new"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventPresenceOnline  = "presence:online"
	EventPresenceOffline = "presence:offline"
)

// Frame actions sent by the client.
const (
	ActionJoin        = "join"
	ActionLeave       = "leave"
	ActionTypingStart = "typing:start"
	ActionTypingStop  = "typing:stop"
)

// Frame is a client-to-server websocket message.
type Frame struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversationId,omitempty"`
	ActorID        string `json:"actorId,omitempty"`
}

// Event is a server-to-client websocket message.
type Event struct {
	Type           string   `json:"type"`
	Message        *Message `json:"message,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
	ActorID        string   `json:"actorId,omitempty"`
}

// TypingEvent is the canonical typing notification handed to subscribers.
type TypingEvent struct {
	ConversationID string
	ActorID        string
	Typing         bool
}

// PresenceEvent is the canonical presence notification handed to subscribers.
type PresenceEvent struct {
	ActorID string
	Online  bool
}

// rawEvent accepts every field spelling observed on the wire. Deployed
// backends have emitted userId, user_id and sender_id for the actor and
// conversation_id or chatId for the conversation; all of them are
// coalesced here so only canonical names cross this boundary.
type rawEvent struct {
	Type    string      `json:"type"`
	Message *rawMessage `json:"message,omitempty"`

	ConversationID    string `json:"conversationId"`
	ConversationIDAlt string `json:"conversation_id"`
	ChatID            string `json:"chatId"`

	ActorID     string `json:"actorId"`
	UserID      string `json:"userId"`
	UserIDSnake string `json:"user_id"`
	SenderID    string `json:"sender_id"`
}

// rawMessage mirrors Message but tolerates the same id spellings on the
// nested message body that rawEvent tolerates on the envelope.
type rawMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`

	ConversationID    string `json:"conversationId"`
	ConversationIDAlt string `json:"conversation_id"`
	ChatID            string `json:"chatId"`

	SenderID      string `json:"senderId"`
	SenderIDSnake string `json:"sender_id"`
	UserID        string `json:"userId"`
	UserIDSnake   string `json:"user_id"`
}

func (r *rawMessage) message() *Message {
	conversationID := r.ConversationID
	for _, id := range []string{r.ConversationIDAlt, r.ChatID} {
		if conversationID == "" {
			conversationID = id
		}
	}
	senderID := r.SenderID
	for _, id := range []string{r.SenderIDSnake, r.UserID, r.UserIDSnake} {
		if senderID == "" {
			senderID = id
		}
	}
	return &Message{
		ID:             r.ID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        r.Content,
		ImageURL:       r.ImageURL,
		IsRead:         r.IsRead,
		CreatedAt:      r.CreatedAt,
	}
}

func (r *rawEvent) conversation() string {
	for _, id := range []string{r.ConversationID, r.ConversationIDAlt, r.ChatID} {
		if id != "" {
			return id
		}
	}
	return ""
}

func (r *rawEvent) actor() string {
	for _, id := range []string{r.ActorID, r.UserID, r.UserIDSnake, r.SenderID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// DecodeEvent parses an inbound websocket payload into a canonical Event.
func DecodeEvent(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, err
	}
	var msg *Message
	if raw.Message != nil {
		msg = raw.Message.message()
	}
	return Event{
		Type:           raw.Type,
		Message:        msg,
		ConversationID: raw.conversation(),
		ActorID:        raw.actor(),
	}, nil
}
