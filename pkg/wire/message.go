package wire

import "time"

// Message is the canonical message shape shared by the REST and websocket
// channels. IDs are opaque strings assigned by the server.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	SenderID       string    `db:"sender_id" json:"senderId"`
	Content        string    `db:"content" json:"content,omitempty"`
	ImageURL       string    `db:"image_url" json:"imageUrl,omitempty"`
	IsRead         bool      `db:"is_read" json:"isRead"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Conversation is the canonical conversation summary returned by the
// listing endpoint.
type Conversation struct {
	ID            string    `db:"id" json:"id"`
	CounterpartID string    `db:"counterpart_id" json:"counterpartId"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}
