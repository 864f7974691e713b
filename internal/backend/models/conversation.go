package models

import "time"

// Conversation is a two-party thread between a customer and a designer
// or tailor. Participant roles are opaque to this service.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	UserAID   string    `db:"user_a_id" json:"userAId"`
	UserBID   string    `db:"user_b_id" json:"userBId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// CounterpartOf returns the other participant for the given viewer.
func (c Conversation) CounterpartOf(actorID string) string {
	if c.UserAID == actorID {
		return c.UserBID
	}
	return c.UserAID
}

// HasParticipant reports whether the actor belongs to the conversation.
func (c Conversation) HasParticipant(actorID string) bool {
	return c.UserAID == actorID || c.UserBID == actorID
}
