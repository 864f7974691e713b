package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/backend/models"
	"chatsync/pkg/wire"
)

// MemoryStore backs both repositories without a database. Selected when
// no DB DSN is configured; integration tests run against it.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]models.Conversation
	messages      map[string][]wire.Message
	now           func() time.Time
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]wire.Message),
		now:           time.Now,
	}
}

// CreateOrGet returns the existing thread between the two users or
// creates one.
func (s *MemoryStore) CreateOrGet(ctx context.Context, actorID, counterpartID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.conversations {
		if conv.HasParticipant(actorID) && conv.HasParticipant(counterpartID) {
			return conv, nil
		}
	}
	conv := models.Conversation{
		ID:        uuid.NewString(),
		UserAID:   actorID,
		UserBID:   counterpartID,
		CreatedAt: s.now(),
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

// Get retrieves a single conversation.
func (s *MemoryStore) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// ListForUser returns the threads the actor participates in.
func (s *MemoryStore) ListForUser(ctx context.Context, actorID string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var convs []models.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(actorID) {
			convs = append(convs, conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })
	return convs, nil
}

// CreateMessage stores a message and returns the server-assigned copy.
func (s *MemoryStore) CreateMessage(ctx context.Context, conversationID, senderID, content, imageURL string) (wire.Message, error) {
	if content == "" && imageURL == "" {
		return wire.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return wire.Message{}, ErrConversationNotFound
	}
	msg := wire.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ImageURL:       imageURL,
		CreatedAt:      s.now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg, nil
}

// ListMessages returns the newest messages in ascending createdAt order.
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]wire.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]wire.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// MarkRead flags the given messages as read.
func (s *MemoryStore) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}
	msgs := s.messages[conversationID]
	for i := range msgs {
		if _, hit := wanted[msgs[i].ID]; hit {
			msgs[i].IsRead = true
		}
	}
	return nil
}

var _ ConversationRepository = (*MemoryStore)(nil)
var _ MessageRepository = (*MemoryStore)(nil)
