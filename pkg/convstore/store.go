// Package convstore maintains the per-conversation merged message view:
// REST-hydrated pages and pushed events reconciled into one ordered,
// deduplicated list.
package convstore

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"

	"chatsync/pkg/wire"
)

// Fetcher is the request/response channel the store hydrates through.
// *gateway.Gateway satisfies it.
type Fetcher interface {
	Get(ctx context.Context, path string, out any) error
	SendJSON(ctx context.Context, method, path string, body, out any) error
}

const defaultPageLimit = 50

type conversation struct {
	id            string
	counterpartID string
	active        bool
	// epoch invalidates hydrate responses that land after teardown or
	// after the screen was reopened.
	epoch    int
	messages []wire.Message
	seen     map[string]struct{}
}

// Store holds every open conversation for the session.
type Store struct {
	mu            sync.Mutex
	api           Fetcher
	selfID        string
	pageLimit     int
	conversations map[string]*conversation
	listeners     map[int]func(conversationID string)
	nextListener  int
}

// Option configures a Store.
type Option func(*Store)

// WithPageLimit sets the hydration page size.
func WithPageLimit(limit int) Option {
	return func(s *Store) { s.pageLimit = limit }
}

// NewStore builds a Store for the given self identity.
func NewStore(api Fetcher, selfID string, opts ...Option) *Store {
	s := &Store{
		api:           api,
		selfID:        selfID,
		pageLimit:     defaultPageLimit,
		conversations: make(map[string]*conversation),
		listeners:     make(map[int]func(string)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers a listener invoked after every visible mutation.
// The returned function unsubscribes it.
func (s *Store) OnChange(fn func(conversationID string)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Activate opens a conversation for syncing. Idempotent; reopening an
// already-active conversation keeps its merged state.
func (s *Store) Activate(conversationID, counterpartID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &conversation{
			id:   conversationID,
			seen: make(map[string]struct{}),
		}
		s.conversations[conversationID] = conv
	}
	conv.counterpartID = counterpartID
	conv.active = true
	conv.epoch++
}

// Deactivate tears a conversation down. Late hydrate responses and pushed
// events for it become no-ops.
func (s *Store) Deactivate(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	conv.active = false
	conv.epoch++
}

// Hydrate fetches the message page over REST and merges it in. A response
// arriving after Deactivate, or after the conversation was reopened, is
// discarded.
func (s *Store) Hydrate(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok || !conv.active {
		s.mu.Unlock()
		return nil
	}
	epoch := conv.epoch
	limit := s.pageLimit
	s.mu.Unlock()

	var page struct {
		Messages []wire.Message `json:"messages"`
	}
	path := fmt.Sprintf("/conversations/%s/messages?limit=%d", conversationID, limit)
	if err := s.api.Get(ctx, path, &page); err != nil {
		return fmt.Errorf("hydrate conversation %s: %w", conversationID, err)
	}

	s.mu.Lock()
	conv, ok = s.conversations[conversationID]
	if !ok || !conv.active || conv.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	changed := false
	for _, msg := range page.Messages {
		if conv.insert(msg) {
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify(conversationID)
	}
	return nil
}

// IngestPushed merges a pushed message. Duplicates by id are silently
// dropped, so the sender's own confirmed append and a later echoed push
// for the same id never produce two rows.
func (s *Store) IngestPushed(msg wire.Message) {
	s.mu.Lock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok || !conv.active {
		s.mu.Unlock()
		return
	}
	changed := conv.insert(msg)
	s.mu.Unlock()

	if changed {
		s.notify(msg.ConversationID)
	}
}

// AppendOptimistic inserts a provisional entry for a message the server
// has not yet confirmed and returns its local id.
func (s *Store) AppendOptimistic(conversationID string, draft wire.Message) string {
	localID := "local-" + uuid.NewString()

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok || !conv.active {
		s.mu.Unlock()
		return localID
	}
	draft.ID = localID
	draft.ConversationID = conversationID
	draft.SenderID = s.selfID
	conv.insert(draft)
	s.mu.Unlock()

	s.notify(conversationID)
	return localID
}

// Confirm reconciles a provisional entry to its server-assigned identity.
// No pending id persists once the server id is known. When a pushed copy
// of the confirmed message already landed, the provisional entry is
// simply removed.
func (s *Store) Confirm(conversationID, localID string, confirmed wire.Message) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}

	idx := -1
	for i := range conv.messages {
		if conv.messages[i].ID == localID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		conv.messages = append(conv.messages[:idx], conv.messages[idx+1:]...)
		delete(conv.seen, localID)
	}
	// A confirmation landing after teardown only cleans the provisional
	// entry up; the confirmed copy is not inserted.
	if !conv.active {
		s.mu.Unlock()
		return
	}
	conv.insert(confirmed)
	s.mu.Unlock()

	s.notify(conversationID)
}

// Discard removes a provisional entry whose send failed. Confirmed
// messages are never removed.
func (s *Store) Discard(conversationID, localID string) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	for i := range conv.messages {
		if conv.messages[i].ID == localID {
			conv.messages = append(conv.messages[:i], conv.messages[i+1:]...)
			delete(conv.seen, localID)
			break
		}
	}
	s.mu.Unlock()

	s.notify(conversationID)
}

// MarkRead flips local read state for the given messages and notifies the
// server best-effort. Persistence failures only affect unread badges
// elsewhere, so they are logged and swallowed.
func (s *Store) MarkRead(ctx context.Context, conversationID string, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return
	}
	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}
	changed := false
	for i := range conv.messages {
		if _, hit := wanted[conv.messages[i].ID]; hit && !conv.messages[i].IsRead {
			conv.messages[i].IsRead = true
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify(conversationID)
	}

	body := map[string][]string{"messageIds": messageIDs}
	path := fmt.Sprintf("/conversations/%s/read", conversationID)
	if err := s.api.SendJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		log.Printf("mark read notification failed for conversation %s: %v", conversationID, err)
	}
}

// Messages returns a snapshot of the merged, ordered view.
func (s *Store) Messages(conversationID string) []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]wire.Message, len(conv.messages))
	copy(out, conv.messages)
	return out
}

// UnreadCount reports how many counterpart messages are unread.
func (s *Store) UnreadCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return 0
	}
	count := 0
	for _, msg := range conv.messages {
		if msg.SenderID != s.selfID && !msg.IsRead {
			count++
		}
	}
	return count
}

// ActiveConversations lists the ids currently being synced.
func (s *Store) ActiveConversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, conv := range s.conversations {
		if conv.active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RehydrateActive re-fetches every active conversation. Used after a
// transport reconnect to cover the delivery gap.
func (s *Store) RehydrateActive(ctx context.Context) {
	for _, id := range s.ActiveConversations() {
		if err := s.Hydrate(ctx, id); err != nil {
			log.Printf("rehydrate conversation %s: %v", id, err)
		}
	}
}

func (s *Store) notify(conversationID string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(conversationID)
	}
}

// insert places msg into the ordered list unless its id is already known.
// Ordering is stable: the message lands after the last existing entry
// whose createdAt is not later than its own, so equal-timestamp entries
// keep their insertion order. Returns whether the list changed.
func (c *conversation) insert(msg wire.Message) bool {
	if _, dup := c.seen[msg.ID]; dup {
		return false
	}
	c.seen[msg.ID] = struct{}{}

	idx := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	c.messages = append(c.messages, wire.Message{})
	copy(c.messages[idx+1:], c.messages[idx:])
	c.messages[idx] = msg
	return true
}
