package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/backend"
	"chatsync/internal/backend/csrf"
	"chatsync/internal/backend/repositories"
	"chatsync/internal/backend/ws"
)

// startBackend runs the reference backend in-process on a memory store.
func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repositories.NewMemoryStore()
	router := backend.NewRouter(store, store, csrf.NewManager(), ws.NewHub())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newTestSession(t *testing.T, srv *httptest.Server, selfID string) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.WSURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.TokenRetryDelay = 10 * time.Millisecond

	s := New(cfg, selfID)
	t.Cleanup(func() { s.Logout() })
	require.NoError(t, s.Connect(context.Background()))
	return s
}

// openShared creates a thread between both users and opens it on both
// sessions.
func openShared(t *testing.T, alice, bob *Session) string {
	t.Helper()
	ctx := context.Background()

	conversationID, err := alice.StartConversation(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, alice.OpenConversation(ctx, conversationID, "bob"))
	require.NoError(t, bob.OpenConversation(ctx, conversationID, "alice"))
	return conversationID
}

func TestMessageFlowsBetweenSessions(t *testing.T) {
	srv := startBackend(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")
	conversationID := openShared(t, alice, bob)

	confirmed, err := alice.SendMessage(context.Background(), conversationID, "hello bob", "")
	require.NoError(t, err)
	require.NotEmpty(t, confirmed.ID)
	assert.Equal(t, "alice", confirmed.SenderID)

	// The sender's view holds exactly the confirmed copy.
	msgs := alice.Store.Messages(conversationID)
	require.Len(t, msgs, 1)
	assert.Equal(t, confirmed.ID, msgs[0].ID)
	assert.False(t, strings.HasPrefix(msgs[0].ID, "local-"))

	// The peer receives the push.
	require.Eventually(t, func() bool {
		return len(bob.Store.Messages(conversationID)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, confirmed.ID, bob.Store.Messages(conversationID)[0].ID)

	// A reply travels the other way; neither side duplicates.
	_, err = bob.SendMessage(context.Background(), conversationID, "hi alice", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(alice.Store.Messages(conversationID)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, bob.Store.Messages(conversationID), 2)
}

func TestHydrateCatchesUpOnOpen(t *testing.T) {
	srv := startBackend(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	ctx := context.Background()
	conversationID, err := alice.StartConversation(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, alice.OpenConversation(ctx, conversationID, "bob"))

	// Two messages land before bob ever opens the thread.
	_, err = alice.SendMessage(ctx, conversationID, "first", "")
	require.NoError(t, err)
	_, err = alice.SendMessage(ctx, conversationID, "second", "")
	require.NoError(t, err)

	require.NoError(t, bob.OpenConversation(ctx, conversationID, "alice"))
	msgs := bob.Store.Messages(conversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestTypingPropagates(t *testing.T) {
	srv := startBackend(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")
	conversationID := openShared(t, alice, bob)

	require.NoError(t, alice.SendTyping(conversationID, true))
	require.Eventually(t, func() bool {
		return bob.Presence.IsTyping(conversationID, "alice")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.SendTyping(conversationID, false))
	require.Eventually(t, func() bool {
		return !bob.Presence.IsTyping(conversationID, "alice")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresenceAnnouncedOnJoin(t *testing.T) {
	srv := startBackend(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")

	// Alice joins first, so she observes bob's join.
	openShared(t, alice, bob)

	require.Eventually(t, func() bool {
		return alice.Presence.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	srv := startBackend(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")
	conversationID := openShared(t, alice, bob)

	_, err := alice.SendMessage(context.Background(), conversationID, "unread", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bob.Store.UnreadCount(conversationID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs := bob.Store.Messages(conversationID)
	bob.MarkRead(context.Background(), conversationID, []string{msgs[0].ID})
	assert.Equal(t, 0, bob.Store.UnreadCount(conversationID))
}

func TestCloseConversationStopsDelivery(t *testing.T) {
	srv := startBackend(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")
	conversationID := openShared(t, alice, bob)

	require.NoError(t, bob.CloseConversation(conversationID))

	_, err := alice.SendMessage(context.Background(), conversationID, "into the void", "")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, bob.Store.Messages(conversationID))
}

func TestListConversations(t *testing.T) {
	srv := startBackend(t)
	alice := newTestSession(t, srv, "alice")

	_, err := alice.StartConversation(context.Background(), "bob")
	require.NoError(t, err)

	convs, err := alice.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "bob", convs[0].CounterpartID)
}

func TestLogoutIsTerminal(t *testing.T) {
	srv := startBackend(t)
	alice := newTestSession(t, srv, "alice")
	bob := newTestSession(t, srv, "bob")
	conversationID := openShared(t, alice, bob)

	require.NoError(t, bob.Logout())

	// Alice keeps working after bob leaves.
	_, err := alice.SendMessage(context.Background(), conversationID, "still here", "")
	require.NoError(t, err)

	_, ok := bob.Tokens.Get()
	assert.False(t, ok)
}
