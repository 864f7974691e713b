// Package session is the composition root the dashboard screens use.
// One Session exists per logged-in user; it owns the process-wide token
// store and push connection and wires pushed events into the
// conversation store and presence tracker.
//
// The same Session serves the customer, designer and tailor dashboards;
// they differ only in the self identity handed to New and the
// counterpart role label rendered by the view.
package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"chatsync/pkg/convstore"
	"chatsync/pkg/gateway"
	"chatsync/pkg/presence"
	"chatsync/pkg/securetoken"
	"chatsync/pkg/transport"
	"chatsync/pkg/wire"
)

// Session bundles the synchronization components for one user.
type Session struct {
	selfID string

	Tokens    *securetoken.Store
	Gateway   *gateway.Gateway
	Transport *transport.Client
	Store     *convstore.Store
	Presence  *presence.Tracker

	unsubscribes []func()
}

// New wires a Session from configuration. The HTTP client is shared
// between the token store and the gateway so session cookies travel with
// both.
func New(cfg Config, selfID string) *Session {
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}

	tokens := securetoken.NewStore(cfg.BaseURL+cfg.TokenPath,
		securetoken.WithHTTPClient(client),
		securetoken.WithAcquireTimeout(cfg.TokenTimeout),
	)
	gw := gateway.New(cfg.BaseURL, tokens,
		gateway.WithHTTPClient(client),
		gateway.WithHeader("X-Actor-Id", selfID),
		gateway.WithTokenRetry(cfg.TokenAttempts, cfg.TokenRetryDelay),
	)
	tc := transport.NewClient(cfg.WSURL)
	store := convstore.NewStore(gw, selfID, convstore.WithPageLimit(cfg.PageLimit))
	tracker := presence.NewTracker(presence.WithTypingTTL(cfg.TypingTTL))

	s := &Session{
		selfID:    selfID,
		Tokens:    tokens,
		Gateway:   gw,
		Transport: tc,
		Store:     store,
		Presence:  tracker,
	}

	s.unsubscribes = append(s.unsubscribes,
		tc.OnMessage(store.IngestPushed),
		tc.OnTyping(func(evt wire.TypingEvent) {
			if evt.Typing {
				tracker.SetTyping(evt.ConversationID, evt.ActorID)
			} else {
				tracker.ClearTyping(evt.ConversationID, evt.ActorID)
			}
		}),
		tc.OnPresence(func(evt wire.PresenceEvent) {
			if evt.Online {
				tracker.SetOnline(evt.ActorID)
			} else {
				tracker.SetOffline(evt.ActorID)
			}
		}),
		tc.OnReconnect(func() {
			store.RehydrateActive(context.Background())
		}),
	)

	return s
}

// Connect opens the push channel. Idempotent.
func (s *Session) Connect(ctx context.Context) error {
	return s.Transport.Connect(ctx, s.selfID)
}

// OpenConversation starts syncing a conversation: joins its room and
// hydrates the history.
func (s *Session) OpenConversation(ctx context.Context, conversationID, counterpartID string) error {
	s.Store.Activate(conversationID, counterpartID)
	if err := s.Transport.JoinRoom(conversationID, s.selfID); err != nil {
		return err
	}
	return s.Store.Hydrate(ctx, conversationID)
}

// CloseConversation stops syncing: leaves the room so unrelated events
// are no longer delivered, and guards the store against stragglers.
func (s *Session) CloseConversation(conversationID string) error {
	err := s.Transport.LeaveRoom(conversationID)
	s.Store.Deactivate(conversationID)
	return err
}

// SendMessage posts a message through the token-guarded gateway. The
// view shows a provisional entry while the request is in flight; on
// success it is reconciled to the server-confirmed identity, so the
// echoed push (if the backend delivers one) deduplicates away.
func (s *Session) SendMessage(ctx context.Context, conversationID, content, imageURL string) (wire.Message, error) {
	draft := wire.Message{
		Content:   content,
		ImageURL:  imageURL,
		CreatedAt: time.Now(),
	}
	localID := s.Store.AppendOptimistic(conversationID, draft)

	body := map[string]string{}
	if content != "" {
		body["content"] = content
	}
	if imageURL != "" {
		body["imageUrl"] = imageURL
	}

	var confirmed wire.Message
	path := fmt.Sprintf("/conversations/%s/messages", conversationID)
	if err := s.Gateway.SendJSON(ctx, http.MethodPost, path, body, &confirmed); err != nil {
		s.Store.Discard(conversationID, localID)
		return wire.Message{}, err
	}

	s.Store.Confirm(conversationID, localID, confirmed)
	return confirmed, nil
}

// SendTyping announces local typing state to the room. Best-effort.
func (s *Session) SendTyping(conversationID string, typing bool) error {
	return s.Transport.SendTyping(conversationID, typing)
}

// MarkRead flips read state locally and notifies the server best-effort.
func (s *Session) MarkRead(ctx context.Context, conversationID string, messageIDs []string) {
	s.Store.MarkRead(ctx, conversationID, messageIDs)
}

// ListConversations fetches the caller's threads.
func (s *Session) ListConversations(ctx context.Context) ([]wire.Conversation, error) {
	var resp struct {
		Conversations []wire.Conversation `json:"conversations"`
	}
	if err := s.Gateway.Get(ctx, "/conversations", &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// StartConversation creates or fetches the thread with a counterpart.
func (s *Session) StartConversation(ctx context.Context, counterpartID string) (string, error) {
	var resp struct {
		ConversationID string `json:"conversationId"`
	}
	body := map[string]string{"counterpartId": counterpartID}
	if err := s.Gateway.SendJSON(ctx, http.MethodPost, "/conversations/start", body, &resp); err != nil {
		return "", err
	}
	return resp.ConversationID, nil
}

// Logout tears the session down: handlers unsubscribe, token state
// clears, ephemeral presence resets and the push connection closes.
func (s *Session) Logout() error {
	for _, unsubscribe := range s.unsubscribes {
		unsubscribe()
	}
	s.unsubscribes = nil
	s.Tokens.Clear()
	s.Presence.Reset()
	return s.Transport.Close()
}
