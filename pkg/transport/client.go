// Package transport maintains the push channel: one websocket connection
// per session, room membership per conversation, and typed subscriptions
// for message, typing and presence events.
package transport

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chatsync/internal/observability"
	"chatsync/pkg/wire"
)

// Client owns the push-channel connection. One Client (and therefore one
// physical connection) exists per user session; conversations map to
// logical rooms on top of it.
type Client struct {
	endpoint string
	dialer   *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	identity string
	closed   bool
	pump     int // generation counter so a superseded read pump exits
	rooms    map[string]string

	writeMu sync.Mutex

	handlerMu         sync.Mutex
	nextHandler       int
	messageHandlers   map[int]func(wire.Message)
	typingHandlers    map[int]func(wire.TypingEvent)
	presenceHandlers  map[int]func(wire.PresenceEvent)
	reconnectHandlers map[int]func()
}

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

// NewClient builds a Client for the ws endpoint (e.g. ws://host/ws).
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:          endpoint,
		dialer:            websocket.DefaultDialer,
		rooms:             make(map[string]string),
		messageHandlers:   make(map[int]func(wire.Message)),
		typingHandlers:    make(map[int]func(wire.TypingEvent)),
		presenceHandlers:  make(map[int]func(wire.PresenceEvent)),
		reconnectHandlers: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the push channel for the identity. Idempotent: a
// second call with the same identity reuses the live connection. A call
// with a different identity tears the old connection down first.
func (c *Client) Connect(ctx context.Context, identity string) error {
	ctx, span := otel.Tracer("chatsync/transport").Start(ctx, "transport.connect")
	defer span.End()
	span.SetAttributes(attribute.String("chat.identity", identity))

	c.mu.Lock()
	if c.conn != nil && c.identity == identity && !c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.conn != nil {
		// Invalidate the old pump before its read fails, or it would
		// treat the close as a dropped connection and race a reconnect
		// against this dial.
		c.pump++
		c.conn.Close()
		c.conn = nil
	}
	c.closed = false
	c.identity = identity
	c.mu.Unlock()

	conn, err := c.dial(ctx, identity)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.pump++
	generation := c.pump
	c.mu.Unlock()

	observability.IncWSEvent("connect")
	go c.readPump(conn, generation)
	return nil
}

func (c *Client) dial(ctx context.Context, identity string) (*websocket.Conn, error) {
	target := c.endpoint + "?actor_id=" + url.QueryEscape(identity)
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}
	return conn, nil
}

// JoinRoom subscribes the connection to a conversation's events. The
// membership is remembered so it survives reconnects.
func (c *Client) JoinRoom(conversationID, actorID string) error {
	c.mu.Lock()
	c.rooms[conversationID] = actorID
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("join room %s: not connected", conversationID)
	}
	return c.writeFrame(conn, wire.Frame{
		Action:         wire.ActionJoin,
		ConversationID: conversationID,
		ActorID:        actorID,
	})
}

// LeaveRoom unsubscribes from a conversation. Events for it stop being
// delivered and the room is not re-joined after a reconnect.
func (c *Client) LeaveRoom(conversationID string) error {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.writeFrame(conn, wire.Frame{
		Action:         wire.ActionLeave,
		ConversationID: conversationID,
	})
}

// SendTyping notifies the room that the local user started or stopped
// typing.
func (c *Client) SendTyping(conversationID string, typing bool) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("typing notification: not connected")
	}
	action := wire.ActionTypingStart
	if !typing {
		action = wire.ActionTypingStop
	}
	return c.writeFrame(conn, wire.Frame{Action: action, ConversationID: conversationID})
}

// OnMessage registers a handler for pushed messages. Each handler is
// invoked at most once per physical event. The returned function
// unsubscribes.
func (c *Client) OnMessage(fn func(wire.Message)) func() {
	c.handlerMu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.messageHandlers[id] = fn
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		delete(c.messageHandlers, id)
		c.handlerMu.Unlock()
	}
}

// OnTyping registers a handler for typing changes.
func (c *Client) OnTyping(fn func(wire.TypingEvent)) func() {
	c.handlerMu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.typingHandlers[id] = fn
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		delete(c.typingHandlers, id)
		c.handlerMu.Unlock()
	}
}

// OnPresence registers a handler for presence changes.
func (c *Client) OnPresence(fn func(wire.PresenceEvent)) func() {
	c.handlerMu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.presenceHandlers[id] = fn
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		delete(c.presenceHandlers, id)
		c.handlerMu.Unlock()
	}
}

// OnReconnect registers a handler fired after the channel is
// re-established and rooms re-joined. Consumers re-hydrate from REST
// here to cover the delivery gap.
func (c *Client) OnReconnect(fn func()) func() {
	c.handlerMu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.reconnectHandlers[id] = fn
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		delete(c.reconnectHandlers, id)
		c.handlerMu.Unlock()
	}
}

// Close shuts the push channel down. Called on logout or app teardown.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// readPump drains the connection and dispatches events sequentially, so
// handlers never run concurrently with each other.
func (c *Client) readPump(conn *websocket.Conn, generation int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := c.pump != generation
			closed := c.closed
			c.mu.Unlock()
			if stale || closed {
				return
			}
			observability.IncWSEvent("disconnect")
			c.reconnect()
			return
		}

		event, err := wire.DecodeEvent(data)
		if err != nil {
			log.Printf("transport: dropping malformed event: %v", err)
			continue
		}
		c.dispatch(event)
	}
}

func (c *Client) dispatch(event wire.Event) {
	observability.IncWSEvent(event.Type)

	switch event.Type {
	case wire.EventMessageNew:
		if event.Message == nil {
			return
		}
		msg := *event.Message
		if msg.ConversationID == "" {
			msg.ConversationID = event.ConversationID
		}
		for _, fn := range c.snapshotMessageHandlers() {
			fn(msg)
		}
	case wire.EventTypingStart, wire.EventTypingStop:
		evt := wire.TypingEvent{
			ConversationID: event.ConversationID,
			ActorID:        event.ActorID,
			Typing:         event.Type == wire.EventTypingStart,
		}
		for _, fn := range c.snapshotTypingHandlers() {
			fn(evt)
		}
	case wire.EventPresenceOnline, wire.EventPresenceOffline:
		evt := wire.PresenceEvent{
			ActorID: event.ActorID,
			Online:  event.Type == wire.EventPresenceOnline,
		}
		for _, fn := range c.snapshotPresenceHandlers() {
			fn(evt)
		}
	default:
		log.Printf("transport: ignoring unknown event type %q", event.Type)
	}
}

// reconnect re-dials with exponential backoff, re-joins every active
// room and then notifies reconnect subscribers.
func (c *Client) reconnect() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0 // keep trying until Close

	var conn *websocket.Conn
	operation := func() error {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return backoff.Permanent(fmt.Errorf("client closed"))
		}
		identity := c.identity
		c.mu.Unlock()

		var err error
		conn, err = c.dial(context.Background(), identity)
		return err
	}
	if err := backoff.Retry(operation, policy); err != nil {
		log.Printf("transport: reconnect abandoned: %v", err)
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.pump++
	generation := c.pump
	rooms := make(map[string]string, len(c.rooms))
	for conversationID, actorID := range c.rooms {
		rooms[conversationID] = actorID
	}
	c.mu.Unlock()

	observability.IncWSReconnect()
	go c.readPump(conn, generation)

	for conversationID, actorID := range rooms {
		if err := c.writeFrame(conn, wire.Frame{
			Action:         wire.ActionJoin,
			ConversationID: conversationID,
			ActorID:        actorID,
		}); err != nil {
			log.Printf("transport: re-join room %s failed: %v", conversationID, err)
		}
	}

	c.handlerMu.Lock()
	handlers := make([]func(), 0, len(c.reconnectHandlers))
	for _, fn := range c.reconnectHandlers {
		handlers = append(handlers, fn)
	}
	c.handlerMu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, frame wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func (c *Client) snapshotMessageHandlers() []func(wire.Message) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(wire.Message), 0, len(c.messageHandlers))
	for _, fn := range c.messageHandlers {
		out = append(out, fn)
	}
	return out
}

func (c *Client) snapshotTypingHandlers() []func(wire.TypingEvent) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(wire.TypingEvent), 0, len(c.typingHandlers))
	for _, fn := range c.typingHandlers {
		out = append(out, fn)
	}
	return out
}

func (c *Client) snapshotPresenceHandlers() []func(wire.PresenceEvent) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(wire.PresenceEvent), 0, len(c.presenceHandlers))
	for _, fn := range c.presenceHandlers {
		out = append(out, fn)
	}
	return out
}
