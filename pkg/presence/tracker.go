// Package presence tracks ephemeral counterpart state: short-lived typing
// indicators and online/offline flags.
//
// Presence events carry no timestamp, so ordering cannot be recovered for
// them; the tracker applies last-write-wins and a late OFFLINE after a
// newer ONLINE is accepted as-is.
package presence

import (
	"sync"
	"time"
)

// DefaultTypingTTL is the quiet period after which a typing indicator
// clears when no refresh event arrives.
const DefaultTypingTTL = 3 * time.Second

type typingKey struct {
	conversationID string
	actorID        string
}

// Tracker holds typing and online state keyed by counterpart identity.
type Tracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	typing map[typingKey]time.Time
	online map[string]bool
	timers map[typingKey]*time.Timer

	onChange func()
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTypingTTL overrides the typing quiet period.
func WithTypingTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.ttl = ttl }
}

// WithClock injects the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithChangeListener registers a callback fired after every state change,
// including timer-driven typing expiry.
func WithChangeListener(fn func()) Option {
	return func(t *Tracker) { t.onChange = fn }
}

// NewTracker builds an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		ttl:    DefaultTypingTTL,
		now:    time.Now,
		typing: make(map[typingKey]time.Time),
		online: make(map[string]bool),
		timers: make(map[typingKey]*time.Timer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetTyping marks the actor as typing in the conversation until the TTL
// elapses without a refresh.
func (t *Tracker) SetTyping(conversationID, actorID string) {
	key := typingKey{conversationID: conversationID, actorID: actorID}

	t.mu.Lock()
	t.typing[key] = t.now().Add(t.ttl)
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
	}
	t.timers[key] = time.AfterFunc(t.ttl, func() { t.expireTyping(key) })
	t.mu.Unlock()

	t.notify()
}

// ClearTyping removes a typing indicator immediately (typing:stop).
func (t *Tracker) ClearTyping(conversationID, actorID string) {
	key := typingKey{conversationID: conversationID, actorID: actorID}

	t.mu.Lock()
	delete(t.typing, key)
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()

	t.notify()
}

func (t *Tracker) expireTyping(key typingKey) {
	t.mu.Lock()
	expiresAt, ok := t.typing[key]
	// A refresh may have landed after this timer was scheduled.
	if !ok || t.now().Before(expiresAt) {
		t.mu.Unlock()
		return
	}
	delete(t.typing, key)
	delete(t.timers, key)
	t.mu.Unlock()

	t.notify()
}

// IsTyping reports whether the actor has a live typing indicator.
func (t *Tracker) IsTyping(conversationID, actorID string) bool {
	key := typingKey{conversationID: conversationID, actorID: actorID}

	t.mu.Lock()
	defer t.mu.Unlock()
	expiresAt, ok := t.typing[key]
	if !ok {
		return false
	}
	return t.now().Before(expiresAt)
}

// SetOnline marks the actor online, replacing prior state.
func (t *Tracker) SetOnline(actorID string) {
	t.mu.Lock()
	t.online[actorID] = true
	t.mu.Unlock()
	t.notify()
}

// SetOffline marks the actor offline, replacing prior state.
func (t *Tracker) SetOffline(actorID string) {
	t.mu.Lock()
	t.online[actorID] = false
	t.mu.Unlock()
	t.notify()
}

// IsOnline reports the last known online state for the actor.
func (t *Tracker) IsOnline(actorID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[actorID]
}

// Reset drops all tracked state. Called on logout.
func (t *Tracker) Reset() {
	t.mu.Lock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
	t.typing = make(map[typingKey]time.Time)
	t.online = make(map[string]bool)
	t.mu.Unlock()
}

func (t *Tracker) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}
