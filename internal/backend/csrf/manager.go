// Package csrf issues and validates the rotating anti-forgery tokens
// required on every state-changing request.
package csrf

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultTTL = time.Hour

// Manager holds the set of currently valid tokens.
type Manager struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tokens: make(map[string]time.Time),
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue mints a fresh token.
func (m *Manager) Issue() string {
	token := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()
	m.tokens[token] = m.now().Add(m.ttl)
	return token
}

// Valid reports whether the token was issued here and has not expired.
func (m *Manager) Valid(token string) bool {
	if token == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	expiresAt, ok := m.tokens[token]
	if !ok {
		return false
	}
	if m.now().After(expiresAt) {
		delete(m.tokens, token)
		return false
	}
	return true
}

// Revoke removes a token, forcing clients to refresh.
func (m *Manager) Revoke(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
}

// prune drops expired tokens. Caller holds the lock.
func (m *Manager) prune() {
	now := m.now()
	for token, expiresAt := range m.tokens {
		if now.After(expiresAt) {
			delete(m.tokens, token)
		}
	}
}
