// Package securetoken holds the anti-forgery token guarding mutating
// requests. The store is process-wide: every gateway caller shares one
// instance so concurrent refreshes collapse into a single request.
package securetoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// State describes the freshness of the held token.
type State int

const (
	StateUnset State = iota
	StateFetching
	StateReady
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnset:
		return "unset"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ErrUnavailable is returned when a token could not be obtained within the
// acquisition deadline.
var ErrUnavailable = errors.New("security token unavailable")

const defaultAcquireTimeout = 10 * time.Second

// Store fetches and caches the anti-forgery token.
type Store struct {
	client         *http.Client
	endpoint       string
	acquireTimeout time.Duration

	mu      sync.Mutex
	state   State
	token   string
	waiters []chan result
}

type result struct {
	token string
	err   error
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient overrides the HTTP client used for token fetches. The
// client should carry the session cookie jar.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) { s.client = client }
}

// WithAcquireTimeout bounds the wall-clock time a single refresh may take.
func WithAcquireTimeout(d time.Duration) Option {
	return func(s *Store) { s.acquireTimeout = d }
}

// NewStore builds a Store fetching tokens from endpoint.
func NewStore(endpoint string, opts ...Option) *Store {
	s := &Store{
		client:         http.DefaultClient,
		endpoint:       endpoint,
		acquireTimeout: defaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current token when it is READY.
func (s *Store) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return "", false
	}
	return s.token, true
}

// State reports the current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Invalidate marks the held token as rejected by the server. The next
// caller triggers a refresh.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		s.state = StateInvalid
	}
}

// Clear drops all token state. Called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateUnset
	s.token = ""
}

// Refresh obtains a fresh token from the endpoint. Concurrent callers
// coalesce into a single in-flight request and all receive the same
// token or the same error.
func (s *Store) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state == StateFetching {
		ch := make(chan result, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()
		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.state = StateFetching
	s.mu.Unlock()

	token, err := s.fetch(ctx)

	s.mu.Lock()
	if err != nil {
		// A token that was READY before this refresh is stale now; the
		// failed fetch leaves the store needing another attempt.
		s.state = StateInvalid
		if s.token == "" {
			s.state = StateUnset
		}
	} else {
		s.state = StateReady
		s.token = token
	}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- result{token: token, err: err}
	}
	return token, err
}

func (s *Store) fetch(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.Token == "" {
		return "", errors.New("token endpoint returned empty token")
	}
	return payload.Token, nil
}
