package gateway

import "fmt"

// TokenError means no anti-forgery token could be obtained within the
// bounded retry budget. Terminal; the user must reload the page/session.
type TokenError struct {
	Attempts int
	Err      error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// CSRFError means the server rejected the anti-forgery token and the
// single refresh-and-retry also failed. Terminal and distinguishable
// from a plain network failure.
type CSRFError struct {
	Attempts int
}

func (e *CSRFError) Error() string {
	return fmt.Sprintf("request rejected by anti-forgery check after %d attempts", e.Attempts)
}

// NetworkError wraps a transport-level failure (connection refused,
// timeout). Recoverable; the caller may retry.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError reports a well-formed non-2xx response from a read helper.
// The body is preserved so callers can interpret the business payload.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
