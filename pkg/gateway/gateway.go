// Package gateway wraps every state-changing request with anti-forgery
// token handling: tokens are attached automatically, a rejected token is
// refreshed and the request retried exactly once.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chatsync/internal/observability"
	"chatsync/pkg/securetoken"
)

// TokenHeader carries the anti-forgery token on mutating requests.
const TokenHeader = "X-CSRF-Token"

// csrfRejectionCode is the payload code the server uses for anti-forgery
// rejections. Any other 403 is a business response and passes through.
const csrfRejectionCode = "EBADCSRFTOKEN"

const (
	defaultTokenAttempts   = 3
	defaultTokenRetryDelay = 500 * time.Millisecond
)

// Gateway performs HTTP calls against the chat backend.
type Gateway struct {
	client          *http.Client
	tokens          *securetoken.Store
	baseURL         string
	headers         map[string]string
	tokenAttempts   int
	tokenRetryDelay time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the HTTP client. The default client carries a
// cookie jar so session credentials accompany every call.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) { g.client = client }
}

// WithHeader attaches a header to every request, e.g. the forwarded
// identity the deployment's auth layer injects.
func WithHeader(key, value string) Option {
	return func(g *Gateway) { g.headers[key] = value }
}

// WithTokenRetry bounds the token acquisition loop.
func WithTokenRetry(attempts int, delay time.Duration) Option {
	return func(g *Gateway) {
		g.tokenAttempts = attempts
		g.tokenRetryDelay = delay
	}
}

// New builds a Gateway for baseURL using tokens for anti-forgery state.
func New(baseURL string, tokens *securetoken.Store, opts ...Option) *Gateway {
	g := &Gateway{
		tokens:          tokens,
		baseURL:         baseURL,
		headers:         make(map[string]string),
		tokenAttempts:   defaultTokenAttempts,
		tokenRetryDelay: defaultTokenRetryDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		jar, _ := cookiejar.New(nil)
		g.client = &http.Client{Jar: jar}
	}
	return g
}

// Client exposes the underlying HTTP client so the token store and the
// gateway share one cookie jar.
func (g *Gateway) Client() *http.Client { return g.client }

// Get performs an unguarded read and decodes a 2xx JSON body into out.
// Non-2xx responses surface as *StatusError with the body preserved.
func (g *Gateway) Get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for key, value := range g.headers {
		req.Header.Set(key, value)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	observability.IncGatewayRequest(http.MethodGet, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Send performs a token-guarded mutation. The optional token overrides
// the store-resolved one. On an anti-forgery rejection the token is
// refreshed and the request retried exactly once; a second rejection is
// terminal. Any other non-2xx response is returned unmodified for the
// caller to interpret.
func (g *Gateway) Send(ctx context.Context, method, path string, body any, optionalToken ...string) (*http.Response, error) {
	ctx, span := otel.Tracer("chatsync/gateway").Start(ctx, "gateway.send")
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	token := ""
	if len(optionalToken) > 0 && optionalToken[0] != "" {
		token = optionalToken[0]
	} else {
		var err error
		token, err = g.resolveToken(ctx)
		if err != nil {
			return nil, err
		}
	}

	resp, err := g.execute(ctx, method, path, payload, token)
	if err != nil {
		return nil, err
	}

	rejected, err := g.isCSRFRejection(resp)
	if err != nil {
		return nil, err
	}
	if !rejected {
		return resp, nil
	}

	// Single refresh-and-retry. Never loop.
	g.tokens.Invalidate()
	observability.IncCSRFRetry()
	token, err = g.tokens.Refresh(ctx)
	if err != nil {
		return nil, &TokenError{Attempts: 1, Err: err}
	}

	resp, err = g.execute(ctx, method, path, payload, token)
	if err != nil {
		return nil, err
	}
	rejected, err = g.isCSRFRejection(resp)
	if err != nil {
		return nil, err
	}
	if rejected {
		resp.Body.Close()
		return nil, &CSRFError{Attempts: 2}
	}
	return resp, nil
}

// SendJSON performs Send and decodes a 2xx JSON body into out. Non-2xx
// responses surface as *StatusError carrying the business payload.
func (g *Gateway) SendJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := g.Send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: raw}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// resolveToken returns the READY token or refreshes with bounded retry.
func (g *Gateway) resolveToken(ctx context.Context) (string, error) {
	if token, ok := g.tokens.Get(); ok {
		return token, nil
	}

	var token string
	operation := func() error {
		var err error
		token, err = g.tokens.Refresh(ctx)
		if err != nil {
			observability.IncTokenRefresh("error")
			return err
		}
		observability.IncTokenRefresh("ok")
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.tokenRetryDelay), uint64(g.tokenAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", &TokenError{Attempts: g.tokenAttempts, Err: err}
	}
	return token, nil
}

func (g *Gateway) execute(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range g.headers {
		req.Header.Set(key, value)
	}
	req.Header.Set(TokenHeader, token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	observability.IncGatewayRequest(method, resp.StatusCode)
	return resp, nil
}

// isCSRFRejection checks for the recognizable anti-forgery payload. When
// the response is a plain 403 the body is restored for passthrough.
func (g *Gateway) isCSRFRejection(resp *http.Response) (bool, error) {
	if resp.StatusCode != http.StatusForbidden {
		return false, nil
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return false, &NetworkError{Err: err}
	}

	var payload struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Code == csrfRejectionCode {
		return true, nil
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return false, nil
}
