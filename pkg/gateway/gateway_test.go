package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/securetoken"
)

// fakeBackend scripts the token endpoint and one mutating endpoint.
type fakeBackend struct {
	mux         *http.ServeMux
	server      *httptest.Server
	tokenCalls  int32
	postCalls   int32
	tokenSeq    int32
	handlePost  func(w http.ResponseWriter, r *http.Request, postCall int32)
	tokenStatus int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{mux: http.NewServeMux(), tokenStatus: http.StatusOK}
	b.mux.HandleFunc("/security-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.tokenCalls, 1)
		if b.tokenStatus != http.StatusOK {
			w.WriteHeader(b.tokenStatus)
			return
		}
		n := atomic.AddInt32(&b.tokenSeq, 1)
		json.NewEncoder(w).Encode(map[string]string{"token": token(n)})
	})
	b.mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&b.postCalls, 1)
		b.handlePost(w, r, call)
	})
	b.server = httptest.NewServer(b.mux)
	t.Cleanup(b.server.Close)
	return b
}

func token(n int32) string {
	return "tok" + string(rune('0'+n))
}

func (b *fakeBackend) gateway(opts ...Option) *Gateway {
	tokens := securetoken.NewStore(b.server.URL + "/security-token")
	return New(b.server.URL, tokens, opts...)
}

func writeCSRFRejection(w http.ResponseWriter) {
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "invalid csrf token",
		"code":  "EBADCSRFTOKEN",
	})
}

func TestSendAttachesTokenAndSucceeds(t *testing.T) {
	backend := newFakeBackend(t)
	backend.handlePost = func(w http.ResponseWriter, r *http.Request, _ int32) {
		assert.Equal(t, "tok1", r.Header.Get(TokenHeader))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "m1"})
	}

	gw := backend.gateway()
	var out map[string]string
	err := gw.SendJSON(context.Background(), http.MethodPost, "/messages", map[string]string{"content": "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "m1", out["id"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.tokenCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.postCalls))
}

func TestSendRefreshesAndRetriesOnRejection(t *testing.T) {
	backend := newFakeBackend(t)
	backend.handlePost = func(w http.ResponseWriter, r *http.Request, call int32) {
		if call == 1 {
			writeCSRFRejection(w)
			return
		}
		assert.Equal(t, "tok2", r.Header.Get(TokenHeader))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "m2"})
	}

	gw := backend.gateway()
	var out map[string]string
	err := gw.SendJSON(context.Background(), http.MethodPost, "/messages", map[string]string{"content": "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "m2", out["id"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&backend.postCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&backend.tokenCalls))
}

func TestSendRetriesExactlyOnce(t *testing.T) {
	backend := newFakeBackend(t)
	backend.handlePost = func(w http.ResponseWriter, r *http.Request, _ int32) {
		writeCSRFRejection(w)
	}

	gw := backend.gateway()
	_, err := gw.Send(context.Background(), http.MethodPost, "/messages", map[string]string{"content": "hi"})
	require.Error(t, err)

	var csrfErr *CSRFError
	require.ErrorAs(t, err, &csrfErr)
	assert.Equal(t, 2, csrfErr.Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&backend.postCalls))
}

func TestSendPassesBusinessErrorThrough(t *testing.T) {
	backend := newFakeBackend(t)
	backend.handlePost = func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "content too long"})
	}

	gw := backend.gateway()
	err := gw.SendJSON(context.Background(), http.MethodPost, "/messages", map[string]string{"content": "hi"}, nil)
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	assert.Contains(t, string(statusErr.Body), "content too long")
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.postCalls))
}

func TestSendPassesPlainForbiddenThrough(t *testing.T) {
	backend := newFakeBackend(t)
	backend.handlePost = func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "not a conversation member"})
	}

	gw := backend.gateway()
	err := gw.SendJSON(context.Background(), http.MethodPost, "/messages", map[string]string{"content": "hi"}, nil)
	require.Error(t, err)

	// A 403 without the anti-forgery code is a business response, not a
	// token problem: no retry happens.
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Contains(t, string(statusErr.Body), "not a conversation member")
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.postCalls))
}

func TestSendNetworkErrorIsTyped(t *testing.T) {
	backend := newFakeBackend(t)
	backend.handlePost = func(w http.ResponseWriter, r *http.Request, _ int32) {}

	gw := backend.gateway()
	// Warm the token, then kill the server so the mutation itself fails.
	_, err := gw.Send(context.Background(), http.MethodPost, "/messages", nil)
	require.NoError(t, err)
	backend.server.Close()

	_, err = gw.Send(context.Background(), http.MethodPost, "/messages", nil)
	require.Error(t, err)

	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestSendTokenUnavailableAfterBoundedRetries(t *testing.T) {
	backend := newFakeBackend(t)
	backend.tokenStatus = http.StatusInternalServerError
	backend.handlePost = func(w http.ResponseWriter, r *http.Request, _ int32) {}

	gw := backend.gateway(WithTokenRetry(3, time.Millisecond))
	_, err := gw.Send(context.Background(), http.MethodPost, "/messages", nil)
	require.Error(t, err)

	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, 3, tokenErr.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&backend.tokenCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.postCalls))
}

func TestSendReusesReadyToken(t *testing.T) {
	backend := newFakeBackend(t)
	backend.handlePost = func(w http.ResponseWriter, r *http.Request, _ int32) {
		w.WriteHeader(http.StatusCreated)
	}

	gw := backend.gateway()
	for i := 0; i < 3; i++ {
		resp, err := gw.Send(context.Background(), http.MethodPost, "/messages", nil)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.tokenCalls))
}

func TestGetDecodesAndReportsStatusErrors(t *testing.T) {
	backend := newFakeBackend(t)
	backend.mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"value": "ok"})
	})
	backend.mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
	})

	gw := backend.gateway()
	var out map[string]string
	require.NoError(t, gw.Get(context.Background(), "/page", &out))
	assert.Equal(t, "ok", out["value"])

	err := gw.Get(context.Background(), "/missing", &out)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}
