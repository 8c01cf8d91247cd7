package apigw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandler перехватывает запросы к /cached и принимает сообщения с токеном "secret"
type stubHandler struct {
	mu       sync.Mutex
	messages []Message
}

func (h *stubHandler) Intercept(req *Request) *Response {
	switch req.URL.Path {
	case "/cached":
		return &Response{
			StatusCode: http.StatusOK,
			Headers:    http.Header{"Content-Type": []string{"text/plain"}, "Connection": []string{"close"}},
			Body:       io.NopCloser(strings.NewReader("from cache")),
			Source:     SourceCache,
		}
	case "/broken":
		return &Response{Source: SourceNetwork, Error: errors.New("connection refused")}
	default:
		return nil
	}
}

func (h *stubHandler) Message(req *Request, msg Message) error {
	if req.Headers.Get("Authorization") != "Bearer secret" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	if msg.Type != "SKIP_WAITING" && msg.Type != "CLEAR_CACHE" {
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	return nil
}

// stubUpstream отвечает телом "network:<путь>" или ошибкой
type stubUpstream struct {
	err error
}

func (u *stubUpstream) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if u.err != nil {
		return nil, u.err
	}
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("network:" + req.URL.Path)),
		Source:     SourceNetwork,
	}, nil
}

func newTestGateway(t *testing.T, upstream Upstream) (*Gateway, *stubHandler) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Origin = "http://app.local"
	handler := &stubHandler{}
	gw, err := New(cfg, handler, upstream)
	require.NoError(t, err)
	return gw, handler
}

func serve(gw *Gateway, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, r)
	return rr
}

func TestGateway_InterceptedResponse(t *testing.T) {
	gw, _ := newTestGateway(t, &stubUpstream{})

	rr := serve(gw, httptest.NewRequest(http.MethodGet, "/cached", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "from cache", rr.Body.String())
	assert.Equal(t, "cache", rr.Header().Get("X-Shellproxy-Source"))
	assert.Empty(t, rr.Header().Get("Connection"), "hop-by-hop headers must not be forwarded")
}

func TestGateway_PassThrough(t *testing.T) {
	gw, _ := newTestGateway(t, &stubUpstream{})

	rr := serve(gw, httptest.NewRequest(http.MethodPost, "/api/workouts", strings.NewReader("{}")))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "network:/api/workouts", rr.Body.String())
	assert.Equal(t, "network", rr.Header().Get("X-Shellproxy-Source"))
}

func TestGateway_NetworkErrorIsBadGateway(t *testing.T) {
	t.Run("pass-through", func(t *testing.T) {
		gw, _ := newTestGateway(t, &stubUpstream{err: errors.New("dial tcp: connection refused")})

		rr := serve(gw, httptest.NewRequest(http.MethodGet, "/anything", nil))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Contains(t, rr.Body.String(), "connection refused")
	})

	t.Run("strategy result", func(t *testing.T) {
		gw, _ := newTestGateway(t, &stubUpstream{})

		rr := serve(gw, httptest.NewRequest(http.MethodGet, "/broken", nil))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})
}

func TestGateway_Message(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		token    string
		body     string
		expected int
	}{
		{name: "accepted", method: http.MethodPost, token: "secret", body: `{"type":"SKIP_WAITING"}`, expected: http.StatusAccepted},
		{name: "clear cache", method: http.MethodPost, token: "secret", body: `{"type":"CLEAR_CACHE"}`, expected: http.StatusAccepted},
		{name: "unauthorized", method: http.MethodPost, token: "wrong", body: `{"type":"SKIP_WAITING"}`, expected: http.StatusUnauthorized},
		{name: "unknown type", method: http.MethodPost, token: "secret", body: `{"type":"RELOAD"}`, expected: http.StatusBadRequest},
		{name: "invalid json", method: http.MethodPost, token: "secret", body: `not json`, expected: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, token: "secret", expected: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, handler := newTestGateway(t, &stubUpstream{})
			r := httptest.NewRequest(tt.method, "/__shellproxy/message", strings.NewReader(tt.body))
			r.Header.Set("Authorization", "Bearer "+tt.token)

			rr := serve(gw, r)

			assert.Equal(t, tt.expected, rr.Code)
			if tt.expected == http.StatusAccepted {
				assert.Empty(t, rr.Body.String(), "accepted messages carry no reply")
				require.Len(t, handler.messages, 1)
			} else {
				assert.Empty(t, handler.messages)
			}
		})
	}
}

func TestNew_InvalidOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Origin = "app.local"

	_, err := New(cfg, &stubHandler{}, &stubUpstream{})
	assert.Error(t, err)
}
