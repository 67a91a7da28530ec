package chi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marcelsud/webhook-relay/config"
	"github.com/marcelsud/webhook-relay/forwarder"
	"github.com/marcelsud/webhook-relay/sources"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/memory"
	"github.com/marcelsud/webhook-relay/webhook/signature"
)

const githubSecret = "It's a Secret to Everybody"

func newRelay(t *testing.T) (*memory.Queue, http.Handler) {
	t.Helper()
	loader, err := sources.FromConfig([]config.WebhookSourceConfig{
		{Name: "github", Secret: githubSecret, SignatureHeader: "X-Hub-Signature-256"},
		{Name: "custom"},
	})
	require.NoError(t, err)

	q := memory.New(time.Minute)
	svc := webhook.NewService(loader, q)
	return q, WebhookHandlers(context.Background(), svc, Options{QueueType: "memory"})
}

type capturedRequest struct {
	headers http.Header
	body    []byte
}

func newTarget(t *testing.T, status int) (*httptest.Server, *atomic.Int32, chan capturedRequest) {
	t.Helper()
	var calls atomic.Int32
	got := make(chan capturedRequest, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		got <- capturedRequest{headers: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, got
}

func TestRelayEndToEnd(t *testing.T) {
	ctx := context.Background()

	t.Run("success - open source is accepted, forwarded and deleted once", func(t *testing.T) {
		q, h := newRelay(t)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/custom", strings.NewReader(`{"hello":"world","n":12345678901234567890}`))
		req.Header.Set("X-Request-Id", "abc-1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)
		var res acceptedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.NotEmpty(t, res.MessageID)

		sent := q.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, res.MessageID, sent[0].ID)

		target, calls, got := newTarget(t, http.StatusOK)
		f := forwarder.New(q, forwarder.Config{
			QueueType:     "memory",
			TargetURL:     target.URL,
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
			Timeout:       2 * time.Second,
		}, zap.NewNop(), nil)

		lease, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, lease)

		result := f.Process(ctx, lease)
		assert.Equal(t, forwarder.Delivered, result.Outcome)
		assert.EqualValues(t, 1, calls.Load())

		delivered := <-got
		assert.Equal(t, "custom", delivered.headers.Get(forwarder.HeaderSource))
		assert.Equal(t, res.MessageID, delivered.headers.Get(forwarder.HeaderID))
		assert.Empty(t, delivered.headers.Get(forwarder.HeaderSignature))
		assert.Equal(t, "abc-1", delivered.headers.Get("X-Request-Id"))
		assert.JSONEq(t, `{"hello":"world","n":12345678901234567890}`, string(delivered.body))

		depth, err := q.Depth(ctx)
		require.NoError(t, err)
		assert.Zero(t, depth)

		ok, err := q.Delete(ctx, lease.Receipt)
		require.NoError(t, err)
		assert.False(t, ok, "receipt must not delete twice")
	})

	t.Run("error - bad signature is rejected and nothing is queued", func(t *testing.T) {
		q, h := newRelay(t)

		body := `{"action":"opened"}`
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", signature.Sign("wrong secret", []byte(body)))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, q.Sent())
	})

	t.Run("error - missing signature is a bad request", func(t *testing.T) {
		q, h := newRelay(t)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, q.Sent())
	})

	t.Run("success - signed webhook carries its signature downstream", func(t *testing.T) {
		q, h := newRelay(t)

		body := `{"action":"opened"}`
		sig := signature.Sign(githubSecret, []byte(body))
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
		req.Header.Set("X-Hub-Signature-256", sig)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusAccepted, w.Code)

		target, _, got := newTarget(t, http.StatusOK)
		f := forwarder.New(q, forwarder.Config{
			QueueType:     "memory",
			TargetURL:     target.URL,
			RetryAttempts: 1,
			Timeout:       2 * time.Second,
		}, zap.NewNop(), nil)

		lease, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, lease)
		f.Process(ctx, lease)

		delivered := <-got
		assert.Equal(t, sig, delivered.headers.Get(forwarder.HeaderSignature))
		assert.Equal(t, "github", delivered.headers.Get(forwarder.HeaderSource))
	})

	t.Run("error - failing target leaves the message for redelivery", func(t *testing.T) {
		q, h := newRelay(t)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/custom", strings.NewReader(`{"a":1}`))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusAccepted, w.Code)

		target, calls, _ := newTarget(t, http.StatusInternalServerError)
		f := forwarder.New(q, forwarder.Config{
			QueueType:     "memory",
			TargetURL:     target.URL,
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
			Timeout:       2 * time.Second,
		}, zap.NewNop(), nil)

		lease, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, lease)

		result := f.Process(ctx, lease)
		assert.Equal(t, forwarder.Failed, result.Outcome)
		assert.EqualValues(t, 3, calls.Load())

		depth, err := q.Depth(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, depth)
	})
}
