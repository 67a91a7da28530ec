package forwarder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/payload"
)

func newMessage(id, source, signature string, headers map[string]string) webhook.Message {
	md := webhook.NewMetadata(source, time.Now(), signature, headers)
	return webhook.Message{
		ID:        id,
		Payload:   webhook.NewPayload(md, payload.Content{"event": "push"}),
		CreatedAt: time.Now(),
	}
}

func TestBuildHeaders(t *testing.T) {
	t.Run("success - configured headers win over inbound ones", func(t *testing.T) {
		msg := newMessage("m1", "github", "", map[string]string{
			"authorization":  "Bearer inbound",
			"X-Github-Event": "push",
		})
		h := BuildHeaders(map[string]string{"Authorization": "Bearer configured"}, msg)

		assert.Equal(t, []string{"Bearer configured"}, h.Values("Authorization"))
		assert.Equal(t, "push", h.Get("X-GitHub-Event"))
	})

	t.Run("success - relay headers overwrite everything", func(t *testing.T) {
		msg := newMessage("m2", "stripe", "sha256=abc", map[string]string{
			HeaderSource: "spoofed",
			HeaderID:     "spoofed",
		})
		h := BuildHeaders(map[string]string{HeaderSource: "configured"}, msg)

		assert.Equal(t, "stripe", h.Get(HeaderSource))
		assert.Equal(t, "m2", h.Get(HeaderID))
		assert.Equal(t, "sha256=abc", h.Get(HeaderSignature))
	})

	t.Run("success - no signature header without a signature", func(t *testing.T) {
		h := BuildHeaders(nil, newMessage("m3", "custom", "", nil))
		_, ok := h[HeaderSignature]
		assert.False(t, ok)
	})

	t.Run("success - hop-by-hop headers are dropped", func(t *testing.T) {
		msg := newMessage("m4", "custom", "", map[string]string{
			"Host":              "relay.example.com",
			"Content-Length":    "42",
			"Connection":        "keep-alive",
			"Transfer-Encoding": "chunked",
			"Accept-Encoding":   "gzip",
			"User-Agent":        "GitHub-Hookshot/abc",
		})
		h := BuildHeaders(nil, msg)

		for _, k := range []string{"Host", "Content-Length", "Connection", "Transfer-Encoding", "Accept-Encoding"} {
			assert.Empty(t, h.Get(k), k)
		}
		assert.Equal(t, "GitHub-Hookshot/abc", h.Get("User-Agent"))
	})

	t.Run("success - content type defaults to JSON", func(t *testing.T) {
		h := BuildHeaders(nil, newMessage("m5", "custom", "", nil))
		assert.Equal(t, "application/json", h.Get("Content-Type"))

		h = BuildHeaders(map[string]string{"content-type": "application/vnd.api+json"}, newMessage("m6", "custom", "", nil))
		assert.Equal(t, "application/vnd.api+json", h.Get("Content-Type"))
	})
}

func TestTargetLabel(t *testing.T) {
	assert.Equal(t, "example.com/hooks", TargetLabel("https://example.com/hooks"))
	assert.Equal(t, "localhost:9000", TargetLabel("http://localhost:9000"))
	assert.Equal(t, "not a url", TargetLabel("not a url"))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "abandoned", Abandoned.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
