package forwarder

import (
	"net/http"

	"github.com/marcelsud/webhook-relay/webhook"
)

// Headers added by the relay to every forwarded request
const (
	HeaderSource    = "X-Webhook-Relay-Source"
	HeaderID        = "X-Webhook-Relay-ID"
	HeaderSignature = "X-Webhook-Relay-Signature"
)

// Hop-by-hop and transport headers that must not be replayed downstream
var skipHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Connection":        true,
	"Transfer-Encoding": true,
	"Keep-Alive":        true,
	"Upgrade":           true,
	"Te":                true,
	"Trailer":           true,
	"Proxy-Connection":  true,
	"Accept-Encoding":   true,
}

/* BuildHeaders assembles the outbound request headers
 * Precedence: configured headers win over inbound ones (compared case-insensitively),
 * and the relay headers overwrite both. Content-Type defaults to application/json.
 */
func BuildHeaders(configured map[string]string, msg webhook.Message) http.Header {
	h := make(http.Header, len(configured)+8)
	for k, v := range configured {
		h.Set(k, v)
	}

	md := msg.Payload.Metadata()
	for k, v := range md.Headers() {
		key := http.CanonicalHeaderKey(k)
		if skipHeaders[key] {
			continue
		}
		if _, ok := h[key]; ok {
			continue
		}
		h.Set(key, v)
	}

	h.Set(HeaderSource, md.Source())
	h.Set(HeaderID, msg.ID)
	if sig, ok := md.Signature(); ok {
		h.Set(HeaderSignature, sig)
	}

	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	return h
}
