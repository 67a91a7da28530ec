package webhook

import (
	"maps"
	"time"

	"github.com/marcelsud/webhook-relay/webhook/payload"
)

/* Metadata describes where and how a webhook was received
 * Uses value semantics as it represents data, not behavior
 */
type Metadata struct {
	source     string
	receivedAt time.Time
	signature  string
	headers    map[string]string
}

// NewMetadata creates metadata for a webhook received from source.
// An empty signature means the request carried none.
func NewMetadata(source string, receivedAt time.Time, signature string, headers map[string]string) Metadata {
	return Metadata{
		source:     source,
		receivedAt: receivedAt.UTC(),
		signature:  signature,
		headers:    maps.Clone(headers),
	}
}

// Source returns the configured source name
func (m Metadata) Source() string { return m.source }

// ReceivedAt returns the ingestion timestamp
func (m Metadata) ReceivedAt() time.Time { return m.receivedAt }

// Signature returns the inbound signature and whether one was present
func (m Metadata) Signature() (string, bool) { return m.signature, m.signature != "" }

// Headers returns a copy of the original request headers
func (m Metadata) Headers() map[string]string {
	if m.headers == nil {
		return map[string]string{}
	}
	return maps.Clone(m.headers)
}

/* Payload is the unit the Collector enqueues: metadata plus the parsed JSON body
 * The content is deep-copied on the way in and on the way out so a Payload never changes
 */
type Payload struct {
	metadata Metadata
	content  payload.Content
}

// NewPayload wraps content with its metadata
func NewPayload(metadata Metadata, content payload.Content) Payload {
	return Payload{
		metadata: metadata,
		content:  content.Clone(),
	}
}

// Metadata returns the payload metadata
func (p Payload) Metadata() Metadata { return p.metadata }

// Content returns a copy of the JSON content
func (p Payload) Content() payload.Content { return p.content.Clone() }

/* Message is the queue envelope around a Payload
 * ID is generated once at enqueue time and never changes across redeliveries
 */
type Message struct {
	ID        string
	Payload   Payload
	CreatedAt time.Time
	// Attempts is set by the queue backend on every receive
	Attempts int
}

// Receipt is the lease token handed out by Receive and required by Delete.
// Handle is opaque and only meaningful to the backend that issued it.
type Receipt struct {
	MessageID string
	Handle    string
}

// Lease pairs a received message with the receipt needed to delete it
type Lease struct {
	Message Message
	Receipt Receipt
}
