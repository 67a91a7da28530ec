package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/webhook/payload"
)

/* Wire format DTOs
 * Separate from the domain types so the JSON layout shared with every queue backend
 * is stated in one place and the domain types can stay immutable
 */

type wireMessage struct {
	ID        string      `json:"id"`
	Payload   wirePayload `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
	Attempts  int         `json:"attempts"`
}

type wirePayload struct {
	Metadata wireMetadata    `json:"metadata"`
	Content  payload.Content `json:"content"`
}

type wireMetadata struct {
	Source     string            `json:"source"`
	ReceivedAt time.Time         `json:"received_at"`
	Signature  *string           `json:"signature"`
	Headers    map[string]string `json:"headers"`
}

// NewMessage wraps a payload in a fresh envelope with a newly generated ID
func NewMessage(p Payload) Message {
	return Message{
		ID:        uuid.New().String(),
		Payload:   p,
		CreatedAt: time.Now().UTC(),
		Attempts:  0,
	}
}

// EncodeMessage serializes a message into the backend-agnostic wire format
func EncodeMessage(m Message) ([]byte, error) {
	md := m.Payload.Metadata()

	var sig *string
	if s, ok := md.Signature(); ok {
		sig = &s
	}

	content := m.Payload.content
	if content == nil {
		content = payload.Content{}
	}

	w := wireMessage{
		ID: m.ID,
		Payload: wirePayload{
			Metadata: wireMetadata{
				Source:     md.Source(),
				ReceivedAt: md.ReceivedAt(),
				Signature:  sig,
				Headers:    md.Headers(),
			},
			Content: content,
		},
		CreatedAt: m.CreatedAt.UTC(),
		Attempts:  m.Attempts,
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses the wire format back into a Message
func DecodeMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return Message{}, fmt.Errorf("unmarshaling message: %w", err)
	}
	if w.ID == "" {
		return Message{}, fmt.Errorf("unmarshaling message: missing id")
	}

	sig := ""
	if w.Payload.Metadata.Signature != nil {
		sig = *w.Payload.Metadata.Signature
	}

	md := NewMetadata(
		w.Payload.Metadata.Source,
		w.Payload.Metadata.ReceivedAt,
		sig,
		w.Payload.Metadata.Headers,
	)

	content := w.Payload.Content
	if content == nil {
		content = payload.Content{}
	}

	return Message{
		ID:        w.ID,
		Payload:   Payload{metadata: md, content: content},
		CreatedAt: w.CreatedAt.UTC(),
		Attempts:  w.Attempts,
	}, nil
}
