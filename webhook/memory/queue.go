package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/webhook"
)

/* In-process implementation of webhook.Queue
 * Mirrors the visibility-timeout model of hosted queues: a received message stays
 * in the queue, hidden, until it is deleted or its lease expires.
 * Every sent message is also kept in a send history for inspection.
 */

// ErrClosed is returned by operations on a closed queue
var ErrClosed = errors.New("memory queue closed")

// DefaultVisibilityTimeout is used when New receives a non-positive timeout
const DefaultVisibilityTimeout = 30 * time.Second

type entry struct {
	id             string
	data           []byte
	attempts       int
	handle         string
	invisibleUntil time.Time
}

type Queue struct {
	mu         sync.Mutex
	visibility time.Duration
	entries    []*entry
	sent       []webhook.Message
	closed     bool

	// Now is the clock used for lease expiry
	Now func() time.Time
}

// New creates an empty in-memory queue
func New(visibility time.Duration) *Queue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &Queue{
		visibility: visibility,
		Now:        time.Now,
	}
}

// Send enqueues a new message wrapping p
func (q *Queue) Send(ctx context.Context, p webhook.Payload) (string, error) {
	msg := webhook.NewMessage(p)
	data, err := webhook.EncodeMessage(msg)
	if err != nil {
		return "", webhook.PublishError(err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", webhook.PublishError(ErrClosed)
	}

	q.entries = append(q.entries, &entry{id: msg.ID, data: data})
	q.sent = append(q.sent, msg)
	return msg.ID, nil
}

// Receive leases the oldest visible message
func (q *Queue) Receive(ctx context.Context) (*webhook.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, webhook.ReceiveError(err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, webhook.ReceiveError(ErrClosed)
	}

	now := q.Now()
	for _, e := range q.entries {
		if now.Before(e.invisibleUntil) {
			continue
		}

		msg, err := webhook.DecodeMessage(e.data)
		if err != nil {
			return nil, webhook.ReceiveError(err)
		}

		e.attempts++
		e.handle = uuid.New().String()
		e.invisibleUntil = now.Add(q.visibility)

		msg.Attempts = e.attempts
		return &webhook.Lease{
			Message: msg,
			Receipt: webhook.Receipt{MessageID: e.id, Handle: e.handle},
		}, nil
	}

	return nil, nil
}

// Delete removes the message held by r; stale or unknown receipts return false
func (q *Queue) Delete(ctx context.Context, r webhook.Receipt) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrClosed
	}

	for i, e := range q.entries {
		if e.id != r.MessageID {
			continue
		}
		if e.handle == "" || e.handle != r.Handle {
			return false, nil
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return true, nil
	}
	return false, nil
}

// Depth returns the number of messages still in the queue, leased or not
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// Sent returns every message accepted by Send, in order
func (q *Queue) Sent() []webhook.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]webhook.Message, len(q.sent))
	copy(out, q.sent)
	return out
}

// Close stops the queue; pending messages are dropped
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
