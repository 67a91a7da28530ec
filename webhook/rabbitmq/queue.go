package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
	amqp "github.com/rabbitmq/amqp091-go"
)

/* RabbitMQ implementation of webhook.Queue
 * Receive uses basic.get with manual acknowledgement; the delivery tag is the lease token.
 * RabbitMQ has no visibility timeout, so unacknowledged deliveries older than the
 * configured timeout are requeued (basic.nack, requeue=true) on the next Receive.
 */

// DefaultVisibilityTimeout is used when Options does not set one
const DefaultVisibilityTimeout = 30 * time.Second

// Channel is the subset of *amqp.Channel used by Queue
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	IsClosed() bool
	Close() error
}

// Options configures the RabbitMQ queue
type Options struct {
	URL               string
	Queue             string
	VisibilityTimeout time.Duration
}

type lease struct {
	tag       uint64
	messageID string
	expires   time.Time
}

type Queue struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         Channel
	queue      string
	visibility time.Duration
	leases     map[string]lease // receipt handle -> outstanding delivery

	// Now is the clock used for lease expiry
	Now func() time.Time
}

// NewQueue dials RabbitMQ, opens a channel and declares the durable queue
func NewQueue(ctx context.Context, opts Options) (*Queue, error) {
	conn, err := amqp.DialConfig(opts.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": "webhook-relay",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if _, err := ch.QueueDeclare(opts.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", opts.Queue, err)
	}

	q := New(ch, opts)
	q.conn = conn
	return q, nil
}

// New creates a Queue on an already opened channel
func New(ch Channel, opts Options) *Queue {
	visibility := opts.VisibilityTimeout
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &Queue{
		ch:         ch,
		queue:      opts.Queue,
		visibility: visibility,
		leases:     make(map[string]lease),
		Now:        time.Now,
	}
}

// Send publishes a persistent message to the queue through the default exchange
func (q *Queue) Send(ctx context.Context, p webhook.Payload) (string, error) {
	msg := webhook.NewMessage(p)
	data, err := webhook.EncodeMessage(msg)
	if err != nil {
		return "", webhook.PublishError(err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ch.IsClosed() {
		return "", webhook.PublishError(errors.New("RabbitMQ channel is closed"))
	}

	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.CreatedAt,
		Body:         data,
	})
	if err != nil {
		return "", webhook.PublishError(fmt.Errorf("publishing message: %w", err))
	}

	return msg.ID, nil
}

// Receive gets at most one message, first returning expired leases to the queue
func (q *Queue) Receive(ctx context.Context) (*webhook.Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ch.IsClosed() {
		return nil, webhook.ReceiveError(errors.New("RabbitMQ channel is closed"))
	}

	if err := q.requeueExpired(); err != nil {
		return nil, webhook.ReceiveError(err)
	}

	d, ok, err := q.ch.Get(q.queue, false)
	if err != nil {
		return nil, webhook.ReceiveError(fmt.Errorf("getting message: %w", err))
	}
	if !ok {
		return nil, nil
	}

	msg, err := webhook.DecodeMessage(d.Body)
	if err != nil {
		// Undecodable bodies would come back forever; hand them to the dead-letter exchange, if any
		if nackErr := q.ch.Nack(d.DeliveryTag, false, false); nackErr != nil {
			err = errors.Join(err, nackErr)
		}
		return nil, webhook.ReceiveError(fmt.Errorf("delivery %d: %w", d.DeliveryTag, err))
	}
	msg.Attempts = deliveryCount(d)

	handle := strconv.FormatUint(d.DeliveryTag, 10)
	q.leases[handle] = lease{
		tag:       d.DeliveryTag,
		messageID: msg.ID,
		expires:   q.Now().Add(q.visibility),
	}

	return &webhook.Lease{
		Message: msg,
		Receipt: webhook.Receipt{MessageID: msg.ID, Handle: handle},
	}, nil
}

func (q *Queue) requeueExpired() error {
	now := q.Now()
	for handle, l := range q.leases {
		if now.Before(l.expires) {
			continue
		}
		if err := q.ch.Nack(l.tag, false, true); err != nil {
			return fmt.Errorf("requeueing delivery %d: %w", l.tag, err)
		}
		delete(q.leases, handle)
	}
	return nil
}

// deliveryCount prefers the quorum queue x-delivery-count header, which counts earlier deliveries
func deliveryCount(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

// Delete acknowledges an outstanding delivery
// Unknown or requeued receipts return false; acking them would close the channel
func (q *Queue) Delete(ctx context.Context, r webhook.Receipt) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.leases[r.Handle]
	if !ok || l.messageID != r.MessageID {
		return false, nil
	}

	if err := q.ch.Ack(l.tag, false); err != nil {
		return false, fmt.Errorf("acknowledging delivery %d: %w", l.tag, err)
	}
	delete(q.leases, r.Handle)
	return true, nil
}

// Depth returns the ready messages reported by the broker plus the ones leased here
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	info, err := q.ch.QueueDeclarePassive(q.queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspecting queue %s: %w", q.queue, err)
	}
	return int64(info.Messages + len(q.leases)), nil
}

// Close closes the channel and connection; outstanding deliveries are requeued by the broker
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var errs []error
	if !q.ch.IsClosed() {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil && !q.conn.IsClosed() {
		errs = append(errs, q.conn.Close())
	}
	return errors.Join(errs...)
}
