package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/segmentio/kafka-go"
)

/* Kafka implementation of webhook.Queue
 * Kafka only tracks a committed offset per partition, so leases are kept locally:
 * fetched messages stay pending until deleted, are served again once their lease
 * expires, and an offset is committed only when every earlier message of its
 * partition has been deleted. Pending leases do not survive a restart or a
 * rebalance; the uncommitted messages are then fetched again from the broker.
 */

const (
	DefaultVisibilityTimeout = 30 * time.Second
	defaultFetchTimeout      = time.Second
)

// Writer is the subset of *kafka.Writer used by Queue
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reader is the subset of *kafka.Reader used by Queue
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configures the Kafka queue
type Options struct {
	Brokers []string
	Topic   string
	// GroupID enables consuming; publish-only queues leave it empty
	GroupID           string
	VisibilityTimeout time.Duration
	FetchTimeout      time.Duration
}

type pending struct {
	raw      kafka.Message
	msg      webhook.Message
	handle   string
	expires  time.Time
	deleted  bool
	attempts int
}

type Queue struct {
	writer Writer
	reader Reader

	mu           sync.Mutex
	pending      map[int][]*pending // partition -> fetched messages ordered by offset
	visibility   time.Duration
	fetchTimeout time.Duration

	// Now is the clock used for lease expiry
	Now func() time.Time
}

// NewQueue creates the writer and, when a group id is configured, the consumer group reader
func NewQueue(opts Options) (*Queue, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka queue requires at least one broker")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka queue requires a topic")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}

	var reader Reader
	if opts.GroupID != "" {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  opts.Brokers,
			GroupID:  opts.GroupID,
			Topic:    opts.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		})
	}

	return New(writer, reader, opts), nil
}

// New creates a Queue from an existing writer and reader; reader may be nil
func New(writer Writer, reader Reader, opts Options) *Queue {
	q := &Queue{
		writer:       writer,
		reader:       reader,
		pending:      make(map[int][]*pending),
		visibility:   opts.VisibilityTimeout,
		fetchTimeout: opts.FetchTimeout,
		Now:          time.Now,
	}
	if q.visibility <= 0 {
		q.visibility = DefaultVisibilityTimeout
	}
	if q.fetchTimeout <= 0 {
		q.fetchTimeout = defaultFetchTimeout
	}
	return q
}

// Send writes a new message, keyed by source so each source stays on one partition
func (q *Queue) Send(ctx context.Context, p webhook.Payload) (string, error) {
	msg := webhook.NewMessage(p)
	data, err := webhook.EncodeMessage(msg)
	if err != nil {
		return "", webhook.PublishError(err)
	}

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.Metadata().Source()),
		Value: data,
		Time:  msg.CreatedAt,
	})
	if err != nil {
		return "", webhook.PublishError(fmt.Errorf("writing message: %w", err))
	}

	return msg.ID, nil
}

// Receive serves an expired pending message first, otherwise fetches the next one
func (q *Queue) Receive(ctx context.Context) (*webhook.Lease, error) {
	if q.reader == nil {
		return nil, webhook.ReceiveError(errors.New("no consumer group configured"))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if p := q.expiredLocked(); p != nil {
		return q.leaseLocked(p), nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, q.fetchTimeout)
	defer cancel()

	raw, err := q.reader.FetchMessage(fetchCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			// No message arrived within the fetch window
			return nil, nil
		}
		return nil, webhook.ReceiveError(fmt.Errorf("fetching message: %w", err))
	}

	p := &pending{raw: raw}
	q.pending[raw.Partition] = append(q.pending[raw.Partition], p)

	msg, err := webhook.DecodeMessage(raw.Value)
	if err != nil {
		// Kafka has no dead-letter queue: skip the record so later offsets can commit
		p.deleted = true
		if commitErr := q.commitLocked(ctx, raw.Partition); commitErr != nil {
			err = errors.Join(err, commitErr)
		}
		return nil, webhook.ReceiveError(fmt.Errorf("offset %d/%d: %w", raw.Partition, raw.Offset, err))
	}

	p.msg = msg
	p.attempts = msg.Attempts
	return q.leaseLocked(p), nil
}

func (q *Queue) expiredLocked() *pending {
	now := q.Now()
	partitions := make([]int, 0, len(q.pending))
	for partition := range q.pending {
		partitions = append(partitions, partition)
	}
	sort.Ints(partitions)

	for _, partition := range partitions {
		for _, p := range q.pending[partition] {
			if !p.deleted && !now.Before(p.expires) {
				return p
			}
		}
	}
	return nil
}

func (q *Queue) leaseLocked(p *pending) *webhook.Lease {
	p.attempts++
	p.expires = q.Now().Add(q.visibility)
	p.handle = fmt.Sprintf("%s:%d:%d:%d", p.raw.Topic, p.raw.Partition, p.raw.Offset, p.attempts)

	msg := p.msg
	msg.Attempts = p.attempts
	return &webhook.Lease{
		Message: msg,
		Receipt: webhook.Receipt{MessageID: msg.ID, Handle: p.handle},
	}
}

// Delete marks the leased message done and commits every finished offset at the head of its partition
func (q *Queue) Delete(ctx context.Context, r webhook.Receipt) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for partition, list := range q.pending {
		for _, p := range list {
			if p.deleted || p.handle != r.Handle || p.msg.ID != r.MessageID {
				continue
			}
			p.deleted = true
			if err := q.commitLocked(ctx, partition); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (q *Queue) commitLocked(ctx context.Context, partition int) error {
	list := q.pending[partition]
	n := 0
	for n < len(list) && list[n].deleted {
		n++
	}
	if n == 0 {
		return nil
	}

	if err := q.reader.CommitMessages(ctx, list[n-1].raw); err != nil {
		return fmt.Errorf("committing offset %d/%d: %w", partition, list[n-1].raw.Offset, err)
	}

	if n == len(list) {
		delete(q.pending, partition)
	} else {
		q.pending[partition] = list[n:]
	}
	return nil
}

// Close closes the writer and reader
func (q *Queue) Close() error {
	var errs []error
	if q.writer != nil {
		errs = append(errs, q.writer.Close())
	}
	if q.reader != nil {
		errs = append(errs, q.reader.Close())
	}
	return errors.Join(errs...)
}
