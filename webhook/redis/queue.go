package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/redis/go-redis/v9"
)

/* Redis Streams implementation of webhook.Queue
 * Messages are appended with XADD and leased through a consumer group:
 * XREADGROUP hands out new entries, XAUTOCLAIM takes over entries whose lease
 * (idle time) exceeded the visibility timeout, XACK + XDEL remove them.
 * The delivery counter kept in the pending entries list is the attempt count.
 */

const (
	fieldID      = "id"      // Message ID, duplicated for inspection with redis-cli
	fieldMessage = "message" // Encoded wire message

	defaultStream     = "webhook-relay"
	defaultGroup      = "webhook-relay-forwarders"
	defaultVisibility = 30 * time.Second

	// Negative Block omits the BLOCK argument so XREADGROUP returns immediately
	noBlock = -1
)

// Options configures the Redis queue
type Options struct {
	Addr              string
	Password          string
	DB                int
	Stream            string
	Group             string
	Consumer          string
	VisibilityTimeout time.Duration
}

type Queue struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	visibility time.Duration
}

// NewQueue connects to Redis and makes sure the stream and consumer group exist
func NewQueue(ctx context.Context, opts Options) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	q := &Queue{
		client:     client,
		stream:     valueOr(opts.Stream, defaultStream),
		group:      valueOr(opts.Group, defaultGroup),
		consumer:   valueOr(opts.Consumer, defaultConsumer()),
		visibility: opts.VisibilityTimeout,
	}
	if q.visibility <= 0 {
		q.visibility = defaultVisibility
	}

	if err := q.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// Send appends a new message to the stream
func (q *Queue) Send(ctx context.Context, p webhook.Payload) (string, error) {
	msg := webhook.NewMessage(p)
	data, err := webhook.EncodeMessage(msg)
	if err != nil {
		return "", webhook.PublishError(err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			fieldID:      msg.ID,
			fieldMessage: string(data),
		},
	}).Err()
	if err != nil {
		return "", webhook.PublishError(fmt.Errorf("adding to stream: %w", err))
	}

	return msg.ID, nil
}

// Receive leases one message, preferring entries whose previous lease expired
func (q *Queue) Receive(ctx context.Context) (*webhook.Lease, error) {
	entry, err := q.claimExpired(ctx)
	if err != nil {
		return nil, webhook.ReceiveError(err)
	}

	if entry == nil {
		entry, err = q.readNew(ctx)
		if err != nil {
			return nil, webhook.ReceiveError(err)
		}
	}

	if entry == nil {
		return nil, nil
	}

	return q.toLease(ctx, *entry)
}

func (q *Queue) claimExpired(ctx context.Context) (*redis.XMessage, error) {
	messages, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.visibility,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claiming expired entries: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

func (q *Queue) readNew(ctx context.Context) (*redis.XMessage, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    noBlock,
	}).Result()
	if errors.Is(err, redis.Nil) {
		// No messages available
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return &streams[0].Messages[0], nil
}

func (q *Queue) toLease(ctx context.Context, entry redis.XMessage) (*webhook.Lease, error) {
	raw, ok := entry.Values[fieldMessage].(string)
	if !ok {
		return nil, webhook.ReceiveError(fmt.Errorf("stream entry %s has no message field", entry.ID))
	}

	msg, err := webhook.DecodeMessage([]byte(raw))
	if err != nil {
		return nil, webhook.ReceiveError(fmt.Errorf("stream entry %s: %w", entry.ID, err))
	}

	attempts, err := q.deliveryCount(ctx, entry.ID)
	if err != nil {
		return nil, webhook.ReceiveError(err)
	}
	msg.Attempts = attempts

	return &webhook.Lease{
		Message: msg,
		Receipt: webhook.Receipt{MessageID: msg.ID, Handle: entry.ID},
	}, nil
}

func (q *Queue) deliveryCount(ctx context.Context, entryID string) (int, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("reading pending entry: %w", err)
	}
	if len(pending) == 0 {
		return 1, nil
	}
	return int(pending[0].RetryCount), nil
}

// Delete acknowledges and removes the stream entry named by the receipt
func (q *Queue) Delete(ctx context.Context, r webhook.Receipt) (bool, error) {
	if r.Handle == "" {
		return false, nil
	}

	var ack *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ack = pipe.XAck(ctx, q.stream, q.group, r.Handle)
		pipe.XDel(ctx, q.stream, r.Handle)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("acknowledging message: %w", err)
	}

	return ack.Val() > 0, nil
}

// Depth returns the number of entries in the stream, leased or not
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("reading stream length: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection
func (q *Queue) Close() error {
	return q.client.Close()
}

// Client returns the underlying Redis client for advanced operations
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Consumer returns the consumer name used in the group
func (q *Queue) Consumer() string {
	return q.consumer
}

// Helper functions

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultConsumer() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "forwarder-" + uuid.New().String()
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
