package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/marcelsud/webhook-relay/webhook"
	"google.golang.org/api/option"
)

/* GCP Pub/Sub implementation of webhook.Queue
 * Uses synchronous Pull of a single message; the ack id is the lease token.
 * The ack deadline of the subscription plays the role of the visibility timeout.
 */

// DefaultPullTimeout bounds how long Receive waits for a message
const DefaultPullTimeout = 5 * time.Second

// Publisher is the subset of the Pub/Sub publisher client used by Queue
type Publisher interface {
	Publish(ctx context.Context, req *pubsubpb.PublishRequest, opts ...gax.CallOption) (*pubsubpb.PublishResponse, error)
	Close() error
}

// Subscriber is the subset of the Pub/Sub subscriber client used by Queue
type Subscriber interface {
	Pull(ctx context.Context, req *pubsubpb.PullRequest, opts ...gax.CallOption) (*pubsubpb.PullResponse, error)
	Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, opts ...gax.CallOption) error
	Close() error
}

// Options configures the Pub/Sub queue
type Options struct {
	ProjectID       string
	TopicID         string
	SubscriptionID  string // Only needed to receive
	CredentialsFile string
	Endpoint        string
	PullTimeout     time.Duration
}

type Queue struct {
	publisher    Publisher
	subscriber   Subscriber
	topic        string
	subscription string
	pullTimeout  time.Duration
}

// NewQueue creates the publisher client and, when a subscription is configured, the subscriber client
func NewQueue(ctx context.Context, opts Options) (*Queue, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	publisher, err := pubsubapi.NewPublisherClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating Pub/Sub publisher: %w", err)
	}

	var subscriber Subscriber
	if opts.SubscriptionID != "" {
		sub, err := pubsubapi.NewSubscriberClient(ctx, clientOpts...)
		if err != nil {
			publisher.Close()
			return nil, fmt.Errorf("creating Pub/Sub subscriber: %w", err)
		}
		subscriber = sub
	}

	q := New(publisher, subscriber, opts)
	return q, nil
}

// New creates a Queue on top of existing clients; subscriber may be nil for publish-only use
func New(publisher Publisher, subscriber Subscriber, opts Options) *Queue {
	timeout := opts.PullTimeout
	if timeout <= 0 {
		timeout = DefaultPullTimeout
	}
	q := &Queue{
		publisher:   publisher,
		subscriber:  subscriber,
		topic:       fmt.Sprintf("projects/%s/topics/%s", opts.ProjectID, opts.TopicID),
		pullTimeout: timeout,
	}
	if opts.SubscriptionID != "" {
		q.subscription = fmt.Sprintf("projects/%s/subscriptions/%s", opts.ProjectID, opts.SubscriptionID)
	}
	return q
}

// Send publishes a new message to the topic
func (q *Queue) Send(ctx context.Context, p webhook.Payload) (string, error) {
	msg := webhook.NewMessage(p)
	data, err := webhook.EncodeMessage(msg)
	if err != nil {
		return "", webhook.PublishError(err)
	}

	_, err = q.publisher.Publish(ctx, &pubsubpb.PublishRequest{
		Topic: q.topic,
		Messages: []*pubsubpb.PubsubMessage{{
			Data:       data,
			Attributes: map[string]string{"message_id": msg.ID},
		}},
	})
	if err != nil {
		return "", webhook.PublishError(fmt.Errorf("publishing to %s: %w", q.topic, err))
	}

	return msg.ID, nil
}

// Receive pulls at most one message from the subscription
func (q *Queue) Receive(ctx context.Context) (*webhook.Lease, error) {
	if q.subscriber == nil {
		return nil, webhook.ReceiveError(errors.New("no subscription configured"))
	}

	pullCtx, cancel := context.WithTimeout(ctx, q.pullTimeout)
	defer cancel()

	resp, err := q.subscriber.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: q.subscription,
		MaxMessages:  1,
	})
	if err != nil {
		// Our own pull deadline expiring just means nothing arrived
		if ctx.Err() == nil && pullCtx.Err() != nil {
			return nil, nil
		}
		return nil, webhook.ReceiveError(fmt.Errorf("pulling from %s: %w", q.subscription, err))
	}
	if len(resp.GetReceivedMessages()) == 0 {
		return nil, nil
	}

	rm := resp.GetReceivedMessages()[0]
	msg, err := webhook.DecodeMessage(rm.GetMessage().GetData())
	if err != nil {
		return nil, webhook.ReceiveError(fmt.Errorf("message %s: %w", rm.GetMessage().GetMessageId(), err))
	}

	// delivery_attempt is only populated when a dead-letter policy is set
	if n := rm.GetDeliveryAttempt(); n > 0 {
		msg.Attempts = int(n)
	} else {
		msg.Attempts++
	}

	return &webhook.Lease{
		Message: msg,
		Receipt: webhook.Receipt{MessageID: msg.ID, Handle: rm.GetAckId()},
	}, nil
}

// Delete acknowledges the message held by the ack id
// Pub/Sub does not report unknown or expired ack ids, so only an empty handle yields false
func (q *Queue) Delete(ctx context.Context, r webhook.Receipt) (bool, error) {
	if r.Handle == "" || q.subscriber == nil {
		return false, nil
	}

	err := q.subscriber.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: q.subscription,
		AckIds:       []string{r.Handle},
	})
	if err != nil {
		return false, fmt.Errorf("acknowledging Pub/Sub message: %w", err)
	}
	return true, nil
}

// Close closes both clients
func (q *Queue) Close() error {
	var errs []error
	if q.publisher != nil {
		errs = append(errs, q.publisher.Close())
	}
	if q.subscriber != nil {
		errs = append(errs, q.subscriber.Close())
	}
	return errors.Join(errs...)
}
