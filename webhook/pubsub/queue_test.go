package pubsub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/payload"
	"github.com/marcelsud/webhook-relay/webhook/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	requests []*pubsubpb.PublishRequest
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, req *pubsubpb.PublishRequest, _ ...gax.CallOption) (*pubsubpb.PublishResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &pubsubpb.PublishResponse{MessageIds: []string{"server-1"}}, nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeSubscriber struct {
	messages []*pubsubpb.ReceivedMessage
	acked    []string
	pullErr  error
	block    bool
}

func (f *fakeSubscriber) Pull(ctx context.Context, req *pubsubpb.PullRequest, _ ...gax.CallOption) (*pubsubpb.PullResponse, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if len(f.messages) == 0 {
		return &pubsubpb.PullResponse{}, nil
	}
	m := f.messages[0]
	f.messages = f.messages[1:]
	return &pubsubpb.PullResponse{ReceivedMessages: []*pubsubpb.ReceivedMessage{m}}, nil
}

func (f *fakeSubscriber) Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, _ ...gax.CallOption) error {
	f.acked = append(f.acked, req.AckIds...)
	return nil
}

func (f *fakeSubscriber) Close() error { return nil }

var opts = pubsub.Options{ProjectID: "proj", TopicID: "relay", SubscriptionID: "relay-forwarder"}

func testPayload(t *testing.T) webhook.Payload {
	t.Helper()
	content, err := payload.Parse([]byte(`{"event":"ping"}`))
	require.NoError(t, err)
	return webhook.NewPayload(webhook.NewMetadata("custom", time.Now(), "", nil), content)
}

func TestQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("success - publish then pull and ack", func(t *testing.T) {
		pub := &fakePublisher{}
		sub := &fakeSubscriber{}
		q := pubsub.New(pub, sub, opts)

		id, err := q.Send(ctx, testPayload(t))
		require.NoError(t, err)
		require.Len(t, pub.requests, 1)
		assert.Equal(t, "projects/proj/topics/relay", pub.requests[0].Topic)
		assert.Equal(t, id, pub.requests[0].Messages[0].Attributes["message_id"])

		sub.messages = append(sub.messages, &pubsubpb.ReceivedMessage{
			AckId:   "ack-1",
			Message: pub.requests[0].Messages[0],
		})

		lease, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, lease)
		assert.Equal(t, id, lease.Message.ID)
		assert.Equal(t, 1, lease.Message.Attempts)
		assert.Equal(t, "ack-1", lease.Receipt.Handle)

		ok, err := q.Delete(ctx, lease.Receipt)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"ack-1"}, sub.acked)
	})

	t.Run("success - delivery attempt from dead-letter policy", func(t *testing.T) {
		pub := &fakePublisher{}
		sub := &fakeSubscriber{}
		q := pubsub.New(pub, sub, opts)

		_, err := q.Send(ctx, testPayload(t))
		require.NoError(t, err)
		sub.messages = append(sub.messages, &pubsubpb.ReceivedMessage{
			AckId:           "ack-2",
			Message:         pub.requests[0].Messages[0],
			DeliveryAttempt: 4,
		})

		lease, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, lease.Message.Attempts)
	})

	t.Run("success - empty pull", func(t *testing.T) {
		q := pubsub.New(&fakePublisher{}, &fakeSubscriber{}, opts)

		lease, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Nil(t, lease)
	})

	t.Run("success - pull timeout is an empty result", func(t *testing.T) {
		o := opts
		o.PullTimeout = 10 * time.Millisecond
		q := pubsub.New(&fakePublisher{}, &fakeSubscriber{block: true}, o)

		lease, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Nil(t, lease)
	})

	t.Run("error - publish failure", func(t *testing.T) {
		q := pubsub.New(&fakePublisher{err: errors.New("permission denied")}, nil, opts)

		_, err := q.Send(ctx, testPayload(t))
		assert.ErrorIs(t, err, webhook.ErrPublish)
	})

	t.Run("error - pull failure", func(t *testing.T) {
		q := pubsub.New(&fakePublisher{}, &fakeSubscriber{pullErr: errors.New("unavailable")}, opts)

		_, err := q.Receive(ctx)
		assert.ErrorIs(t, err, webhook.ErrReceive)
	})

	t.Run("error - publish-only queue cannot receive", func(t *testing.T) {
		q := pubsub.New(&fakePublisher{}, nil, pubsub.Options{ProjectID: "p", TopicID: "t"})

		_, err := q.Receive(ctx)
		assert.ErrorIs(t, err, webhook.ErrReceive)
	})
}
