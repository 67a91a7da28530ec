package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/memory"
	"github.com/marcelsud/webhook-relay/webhook/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(t *testing.T, body string) webhook.Payload {
	t.Helper()
	content, err := payload.Parse([]byte(body))
	require.NoError(t, err)
	return webhook.NewPayload(webhook.NewMetadata("custom", time.Now(), "", nil), content)
}

func TestQueue_SendReceiveDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("success - full lifecycle", func(t *testing.T) {
		q := memory.New(time.Minute)

		id, err := q.Send(ctx, testPayload(t, `{"a":1}`))
		require.NoError(t, err)

		lease, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, lease)
		assert.Equal(t, id, lease.Message.ID)
		assert.Equal(t, id, lease.Receipt.MessageID)
		assert.Equal(t, 1, lease.Message.Attempts)

		body, err := lease.Message.Payload.Content().Bytes()
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(body))

		ok, err := q.Delete(ctx, lease.Receipt)
		require.NoError(t, err)
		assert.True(t, ok)

		depth, err := q.Depth(ctx)
		require.NoError(t, err)
		assert.Zero(t, depth)
	})

	t.Run("success - empty queue returns nil", func(t *testing.T) {
		q := memory.New(time.Minute)

		lease, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Nil(t, lease)
	})

	t.Run("success - leased message is hidden until visibility expires", func(t *testing.T) {
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		q := memory.New(30 * time.Second)
		q.Now = func() time.Time { return now }

		_, err := q.Send(ctx, testPayload(t, `{}`))
		require.NoError(t, err)

		first, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, first)

		hidden, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Nil(t, hidden)

		now = now.Add(31 * time.Second)
		second, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, first.Message.ID, second.Message.ID)
		assert.Equal(t, 2, second.Message.Attempts)

		// The first lease is no longer valid
		ok, err := q.Delete(ctx, first.Receipt)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = q.Delete(ctx, second.Receipt)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("success - delete unknown receipt returns false", func(t *testing.T) {
		q := memory.New(time.Minute)

		ok, err := q.Delete(ctx, webhook.Receipt{MessageID: "missing", Handle: "x"})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("success - delete twice returns false the second time", func(t *testing.T) {
		q := memory.New(time.Minute)
		_, err := q.Send(ctx, testPayload(t, `{}`))
		require.NoError(t, err)

		lease, err := q.Receive(ctx)
		require.NoError(t, err)

		ok, err := q.Delete(ctx, lease.Receipt)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = q.Delete(ctx, lease.Receipt)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("success - messages are received in send order", func(t *testing.T) {
		q := memory.New(time.Minute)
		first, _ := q.Send(ctx, testPayload(t, `{"n":1}`))
		second, _ := q.Send(ctx, testPayload(t, `{"n":2}`))

		l1, err := q.Receive(ctx)
		require.NoError(t, err)
		l2, err := q.Receive(ctx)
		require.NoError(t, err)

		assert.Equal(t, first, l1.Message.ID)
		assert.Equal(t, second, l2.Message.ID)
	})
}

func TestQueue_Sent(t *testing.T) {
	ctx := context.Background()
	q := memory.New(time.Minute)

	p := testPayload(t, `{"same":true}`)
	id1, err := q.Send(ctx, p)
	require.NoError(t, err)
	id2, err := q.Send(ctx, p)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)

	sent := q.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, id1, sent[0].ID)
	assert.Equal(t, id2, sent[1].ID)
	assert.Equal(t, p.Content(), sent[0].Payload.Content())
}

func TestQueue_ConcurrentSend(t *testing.T) {
	ctx := context.Background()
	q := memory.New(time.Minute)

	p := testPayload(t, `{}`)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Send(ctx, p)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), depth)
	assert.Len(t, q.Sent(), 50)
}

func TestQueue_Closed(t *testing.T) {
	ctx := context.Background()
	q := memory.New(time.Minute)
	require.NoError(t, q.Close())

	_, err := q.Send(ctx, testPayload(t, `{}`))
	assert.ErrorIs(t, err, webhook.ErrPublish)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, webhook.ErrReceive)
}
