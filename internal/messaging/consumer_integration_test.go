//go:build integration
// +build integration

package messaging_test

import (
	"context"
	"testing"
	"time"

	"friendclub/internal/cache"
	"friendclub/internal/messaging"
	"friendclub/internal/repository/memory"
	"friendclub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayBetweenInstances(t *testing.T) {
	testContainer, cleanup := setupRabbitMQ(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type instance struct {
		rmq    *messaging.RabbitMQ
		cache  *cache.Cache
		fanout *testutil.RecordingBroadcaster
	}

	newInstance := func() *instance {
		rmq, err := messaging.NewRabbitMQ(testContainer.url)
		require.NoError(t, err)
		t.Cleanup(func() { rmq.Close() })

		c, err := cache.New(ctx, memory.NewMessageRepository(), cache.DefaultSize)
		require.NoError(t, err)

		fanout := &testutil.RecordingBroadcaster{}
		consumer := messaging.NewRelayConsumer(rmq, c, fanout)
		go func() {
			if err := consumer.Serve(ctx); err != nil && err != context.Canceled {
				t.Logf("consumer error: %v", err)
			}
		}()
		return &instance{rmq: rmq, cache: c, fanout: fanout}
	}

	a := newInstance()
	b := newInstance()

	// Give consumers time to bind
	time.Sleep(500 * time.Millisecond)

	msg := testutil.NewTestMessage(testutil.WithMessageID("relay-abc"))
	require.NoError(t, a.rmq.Publish(ctx, msg))

	assert.Eventually(t, func() bool {
		return len(b.fanout.CreatedIDs()) == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"relay-abc"}, b.fanout.CreatedIDs())

	count, err := b.cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// the publisher skips its own message
	assert.Empty(t, a.fanout.CreatedIDs())
}
