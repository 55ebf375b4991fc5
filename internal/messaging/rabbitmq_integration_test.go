//go:build integration
// +build integration

package messaging_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"friendclub/internal/messaging"
	"friendclub/internal/testutil"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestRabbitMQContainer manages RabbitMQ container lifecycle for integration tests
type TestRabbitMQContainer struct {
	container testcontainers.Container
	url       string
}

// setupRabbitMQ starts a RabbitMQ container and returns connection URL
func setupRabbitMQ(t *testing.T) (*TestRabbitMQContainer, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.12-management-alpine",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "guest",
			"RABBITMQ_DEFAULT_PASS": "guest",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("Server startup complete"),
			wait.ForListeningPort("5672/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start RabbitMQ container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())

	// Wait for RabbitMQ to be fully ready
	time.Sleep(2 * time.Second)

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return &TestRabbitMQContainer{
		container: container,
		url:       url,
	}, cleanup
}

func TestRabbitMQConnection(t *testing.T) {
	testContainer, cleanup := setupRabbitMQ(t)
	defer cleanup()

	t.Run("successful_connection", func(t *testing.T) {
		rmq, err := messaging.NewRabbitMQ(testContainer.url)
		require.NoError(t, err)
		defer rmq.Close()

		assert.False(t, rmq.IsClosed())
		assert.NoError(t, rmq.Ping(context.Background()))
		assert.NotEmpty(t, rmq.Origin())
	})

	t.Run("invalid_url_fails", func(t *testing.T) {
		_, err := messaging.NewRabbitMQ("amqp://invalid:9999/")
		assert.Error(t, err)
	})

	t.Run("close_connection", func(t *testing.T) {
		rmq, err := messaging.NewRabbitMQ(testContainer.url)
		require.NoError(t, err)

		err = rmq.Close()
		assert.NoError(t, err)
		assert.True(t, rmq.IsClosed())
		assert.Error(t, rmq.Ping(context.Background()))
	})
}

func TestPublishReachesExchange(t *testing.T) {
	testContainer, cleanup := setupRabbitMQ(t)
	defer cleanup()

	rmq, err := messaging.NewRabbitMQ(testContainer.url)
	require.NoError(t, err)
	defer rmq.Close()

	// independent listener bound straight to the exchange
	conn, err := amqp.Dial(testContainer.url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "", messaging.BroadcastExchange, false, nil))
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := testutil.NewTestMessage(testutil.WithMessageID("relay-1"))
	require.NoError(t, rmq.Publish(ctx, msg))

	select {
	case d := <-msgs:
		var env messaging.RelayEnvelope
		require.NoError(t, json.Unmarshal(d.Body, &env))
		assert.Equal(t, rmq.Origin(), env.Origin)
		assert.Equal(t, "relay-1", env.Message.ID)
		assert.Equal(t, msg.Text, env.Message.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for relayed message")
	}
}

func TestPublishReconnectsAfterClose(t *testing.T) {
	testContainer, cleanup := setupRabbitMQ(t)
	defer cleanup()

	rmq, err := messaging.NewRabbitMQ(testContainer.url)
	require.NoError(t, err)
	defer rmq.Close()

	require.NoError(t, rmq.Close())
	require.True(t, rmq.IsClosed())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, rmq.Publish(ctx, testutil.NewTestMessage()))
	assert.False(t, rmq.IsClosed())
}
