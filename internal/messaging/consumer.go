package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"friendclub/internal/domain"
	"friendclub/internal/observability"

	"github.com/goccy/go-json"
)

// Cache is where relayed messages land.
type Cache interface {
	Upsert(ctx context.Context, message *domain.ChatMessage) error
}

// Broadcaster delivers relayed messages to local viewers.
type Broadcaster interface {
	BroadcastCreate(message *domain.ChatMessage)
}

// RelayConsumer applies messages published by peer instances.
type RelayConsumer struct {
	rmq    *RabbitMQ
	origin string
	cache  Cache
	fanout Broadcaster
}

func NewRelayConsumer(rmq *RabbitMQ, cache Cache, fanout Broadcaster) *RelayConsumer {
	return &RelayConsumer{
		rmq:    rmq,
		origin: rmq.Origin(),
		cache:  cache,
		fanout: fanout,
	}
}

// Serve consumes until ctx ends or the broker channel closes; a supervisor
// restarts it in the latter case.
func (c *RelayConsumer) Serve(ctx context.Context) error {
	ch, err := c.rmq.ensureOpen()
	if err != nil {
		return err
	}

	queue, err := ch.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare relay queue: %w", err)
	}

	if err := ch.QueueBind(
		queue.Name,        // queue name
		"",                // routing key
		BroadcastExchange, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind relay queue: %w", err)
	}

	msgs, err := ch.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("failed to register relay consumer: %w", err)
	}

	slog.Info("started consuming relay messages",
		slog.String("queue", queue.Name),
		slog.String("exchange", BroadcastExchange))

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping relay consumer")
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("relay consumer channel closed")
			}
			c.handle(ctx, msg.Body)
		}
	}
}

func (c *RelayConsumer) String() string {
	return "relay-consumer"
}

func (c *RelayConsumer) handle(ctx context.Context, body []byte) {
	var env RelayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		slog.Error("error unmarshaling relay message",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(body)))
		return
	}
	if env.Origin == c.origin {
		return
	}
	if env.Message == nil || env.Message.ID == "" {
		slog.Warn("relay message without id", slog.String("origin", env.Origin))
		return
	}

	if err := c.cache.Upsert(ctx, env.Message); err != nil {
		slog.Error("failed to cache relayed message",
			slog.String("error", err.Error()),
			slog.String("id", env.Message.ID))
		return
	}

	c.fanout.BroadcastCreate(env.Message)
	observability.RelayMessagesTotal.WithLabelValues("in").Inc()
}
