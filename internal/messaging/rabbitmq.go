package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"friendclub/internal/domain"
	"friendclub/internal/observability"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// BroadcastExchange carries viewer self-submissions between instances.
const BroadcastExchange = "friendclub.broadcasts"

// RelayEnvelope is the body published to BroadcastExchange.
type RelayEnvelope struct {
	Origin    string              `json:"origin"`
	Message   *domain.ChatMessage `json:"message"`
	Timestamp int64               `json:"timestamp"`
}

type RabbitMQ struct {
	url    string
	origin string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitMQ connects and declares the broadcast exchange. Each instance
// gets a random origin id so it can skip its own publications.
func NewRabbitMQ(url string) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		url:    url,
		origin: uuid.NewString(),
	}

	if err := rmq.connect(); err != nil {
		return nil, err
	}
	return rmq, nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := setup(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	r.conn = conn
	r.channel = ch
	return nil
}

func setup(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		BroadcastExchange, // name
		"fanout",          // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		return fmt.Errorf("failed to declare broadcast exchange: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// ensureOpen redials after the broker dropped the connection.
func (r *RabbitMQ) ensureOpen() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() && r.channel != nil && !r.channel.IsClosed() {
		return r.channel, nil
	}
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}

	slog.Info("reconnecting to rabbitmq")
	if err := r.connect(); err != nil {
		return nil, err
	}
	return r.channel, nil
}

// Origin is this instance's relay id.
func (r *RabbitMQ) Origin() string {
	return r.origin
}

// Publish relays a locally submitted message to peer instances.
func (r *RabbitMQ) Publish(ctx context.Context, message *domain.ChatMessage) error {
	body, err := json.Marshal(RelayEnvelope{
		Origin:    r.origin,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}

	ch, err := r.ensureOpen()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(
		ctx,
		BroadcastExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish relay message: %w", err)
	}

	observability.RelayMessagesTotal.WithLabelValues("out").Inc()
	slog.Debug("relayed message", slog.String("id", message.ID))
	return nil
}

func (r *RabbitMQ) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn == nil || r.conn.IsClosed()
}

// Ping reports whether the broker connection is usable.
func (r *RabbitMQ) Ping(_ context.Context) error {
	if r.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
