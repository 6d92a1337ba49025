package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"accountd/internal/domain"
	"accountd/internal/events"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultEmailQueue = "email_jobs"

// publisher is the slice of *amqp.Channel the transport needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPTransport hands rendered emails to a mail worker through a durable
// RabbitMQ queue.
type AMQPTransport struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
	mu    sync.Mutex
}

func NewAMQPTransport(url, queue string) (*AMQPTransport, error) {
	if queue == "" {
		queue = DefaultEmailQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue, // name of queue
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPTransport{conn: conn, ch: ch, queue: queue}, nil
}

func (t *AMQPTransport) Name() string { return "amqp" }

func (t *AMQPTransport) Deliver(ctx context.Context, m Message) error {
	body, err := json.Marshal(events.EmailJob{
		Template:  m.Template,
		Recipient: m.Recipient,
		Subject:   m.Subject,
		HTMLBody:  m.HTMLBody,
		At:        m.QueuedAt,
	})
	if err != nil {
		return err
	}

	// one publisher per channel
	t.mu.Lock()
	defer t.mu.Unlock()
	err = t.ch.PublishWithContext(ctx,
		"",      // exchange
		t.queue, // routing key (queue name)
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    m.QueuedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportFailure, err)
	}
	return nil
}

func (t *AMQPTransport) Close() error {
	if c, ok := t.ch.(*amqp.Channel); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
