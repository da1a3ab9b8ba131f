package notify

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/rental-checkout/internal/domain/order"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes events to a durable RabbitMQ queue.
type AMQP struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
}

// DialAMQP connects to url and declares queue.
func DialAMQP(url, queue string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue %q: %w", queue, err)
	}
	return &AMQP{conn: conn, ch: ch, queue: queue}, nil
}

// OrderFinalized publishes the order event as a persistent message.
func (a *AMQP) OrderFinalized(ctx context.Context, o *order.Order) error {
	err := a.ch.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    o.ID,
		Type:         EventOrderFinalized,
		Timestamp:    time.Now().UTC(),
		Body:         Encode(o),
	})
	if err != nil {
		return fmt.Errorf("publishing order %q to rabbitmq: %w", o.ID, err)
	}
	return nil
}

// Close closes the connection.
func (a *AMQP) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
