package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xenking/rental-checkout/internal/domain/order"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a topic, keyed by order id.
type Kafka struct {
	w messageWriter
}

// NewKafka returns a Kafka notifier writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}}
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// OrderFinalized publishes the order event.
func (k *Kafka) OrderFinalized(ctx context.Context, o *order.Order) error {
	err := k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.ID),
		Value: Encode(o),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventOrderFinalized)},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing order %q to kafka: %w", o.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}
