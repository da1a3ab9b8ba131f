package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

// --- Mock implementations ---

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

type fakeChannel struct {
	keys []string
	msgs []amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, msg)
	return nil
}

// --- Helpers ---

func testOrder() *order.Order {
	return &order.Order{
		ID:            "RAC250001",
		UserID:        "user-1",
		Customer:      order.Customer{Email: "juan@example.com"},
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Payment:       order.Payment{Method: order.MethodCash},
		Rental: order.Rental{
			StartDate:      time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
			EndDate:        time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
			DeliveryMethod: pricing.DeliveryPickup,
		},
		Pricing:   pricing.Breakdown{Total: decimal.RequireFromString("4480")},
		CreatedAt: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

// --- Tests ---

func TestEncode(t *testing.T) {
	fields := map[string]string{}
	d := jx.DecodeBytes(Encode(testOrder()))
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		fields[key] = v
		return err
	}))

	assert.Equal(t, EventOrderFinalized, fields["type"])
	assert.Equal(t, "RAC250001", fields["order_id"])
	assert.Equal(t, "4480.00", fields["total"])
	assert.Equal(t, "2025-03-15", fields["rental_start"])
	assert.Equal(t, "2025-03-14T09:00:00Z", fields["created_at"])
}

func TestKafka_KeysByOrderID(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{w: w}

	require.NoError(t, k.OrderFinalized(context.Background(), testOrder()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "RAC250001", string(w.msgs[0].Key))

	w.err = errors.New("leader not available")
	require.Error(t, k.OrderFinalized(context.Background(), testOrder()))
}

func TestAMQP_PublishesPersistent(t *testing.T) {
	ch := &fakeChannel{}
	a := &AMQP{ch: ch, queue: "orders.finalized"}

	require.NoError(t, a.OrderFinalized(context.Background(), testOrder()))
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, "orders.finalized", ch.keys[0])
	assert.Equal(t, uint8(amqp.Persistent), ch.msgs[0].DeliveryMode)
	assert.Equal(t, "RAC250001", ch.msgs[0].MessageId)
	require.NoError(t, a.Close())
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	require.NoError(t, NewLog(zap.New(core)).OrderFinalized(context.Background(), testOrder()))
	assert.Equal(t, 1, logs.FilterField(zap.String("order_id", "RAC250001")).Len())
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Empty(t, SplitBrokers(""))
}
