package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/rental-checkout/internal/domain/order"
)

// Log writes events to the logger. It is used when no broker is configured.
type Log struct {
	lg *zap.Logger
}

// NewLog returns a Log notifier.
func NewLog(lg *zap.Logger) *Log {
	return &Log{lg: lg}
}

// OrderFinalized logs the order event.
func (l *Log) OrderFinalized(_ context.Context, o *order.Order) error {
	l.lg.Info("Order finalized event",
		zap.String("order_id", o.ID),
		zap.ByteString("event", Encode(o)),
	)
	return nil
}

// Close is a no-op.
func (l *Log) Close() error {
	return nil
}
