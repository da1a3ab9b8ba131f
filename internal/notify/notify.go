// Package notify announces finalized orders to downstream consumers.
package notify

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/rental-checkout/internal/domain/order"
)

// EventOrderFinalized is the type of the event published after an order is
// written.
const EventOrderFinalized = "order.finalized"

// Encode renders the order-finalized event as JSON.
func Encode(o *order.Order) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(EventOrderFinalized) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(o.Payment.Method)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Pricing.Total.StringFixed(2)) })
		e.Field("rental_start", func(e *jx.Encoder) { e.Str(o.Rental.StartDate.Format(time.DateOnly)) })
		e.Field("rental_end", func(e *jx.Encoder) { e.Str(o.Rental.EndDate.Format(time.DateOnly)) })
		e.Field("delivery_method", func(e *jx.Encoder) { e.Str(string(o.Rental.DeliveryMethod)) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	})
	return e.Bytes()
}
