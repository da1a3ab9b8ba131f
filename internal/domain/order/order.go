package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

// ErrDuplicateID is returned by Repository.Create when an order with the same
// id already exists. The id generator must never produce one, so callers
// treat it as fatal.
var ErrDuplicateID = errors.New("order id already exists")

// ErrNotFound is returned by Repository.Get for an unknown order id.
var ErrNotFound = errors.New("order not found")

// Status is the fulfillment status of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// PaymentStatus is the settlement status of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// PaymentMethod is how the customer pays for the rental.
type PaymentMethod string

const (
	// MethodCash is paid on pickup or delivery.
	MethodCash PaymentMethod = "cash"
	// MethodPayPal is captured through the external payment provider before
	// the order is written.
	MethodPayPal PaymentMethod = "paypal"
)

// IsProvider reports whether the method goes through the payment provider.
func (m PaymentMethod) IsProvider() bool {
	return m == MethodPayPal
}

// DeriveStatus returns the initial statuses of an order paid with method.
func DeriveStatus(method PaymentMethod) (Status, PaymentStatus) {
	if method.IsProvider() {
		return StatusConfirmed, PaymentPaid
	}
	return StatusPending, PaymentPending
}

// Customer holds the contact details entered at checkout.
type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Rental holds the rental window and fulfillment choices.
type Rental struct {
	StartDate         time.Time              `json:"start_date"`
	EndDate           time.Time              `json:"end_date"`
	RentalDays        int64                  `json:"rental_days"`
	DeliveryMethod    pricing.DeliveryMethod `json:"delivery_method"`
	InsuranceSelected bool                   `json:"insurance_selected"`
	Notes             string                 `json:"notes,omitempty"`
}

// Address is the delivery destination.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
}

// Payment records how the order was paid and, for provider payments, the
// capture that settled it.
type Payment struct {
	Method          PaymentMethod    `json:"method"`
	ProviderOrderID string           `json:"provider_order_id,omitempty"`
	CaptureID       string           `json:"capture_id,omitempty"`
	PayerID         string           `json:"payer_id,omitempty"`
	PayerEmail      string           `json:"payer_email,omitempty"`
	CapturedAmount  *decimal.Decimal `json:"captured_amount,omitempty"`
	Currency        string           `json:"currency,omitempty"`
	CapturedAt      *time.Time       `json:"captured_at,omitempty"`
}

// ItemSnapshot is a denormalized copy of a cart line item taken at
// submission, so later catalog changes cannot alter a historical order.
type ItemSnapshot struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category,omitempty"`
	Variant   string          `json:"variant,omitempty"`
	DailyRate decimal.Decimal `json:"daily_rate"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Order is a finalized rental order. It is written exactly once.
type Order struct {
	ID              string
	UserID          string
	Customer        Customer
	Rental          Rental
	DeliveryAddress *Address
	Payment         Payment
	Items           []ItemSnapshot
	Pricing         pricing.Breakdown
	Status          Status
	PaymentStatus   PaymentStatus
	TermsAcceptedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Snapshot copies line items into their persisted form, with line totals
// computed for days and rounded to 2 places.
func Snapshot(items []pricing.LineItem, days int64) []ItemSnapshot {
	out := make([]ItemSnapshot, len(items))
	for i, item := range items {
		out[i] = ItemSnapshot{
			ProductID: item.ID,
			Name:      item.Name,
			Category:  item.Category,
			Variant:   item.Variant,
			DailyRate: item.DailyRate.Round(2),
			Quantity:  item.Quantity,
			LineTotal: item.Total(days).Round(2),
		}
	}
	return out
}

// Repository persists orders. Create must fail with ErrDuplicateID rather
// than overwrite an existing order.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
}
