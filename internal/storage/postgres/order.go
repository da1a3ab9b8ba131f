package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

var _ order.Repository = (*OrderRepository)(nil)

const insertOrderSQL = `
INSERT INTO orders (
    id, user_id, customer,
    rental_start, rental_end, rental_days, delivery_method, insurance_selected, notes, delivery_address,
    payment_method, provider_order_id, capture_id, payer_id, payer_email, captured_amount, currency, captured_at,
    items, subtotal, delivery_fee, insurance_fee, tax, total,
    status, payment_status, terms_accepted_at, created_at, updated_at
) VALUES (
    $1, $2, $3,
    $4, $5, $6, $7, $8, $9, $10,
    $11, $12, $13, $14, $15, $16, $17, $18,
    $19, $20, $21, $22, $23, $24,
    $25, $26, $27, $28, $29
)`

const selectOrderSQL = `
SELECT
    id, user_id, customer,
    rental_start, rental_end, rental_days, delivery_method, insurance_selected, notes, delivery_address,
    payment_method, provider_order_id, capture_id, payer_id, payer_email, captured_amount, currency, captured_at,
    items, subtotal, delivery_fee, insurance_fee, tax, total,
    status, payment_status, terms_accepted_at, created_at, updated_at
FROM orders WHERE id = $1`

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts a new order. Customer, address and items are stored as
// JSONB; money columns are NUMERIC(12,2).
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshaling customer: %w", err)
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	var address []byte
	if o.DeliveryAddress != nil {
		if address, err = json.Marshal(o.DeliveryAddress); err != nil {
			return fmt.Errorf("marshaling delivery address: %w", err)
		}
	}

	p := o.Payment
	_, err = r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, customer,
		o.Rental.StartDate, o.Rental.EndDate, o.Rental.RentalDays, string(o.Rental.DeliveryMethod),
		o.Rental.InsuranceSelected, o.Rental.Notes, address,
		string(p.Method), nullString(p.ProviderOrderID), nullString(p.CaptureID), nullString(p.PayerID),
		nullString(p.PayerEmail), p.CapturedAmount, nullString(p.Currency), p.CapturedAt,
		items, o.Pricing.Subtotal, o.Pricing.DeliveryFee, o.Pricing.InsuranceFee, o.Pricing.Tax, o.Pricing.Total,
		string(o.Status), string(o.PaymentStatus), o.TermsAcceptedAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if code, constraint := pgCode(err); code == codeUniqueViolation && constraint == ordersPrimaryKey {
			return fmt.Errorf("creating order %q: %w", o.ID, order.ErrDuplicateID)
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// Get loads an order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var (
		o        order.Order
		customer []byte
		address  []byte
		items    []byte

		deliveryMethod, method, status, paymentStatus string

		providerOrderID, captureID, payerID, payerEmail, currency *string
	)
	err := r.pool.QueryRow(ctx, selectOrderSQL, id).Scan(
		&o.ID, &o.UserID, &customer,
		&o.Rental.StartDate, &o.Rental.EndDate, &o.Rental.RentalDays, &deliveryMethod,
		&o.Rental.InsuranceSelected, &o.Rental.Notes, &address,
		&method, &providerOrderID, &captureID, &payerID, &payerEmail,
		&o.Payment.CapturedAmount, &currency, &o.Payment.CapturedAt,
		&items, &o.Pricing.Subtotal, &o.Pricing.DeliveryFee, &o.Pricing.InsuranceFee, &o.Pricing.Tax, &o.Pricing.Total,
		&status, &paymentStatus, &o.TermsAcceptedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order %q: %w", id, err)
	}

	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("unmarshaling customer: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if len(address) > 0 {
		o.DeliveryAddress = new(order.Address)
		if err := json.Unmarshal(address, o.DeliveryAddress); err != nil {
			return nil, fmt.Errorf("unmarshaling delivery address: %w", err)
		}
	}

	o.Rental.DeliveryMethod = pricing.DeliveryMethod(deliveryMethod)
	o.Rental.StartDate = pricing.Date(o.Rental.StartDate)
	o.Rental.EndDate = pricing.Date(o.Rental.EndDate)
	o.Pricing.RentalDays = o.Rental.RentalDays
	o.Payment.Method = order.PaymentMethod(method)
	o.Payment.ProviderOrderID = deref(providerOrderID)
	o.Payment.CaptureID = deref(captureID)
	o.Payment.PayerID = deref(payerID)
	o.Payment.PayerEmail = deref(payerEmail)
	o.Payment.Currency = deref(currency)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.TermsAcceptedAt = o.TermsAcceptedAt.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if o.Payment.CapturedAt != nil {
		t := o.Payment.CapturedAt.UTC()
		o.Payment.CapturedAt = &t
	}
	return &o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
