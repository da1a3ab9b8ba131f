package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the authoritative payment status of a checkout session.
type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Phase tracks where an attempt is in the provider handshake.
type Phase string

const (
	PhaseNone      Phase = "none"
	PhaseCreated   Phase = "provider_order_created"
	PhaseCapturing Phase = "capturing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Sentinel errors for payment attempts.
var (
	// ErrMalformedReceipt is returned when a capture response lacks the
	// fields needed to prove the funds were settled.
	ErrMalformedReceipt = errors.New("malformed capture receipt")
	// ErrNoProviderOrder is returned when approving without a created order.
	ErrNoProviderOrder = errors.New("no provider order to approve")
	// ErrHandleMismatch is returned when the approved order is not the one
	// created for this attempt.
	ErrHandleMismatch = errors.New("provider order does not belong to this checkout")
	// ErrAlreadyCompleted is returned when starting or approving an attempt
	// that has already captured funds.
	ErrAlreadyCompleted = errors.New("payment already completed")
	// ErrCaptureInProgress is returned when a capture is already running.
	ErrCaptureInProgress = errors.New("payment capture in progress")
	// ErrInvalidAmount is returned when the amount to charge is not positive.
	ErrInvalidAmount = errors.New("payment amount must be positive")
)

// ProviderError wraps a failure reported by the payment provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return "payment provider " + e.Op + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// CreateOrderRequest describes the provider order to create.
type CreateOrderRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	// CorrelationID makes a retried create idempotent upstream.
	CorrelationID string
	// Reference is the temporary order reference shown by the provider.
	Reference string
}

// ProviderOrder is the handle of an order created at the provider.
type ProviderOrder struct {
	ID         string
	Status     string
	ApproveURL string
}

// Receipt is the capture result extracted from the provider response. String
// fields are kept raw so that validation can reject incomplete captures.
type Receipt struct {
	ProviderOrderID string
	CaptureID       string
	PayerID         string
	PayerEmail      string
	Amount          string
	Currency        string
	Status          string
	CreateTime      time.Time
	UpdateTime      time.Time
}

// CaptureStatusCompleted is the provider status of a settled capture.
const CaptureStatusCompleted = "COMPLETED"

// CapturedAmount parses the receipt amount.
func (r *Receipt) CapturedAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(r.Amount)
}

// Validate checks that the receipt proves a completed capture.
func (r *Receipt) Validate() error {
	_, err := r.settled()
	return err
}

// settled validates the receipt and returns the captured amount.
func (r *Receipt) settled() (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, errors.Wrap(ErrMalformedReceipt, "empty receipt")
	}
	if r.CaptureID == "" {
		return decimal.Zero, errors.Wrap(ErrMalformedReceipt, "missing capture id")
	}
	if r.Amount == "" {
		return decimal.Zero, errors.Wrap(ErrMalformedReceipt, "missing captured amount")
	}
	amount, err := r.CapturedAmount()
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrMalformedReceipt, "amount %q", r.Amount)
	}
	if !amount.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrMalformedReceipt, "amount %s", amount)
	}
	if r.Currency == "" {
		return decimal.Zero, errors.Wrap(ErrMalformedReceipt, "missing currency")
	}
	if r.Status != CaptureStatusCompleted {
		return decimal.Zero, errors.Wrapf(ErrMalformedReceipt, "capture status %q", r.Status)
	}
	return amount, nil
}

// Provider is the external payment provider.
type Provider interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*ProviderOrder, error)
	CaptureOrder(ctx context.Context, providerOrderID string) (*Receipt, error)
}
