// Package payment coordinates one external-provider payment attempt per
// checkout session.
//
// An attempt moves through
//
//	none -> provider_order_created -> capturing -> completed | failed
//
// and a cancel returns it to none. Status is the single authoritative field
// the checkout reads; every provider callback is a state transition plus one
// side effect. No timeout is imposed: an attempt may stay pending until the
// customer acts or leaves, and an uncaptured provider order is left to the
// provider's own expiry.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Attempt is the session-local state of one provider payment. It needs no
// locking; the owning session serializes access.
type Attempt struct {
	Status        Status
	Phase         Phase
	CorrelationID string
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	Order         *ProviderOrder
	Receipt       *Receipt
	// Captured is the settled amount of a validated receipt.
	Captured      decimal.Decimal
	LastError     string
	UpdatedAt     time.Time
}

// NewAttempt returns an attempt in the none state.
func NewAttempt() *Attempt {
	return &Attempt{Status: StatusNone, Phase: PhaseNone}
}

// IsCompleted reports whether funds were captured.
func (a *Attempt) IsCompleted() bool {
	return a != nil && a.Status == StatusCompleted
}

func (a *Attempt) transition(phase Phase, now time.Time) {
	a.Phase = phase
	a.UpdatedAt = now
	switch phase {
	case PhaseNone:
		a.Status = StatusNone
	case PhaseCreated, PhaseCapturing:
		a.Status = StatusPending
	case PhaseCompleted:
		a.Status = StatusCompleted
	case PhaseFailed:
		a.Status = StatusFailed
	}
}

// Reset discards the attempt, returning it to none.
func (a *Attempt) Reset(now time.Time) {
	*a = Attempt{}
	a.transition(PhaseNone, now)
}

// Metadata describes the checkout a provider order is created for.
type Metadata struct {
	UserID      string
	SessionID   string
	Description string
}

// Orchestrator drives attempts against a Provider.
type Orchestrator struct {
	provider Provider
	currency string
	lg       *zap.Logger
	now      func() time.Time
	newID    func() string

	captures metric.Int64Counter
}

// NewOrchestrator creates an Orchestrator charging in currency. A nil meter
// disables metrics.
func NewOrchestrator(provider Provider, currency string, lg *zap.Logger, meter metric.Meter) (*Orchestrator, error) {
	if lg == nil {
		lg = zap.NewNop()
	}
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	captures, err := meter.Int64Counter("checkout.payment.captures",
		metric.WithDescription("Provider payment captures by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create captures counter")
	}
	return &Orchestrator{
		provider: provider,
		currency: currency,
		lg:       lg,
		now:      time.Now,
		newID:    uuid.NewString,
		captures: captures,
	}, nil
}

// Currency returns the currency all payments are made in.
func (o *Orchestrator) Currency() string {
	return o.currency
}

// Begin creates a provider order for amount. Retrying Begin for the same
// amount reuses the attempt's correlation id, so the provider deduplicates the
// create instead of opening a second order.
func (o *Orchestrator) Begin(ctx context.Context, a *Attempt, amount decimal.Decimal, meta Metadata) (*ProviderOrder, error) {
	switch {
	case a.Status == StatusCompleted:
		return nil, ErrAlreadyCompleted
	case a.Phase == PhaseCapturing:
		return nil, ErrCaptureInProgress
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if a.CorrelationID == "" || !a.Amount.Equal(amount) {
		id := o.newID()
		a.CorrelationID = id
		a.Reference = "TMP-" + id
	}
	a.Amount = amount
	a.Currency = o.currency
	a.Receipt = nil
	a.Captured = decimal.Zero
	a.LastError = ""

	o.lg.Debug("Creating provider order",
		zap.String("correlation_id", a.CorrelationID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("session_id", meta.SessionID),
	)

	po, err := o.provider.CreateOrder(ctx, CreateOrderRequest{
		Amount:        amount,
		Currency:      o.currency,
		Description:   meta.Description,
		CorrelationID: a.CorrelationID,
		Reference:     a.Reference,
	})
	if err != nil {
		o.fail(a, err)
		o.lg.Warn("Provider order creation failed", zap.Error(err))
		return nil, &ProviderError{Op: "create order", Err: err}
	}
	if po == nil || po.ID == "" {
		err := errors.New("provider returned no order id")
		o.fail(a, err)
		return nil, &ProviderError{Op: "create order", Err: err}
	}

	a.Order = po
	a.transition(PhaseCreated, o.now())
	return po, nil
}

// Approve captures the funds of an approved provider order. The attempt only
// becomes completed when the receipt validates; a malformed receipt counts as
// a failed capture.
func (o *Orchestrator) Approve(ctx context.Context, a *Attempt, providerOrderID string) (*Receipt, error) {
	switch {
	case a.Status == StatusCompleted:
		return nil, ErrAlreadyCompleted
	case a.Phase == PhaseCapturing:
		return nil, ErrCaptureInProgress
	case a.Order == nil:
		return nil, ErrNoProviderOrder
	case providerOrderID != "" && providerOrderID != a.Order.ID:
		return nil, ErrHandleMismatch
	}

	a.transition(PhaseCapturing, o.now())

	receipt, err := o.provider.CaptureOrder(ctx, a.Order.ID)
	if err != nil {
		o.fail(a, err)
		o.recordCapture(ctx, "error")
		o.lg.Warn("Provider capture failed", zap.String("provider_order_id", a.Order.ID), zap.Error(err))
		return nil, &ProviderError{Op: "capture", Err: err}
	}
	captured, err := receipt.settled()
	if err != nil {
		o.fail(a, err)
		o.recordCapture(ctx, "malformed")
		o.lg.Warn("Provider capture receipt rejected", zap.String("provider_order_id", a.Order.ID), zap.Error(err))
		return nil, err
	}
	if receipt.ProviderOrderID != "" && receipt.ProviderOrderID != a.Order.ID {
		err := errors.Wrapf(ErrMalformedReceipt, "receipt for order %q", receipt.ProviderOrderID)
		o.fail(a, err)
		o.recordCapture(ctx, "malformed")
		return nil, err
	}

	a.Receipt = receipt
	a.Captured = captured
	a.LastError = ""
	a.transition(PhaseCompleted, o.now())
	o.recordCapture(ctx, "completed")
	o.lg.Info("Payment captured",
		zap.String("provider_order_id", a.Order.ID),
		zap.String("capture_id", receipt.CaptureID),
		zap.String("amount", receipt.Amount),
	)
	return receipt, nil
}

// Cancel handles the customer closing the provider flow: the attempt returns
// to none.
func (o *Orchestrator) Cancel(a *Attempt) error {
	if a.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	a.Reset(o.now())
	return nil
}

// Fail records an error raised by the provider flow on the client side.
func (o *Orchestrator) Fail(a *Attempt, reason string) error {
	if a.Status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	o.fail(a, errors.New(reason))
	return nil
}

func (o *Orchestrator) fail(a *Attempt, err error) {
	a.LastError = err.Error()
	a.transition(PhaseFailed, o.now())
}

func (o *Orchestrator) recordCapture(ctx context.Context, outcome string) {
	o.captures.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
