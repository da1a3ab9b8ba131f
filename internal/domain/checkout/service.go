// Package checkout drives a customer from cart to a persisted rental order.
//
// A checkout moves through four steps (rental details, customer, payment,
// review) and ends in a single order write. Step transitions are gated by
// Validate; the order is written only from the review step, after every
// gate passed again and, for provider payments, after the funds were
// captured.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/rental-checkout/internal/domain/auth"
	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/payment"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
	"github.com/xenking/rental-checkout/internal/domain/sequence"
)

// IDGenerator issues order identifiers.
type IDGenerator interface {
	Next(ctx context.Context) (sequence.ID, error)
}

// Cart is the customer's shopping cart.
type Cart interface {
	Clear(ctx context.Context, userID string) error
}

// Notifier announces finalized orders.
type Notifier interface {
	OrderFinalized(ctx context.Context, o *order.Order) error
}

// Options configures a Service. Cart, Notifier, Logger, Meter and Tracer
// are optional.
type Options struct {
	Engine   *pricing.Engine
	IDs      IDGenerator
	Orders   order.Repository
	Payments *payment.Orchestrator
	Sessions *Registry
	Cart     Cart
	Notifier Notifier

	// Location is the storefront time zone used to decide what "today" is.
	Location *time.Location
	// AfterCommitTimeout bounds the cart clear and notification after an
	// order is written.
	AfterCommitTimeout time.Duration

	Logger *zap.Logger
	Meter  metric.Meter
	Tracer trace.Tracer
}

// Service is the checkout controller.
type Service struct {
	engine   *pricing.Engine
	ids      IDGenerator
	orders   order.Repository
	payments *payment.Orchestrator
	sessions *Registry
	cart     Cart
	notifier Notifier

	loc                *time.Location
	afterCommitTimeout time.Duration
	now                func() time.Time
	newID              func() string

	lg          *zap.Logger
	tracer      trace.Tracer
	finalized   metric.Int64Counter
	fallbackIDs metric.Int64Counter
}

// NewService creates a checkout Service.
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Engine == nil:
		return nil, errors.New("pricing engine is required")
	case opts.IDs == nil:
		return nil, errors.New("order id generator is required")
	case opts.Orders == nil:
		return nil, errors.New("order repository is required")
	case opts.Payments == nil:
		return nil, errors.New("payment orchestrator is required")
	case opts.Sessions == nil:
		return nil, errors.New("session registry is required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.AfterCommitTimeout <= 0 {
		opts.AfterCommitTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("")
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}

	finalized, err := opts.Meter.Int64Counter("checkout.orders.finalized",
		metric.WithDescription("Orders written by checkout"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create finalized counter")
	}
	fallbackIDs, err := opts.Meter.Int64Counter("checkout.order_id.fallback",
		metric.WithDescription("Orders written with a fallback order id"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create fallback counter")
	}

	return &Service{
		engine:             opts.Engine,
		ids:                opts.IDs,
		orders:             opts.Orders,
		payments:           opts.Payments,
		sessions:           opts.Sessions,
		cart:               opts.Cart,
		notifier:           opts.Notifier,
		loc:                opts.Location,
		afterCommitTimeout: opts.AfterCommitTimeout,
		now:                time.Now,
		newID:              uuid.NewString,
		lg:                 opts.Logger,
		tracer:             opts.Tracer,
		finalized:          finalized,
		fallbackIDs:        fallbackIDs,
	}, nil
}

// Quote prices items without a session. An empty cart prices to zero.
func (s *Service) Quote(items []pricing.LineItem, window pricing.RentalWindow, method pricing.DeliveryMethod, insurance bool) (pricing.Breakdown, error) {
	if err := checkItems(items); err != nil {
		return pricing.Breakdown{}, err
	}
	if _, err := pricing.ParseDeliveryMethod(string(method)); err != nil {
		return pricing.Breakdown{}, err
	}
	return s.engine.Compute(items, window, method, insurance), nil
}

// Start opens a checkout for the items in the user's cart.
func (s *Service) Start(_ context.Context, user auth.User, items []pricing.LineItem) (Session, error) {
	if len(items) == 0 {
		return Session{}, ErrEmptyCart
	}
	if err := checkItems(items); err != nil {
		return Session{}, err
	}

	now := s.now()
	sess := &Session{
		ID:        s.newID(),
		User:      user,
		Step:      StepRental,
		Form:      NewForm(),
		Items:     items,
		Payment:   payment.NewAttempt(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.reprice(sess)
	s.sessions.Add(sess)

	s.lg.Debug("Checkout started",
		zap.String("session_id", sess.ID),
		zap.String("user_id", user.ID),
		zap.Int("items", len(items)),
	)
	return sess.Clone(), nil
}

// Get returns the current state of a checkout.
func (s *Service) Get(_ context.Context, user auth.User, id string) (Session, error) {
	var out Session
	err := s.sessions.Do(id, user.ID, func(sess *Session) error {
		out = sess.Clone()
		return nil
	})
	return out, err
}

// Update applies a partial form update and reprices the checkout. Once funds
// were captured the amount and the payment method are frozen. Switching a
// checkout past the payment step to provider payment sends it back to the
// payment step.
func (s *Service) Update(_ context.Context, user auth.User, id string, patch FormPatch) (Session, error) {
	if patch.DeliveryMethod != nil {
		if _, err := pricing.ParseDeliveryMethod(string(*patch.DeliveryMethod)); err != nil {
			return Session{}, err
		}
	}
	if m := patch.PaymentMethod; m != nil && *m != order.MethodCash && *m != order.MethodPayPal {
		return Session{}, errors.Wrapf(ErrUnknownPaymentMethod, "%q", *m)
	}

	var out Session
	err := s.sessions.Do(id, user.ID, func(sess *Session) error {
		if sess.Submitted() {
			return ErrAlreadySubmitted
		}
		methodChanged := patch.PaymentMethod != nil && *patch.PaymentMethod != sess.Form.PaymentMethod
		if sess.Payment.IsCompleted() && (patch.TouchesPricing() || methodChanged) {
			return ErrPaymentLocked
		}

		now := s.now()
		patch.Apply(&sess.Form)
		if patch.TermsAccepted != nil {
			if sess.Form.TermsAccepted {
				sess.TermsAcceptedAt = now
			} else {
				sess.TermsAcceptedAt = time.Time{}
			}
		}

		// A provider order opened for another amount or method must not be
		// captured.
		if !sess.Payment.IsCompleted() && sess.Payment.Status != payment.StatusNone &&
			(methodChanged || patch.TouchesPricing()) {
			sess.Payment.Reset(now)
		}
		// Review is only reachable with captured funds.
		if sess.Form.PaymentMethod.IsProvider() && sess.Step > StepPayment && !sess.Payment.IsCompleted() {
			sess.Step = StepPayment
		}

		s.reprice(sess)
		sess.Errors = nil
		sess.UpdatedAt = now
		out = sess.Clone()
		return nil
	})
	return out, err
}

// Next validates the current step and advances to the following one.
func (s *Service) Next(_ context.Context, user auth.User, id string) (Session, error) {
	var out Session
	err := s.sessions.Do(id, user.ID, func(sess *Session) error {
		if sess.Submitted() {
			return ErrAlreadySubmitted
		}
		if sess.Step >= StepReview {
			return errors.Wrapf(ErrWrongStep, "next from %s", sess.Step)
		}
		if errs := Validate(sess.Step, sess.Form, sess.PaymentStatus(), s.today()); len(errs) > 0 {
			sess.Errors = errs
			return &ValidationError{Step: sess.Step, Fields: errs}
		}
		sess.Step++
		sess.Errors = nil
		sess.UpdatedAt = s.now()
		out = sess.Clone()
		return nil
	})
	return out, err
}

// Back returns to the previous step. It never validates.
func (s *Service) Back(_ context.Context, user auth.User, id string) (Session, error) {
	var out Session
	err := s.sessions.Do(id, user.ID, func(sess *Session) error {
		if sess.Submitted() {
			return ErrAlreadySubmitted
		}
		if sess.Step <= StepRental {
			return errors.Wrapf(ErrWrongStep, "back from %s", sess.Step)
		}
		sess.Step--
		sess.Errors = nil
		sess.UpdatedAt = s.now()
		out = sess.Clone()
		return nil
	})
	return out, err
}

// BeginPayment creates a provider order for the checkout total.
func (s *Service) BeginPayment(ctx context.Context, user auth.User, id string) (*payment.ProviderOrder, error) {
	var po *payment.ProviderOrder
	err := s.sessions.Do(id, user.ID, func(sess *Session) error {
		if err := s.checkPaymentStep(sess); err != nil {
			return err
		}
		var err error
		po, err = s.payments.Begin(ctx, sess.Payment, sess.Breakdown.Total, payment.Metadata{
			UserID:      sess.User.ID,
			SessionID:   sess.ID,
			Description: fmt.Sprintf("Equipment rental, %d day(s)", sess.Breakdown.RentalDays),
		})
		sess.UpdatedAt = s.now()
		return err
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

// ApprovePayment captures an approved provider order. A successful capture
// moves the checkout on to review.
func (s *Service) ApprovePayment(ctx context.Context, user auth.User, id, providerOrderID string) (Session, error) {
	var out Session
	err := s.sessions.Do(id, user.ID, func(sess *Session) error {
		if err := s.checkPaymentStep(sess); err != nil {
			return err
		}
		if _, err := s.payments.Approve(ctx, sess.Payment, providerOrderID); err != nil {
			sess.UpdatedAt = s.now()
			return err
		}
		if len(Validate(StepPayment, sess.Form, sess.PaymentStatus(), s.today())) == 0 {
			sess.Step = StepReview
		}
		sess.Errors = nil
		sess.UpdatedAt = s.now()
		out = sess.Clone()
		return nil
	})
	return out, err
}

// CancelPayment handles the customer closing the provider flow.
func (s *Service) CancelPayment(_ context.Context, user auth.User, id string) (Session, error) {
	var out Session
	err := s.sessions.Do(id, user.ID, func(sess *Session) error {
		if sess.Submitted() {
			return ErrAlreadySubmitted
		}
		if err := s.payments.Cancel(sess.Payment); err != nil {
			return err
		}
		sess.UpdatedAt = s.now()
		out = sess.Clone()
		return nil
	})
	return out, err
}

// FailPayment records an error reported by the provider flow.
func (s *Service) FailPayment(_ context.Context, user auth.User, id, reason string) (Session, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "payment provider error"
	}
	var out Session
	err := s.sessions.Do(id, user.ID, func(sess *Session) error {
		if sess.Submitted() {
			return ErrAlreadySubmitted
		}
		if err := s.payments.Fail(sess.Payment, reason); err != nil {
			return err
		}
		sess.UpdatedAt = s.now()
		out = sess.Clone()
		return nil
	})
	return out, err
}

// Discard abandons a checkout.
func (s *Service) Discard(_ context.Context, user auth.User, id string) error {
	return s.sessions.Remove(id, user.ID)
}

// Submit writes the order. Submitting a checkout that was already
// submitted returns the same order.
func (s *Service) Submit(ctx context.Context, user auth.User, id string) (*order.Order, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Submit",
		trace.WithAttributes(attribute.String("checkout.session_id", id)),
	)
	defer span.End()

	var out *order.Order
	err := s.sessions.Do(id, user.ID, func(sess *Session) error {
		if sess.Submitted() {
			out = sess.Order
			return nil
		}
		if sess.Step != StepReview {
			return ErrNotAtReview
		}
		if sess.Form.PaymentMethod.IsProvider() && !sess.Payment.IsCompleted() {
			return ErrPaymentIncomplete
		}
		today := s.today()
		for step := StepRental; step <= StepReview; step++ {
			if errs := Validate(step, sess.Form, sess.PaymentStatus(), today); len(errs) > 0 {
				sess.Errors = errs
				return &ValidationError{Step: step, Fields: errs}
			}
		}

		o, err := s.finalize(ctx, sess)
		if err != nil {
			return err
		}
		sess.Order = o
		sess.Step = StepSubmitted
		sess.Errors = nil
		sess.UpdatedAt = o.CreatedAt
		out = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", out.ID))
	return out, nil
}

// Order returns a finalized order of user. Orders of other users are
// reported as not found.
func (s *Service) Order(ctx context.Context, user auth.User, id string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != user.ID {
		return nil, errors.Wrapf(order.ErrNotFound, "%s", id)
	}
	return o, nil
}

func (s *Service) finalize(ctx context.Context, sess *Session) (*order.Order, error) {
	id, err := s.ids.Next(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "generate order id")
	}
	if id.Fallback {
		s.fallbackIDs.Add(ctx, 1)
	}

	o := s.buildOrder(sess, id.Value)
	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, order.ErrDuplicateID) {
			s.lg.Error("Generated order id already exists",
				zap.String("order_id", o.ID),
				zap.Bool("fallback", id.Fallback),
			)
			return nil, errors.Wrapf(ErrOrderIDCollision, "order %s", o.ID)
		}
		s.lg.Warn("Order write failed",
			zap.String("order_id", o.ID),
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return nil, &PersistenceError{OrderID: o.ID, Err: err}
	}

	s.finalized.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", string(o.Payment.Method)),
	))
	s.lg.Info("Order finalized",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("total", o.Pricing.Total.StringFixed(2)),
		zap.String("payment_method", string(o.Payment.Method)),
	)

	s.afterCommit(ctx, o)
	return o, nil
}

// afterCommit clears the cart and announces the order. The order is already
// written, so failures are logged and dropped.
func (s *Service) afterCommit(ctx context.Context, o *order.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.afterCommitTimeout)
	defer cancel()

	if s.cart != nil {
		if err := s.cart.Clear(ctx, o.UserID); err != nil {
			s.lg.Warn("Failed to clear cart after order",
				zap.String("order_id", o.ID),
				zap.String("user_id", o.UserID),
				zap.Error(err),
			)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.OrderFinalized(ctx, o); err != nil {
			s.lg.Warn("Failed to publish order notification",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) buildOrder(sess *Session, id string) *order.Order {
	now := s.now().UTC()
	f := sess.Form
	window := f.Rental.Window()
	days := window.Days()
	status, paymentStatus := order.DeriveStatus(f.PaymentMethod)

	termsAt := sess.TermsAcceptedAt
	if termsAt.IsZero() {
		termsAt = now
	}

	o := &order.Order{
		ID:     id,
		UserID: sess.User.ID,
		Customer: order.Customer{
			FirstName: strings.TrimSpace(f.Customer.FirstName),
			LastName:  strings.TrimSpace(f.Customer.LastName),
			Email:     strings.TrimSpace(f.Customer.Email),
			Phone:     strings.TrimSpace(f.Customer.Phone),
		},
		Rental: order.Rental{
			StartDate:         f.Rental.StartDate,
			EndDate:           f.Rental.EndDate,
			RentalDays:        days,
			DeliveryMethod:    f.Rental.DeliveryMethod,
			InsuranceSelected: f.Rental.Insurance,
			Notes:             strings.TrimSpace(f.Rental.Notes),
		},
		Payment:         order.Payment{Method: f.PaymentMethod},
		Items:           order.Snapshot(sess.Items, days),
		Pricing:         s.engine.Compute(sess.Items, window, f.Rental.DeliveryMethod, f.Rental.Insurance).Round(),
		Status:          status,
		PaymentStatus:   paymentStatus,
		TermsAcceptedAt: termsAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if f.Rental.DeliveryMethod == pricing.DeliveryDelivery {
		addr := order.Address{
			Street:     strings.TrimSpace(f.Address.Street),
			City:       strings.TrimSpace(f.Address.City),
			Province:   strings.TrimSpace(f.Address.Province),
			PostalCode: strings.TrimSpace(f.Address.PostalCode),
		}
		o.DeliveryAddress = &addr
	}

	if a := sess.Payment; f.PaymentMethod.IsProvider() && a.IsCompleted() && a.Receipt != nil {
		r := a.Receipt
		amount := a.Captured
		capturedAt := r.UpdateTime
		if capturedAt.IsZero() {
			capturedAt = a.UpdatedAt
		}
		o.Payment.ProviderOrderID = a.Order.ID
		o.Payment.CaptureID = r.CaptureID
		o.Payment.PayerID = r.PayerID
		o.Payment.PayerEmail = r.PayerEmail
		o.Payment.CapturedAmount = &amount
		o.Payment.Currency = r.Currency
		o.Payment.CapturedAt = &capturedAt
	}
	return o
}

func (s *Service) checkPaymentStep(sess *Session) error {
	switch {
	case sess.Submitted():
		return ErrAlreadySubmitted
	case sess.Step != StepPayment:
		return errors.Wrapf(ErrWrongStep, "payment at %s", sess.Step)
	case !sess.Form.PaymentMethod.IsProvider():
		return ErrNotProviderPayment
	}
	return nil
}

func (s *Service) reprice(sess *Session) {
	r := sess.Form.Rental
	sess.Breakdown = s.engine.Compute(sess.Items, r.Window(), r.DeliveryMethod, r.Insurance)
}

func (s *Service) today() time.Time {
	return pricing.Date(s.now().In(s.loc))
}

func checkItems(items []pricing.LineItem) error {
	for _, item := range items {
		switch {
		case item.ID == "":
			return errors.Wrap(ErrInvalidItem, "missing product id")
		case item.Quantity < 1:
			return errors.Wrapf(ErrInvalidItem, "%s: quantity %d", item.ID, item.Quantity)
		case item.DailyRate.IsNegative():
			return errors.Wrapf(ErrInvalidItem, "%s: negative daily rate", item.ID)
		}
	}
	return nil
}
