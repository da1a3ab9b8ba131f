package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/rental-checkout/internal/domain/auth"
	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/payment"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
	"github.com/xenking/rental-checkout/internal/domain/sequence"
)

// --- Mock implementations ---

type fakeIDs struct {
	mu   sync.Mutex
	next int
}

func (f *fakeIDs) Next(context.Context) (sequence.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return sequence.ID{Value: "RAC25000" + string(rune('0'+f.next)), Number: int64(f.next)}, nil
}

type fakeOrders struct {
	mu     sync.Mutex
	orders []*order.Order
	err    error
}

func (f *fakeOrders) Create(_ context.Context, o *order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.orders {
		if existing.ID == o.ID {
			return order.ErrDuplicateID
		}
	}
	f.orders = append(f.orders, o)
	return nil
}

func (f *fakeOrders) Get(_ context.Context, id string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

type fakeCart struct {
	cleared []string
	err     error
}

func (f *fakeCart) Clear(_ context.Context, userID string) error {
	f.cleared = append(f.cleared, userID)
	return f.err
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) OrderFinalized(_ context.Context, o *order.Order) error {
	f.sent = append(f.sent, o.ID)
	return f.err
}

type fakeProvider struct {
	createErr  error
	captureErr error
	captures   int
	// edit alters the receipt returned by CaptureOrder.
	edit       func(r *payment.Receipt)
}

func (f *fakeProvider) CreateOrder(_ context.Context, req payment.CreateOrderRequest) (*payment.ProviderOrder, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &payment.ProviderOrder{ID: "PO-1", Status: "CREATED", ApproveURL: "https://provider/approve/PO-1"}, nil
}

func (f *fakeProvider) CaptureOrder(_ context.Context, id string) (*payment.Receipt, error) {
	f.captures++
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	r := &payment.Receipt{
		ProviderOrderID: id,
		CaptureID:       "CAP-1",
		PayerID:         "PAYER-1",
		PayerEmail:      "buyer@example.com",
		Amount:          "4480.00",
		Currency:        "PHP",
		Status:          payment.CaptureStatusCompleted,
	}
	if f.edit != nil {
		f.edit(r)
	}
	return r, nil
}

// --- Helpers ---

var (
	now  = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	user = auth.User{ID: "user-1", Email: "juan@example.com"}
)

type fixture struct {
	svc      *Service
	ids      *fakeIDs
	orders   *fakeOrders
	cart     *fakeCart
	notifier *fakeNotifier
	provider *fakeProvider
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	lg := zap.New(core)

	f := &fixture{
		ids:      &fakeIDs{},
		orders:   &fakeOrders{},
		cart:     &fakeCart{},
		notifier: &fakeNotifier{},
		provider: &fakeProvider{},
		logs:     logs,
	}
	payments, err := payment.NewOrchestrator(f.provider, "PHP", lg, nil)
	require.NoError(t, err)

	f.svc, err = NewService(Options{
		Engine:   pricing.NewEngine(pricing.DefaultRates()),
		IDs:      f.ids,
		Orders:   f.orders,
		Payments: payments,
		Sessions: NewRegistry(time.Hour),
		Cart:     f.cart,
		Notifier: f.notifier,
		Logger:   lg,
	})
	require.NoError(t, err)
	f.svc.now = func() time.Time { return now }
	return f
}

func ptr[T any](v T) *T {
	return &v
}

func cartItems() []pricing.LineItem {
	return []pricing.LineItem{
		{ID: "cam-1", Name: "Cinema Camera", DailyRate: decimal.NewFromInt(1000), Quantity: 2},
	}
}

func fullPatch(method order.PaymentMethod) FormPatch {
	return FormPatch{
		StartDate:     ptr(now.AddDate(0, 0, 1)),
		EndDate:       ptr(now.AddDate(0, 0, 3)),
		FirstName:     ptr("Juan"),
		LastName:      ptr("Dela Cruz"),
		Email:         ptr("juan@example.com"),
		Phone:         ptr("09171234567"),
		PaymentMethod: ptr(method),
	}
}

// toPayment starts a checkout and walks it to the payment step.
func (f *fixture) toPayment(t *testing.T, method order.PaymentMethod) Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, user, cartItems())
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, user, sess.ID, fullPatch(method))
	require.NoError(t, err)
	_, err = f.svc.Next(ctx, user, sess.ID)
	require.NoError(t, err)
	sess, err = f.svc.Next(ctx, user, sess.ID)
	require.NoError(t, err)
	require.Equal(t, StepPayment, sess.Step)
	return sess
}

// toReview walks a cash checkout to review with the terms accepted.
func (f *fixture) toReview(t *testing.T) Session {
	t.Helper()
	ctx := context.Background()
	sess := f.toPayment(t, order.MethodCash)
	_, err := f.svc.Next(ctx, user, sess.ID)
	require.NoError(t, err)
	sess, err = f.svc.Update(ctx, user, sess.ID, FormPatch{TermsAccepted: ptr(true)})
	require.NoError(t, err)
	require.Equal(t, StepReview, sess.Step)
	return sess
}

// --- Tests ---

func TestStart_RejectsEmptyCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Start(context.Background(), user, nil)
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.svc.Start(context.Background(), user, []pricing.LineItem{{ID: "x", DailyRate: decimal.NewFromInt(1)}})
	require.ErrorIs(t, err, ErrInvalidItem)
}

func TestUpdate_Reprices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, user, cartItems())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.Breakdown.RentalDays)

	sess, err = f.svc.Update(ctx, user, sess.ID, fullPatch(order.MethodCash))
	require.NoError(t, err)
	assert.Equal(t, int64(2), sess.Breakdown.RentalDays)
	assert.Equal(t, "4000.00", sess.Breakdown.Subtotal.StringFixed(2))

	sess, err = f.svc.Update(ctx, user, sess.ID, FormPatch{Insurance: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "600.00", sess.Breakdown.InsuranceFee.StringFixed(2))
	assert.Equal(t, "5152.00", sess.Breakdown.Total.StringFixed(2))

	_, err = f.svc.Update(ctx, user, sess.ID, FormPatch{PaymentMethod: ptr(order.PaymentMethod("card"))})
	require.ErrorIs(t, err, ErrUnknownPaymentMethod)
}

func TestNext_GatesOnValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Start(ctx, user, cartItems())
	require.NoError(t, err)

	_, err = f.svc.Next(ctx, user, sess.ID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StepRental, verr.Step)
	assert.Contains(t, verr.Fields, FieldStartDate)
	assert.Contains(t, verr.Fields, FieldEndDate)

	sess, err = f.svc.Get(ctx, user, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StepRental, sess.Step)
	assert.Contains(t, sess.Errors, FieldStartDate)
}

func TestBack_NeverValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toPayment(t, order.MethodCash)

	_, err := f.svc.Update(ctx, user, sess.ID, FormPatch{Email: ptr("broken")})
	require.NoError(t, err)
	sess, err = f.svc.Back(ctx, user, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StepCustomer, sess.Step)
	sess, err = f.svc.Back(ctx, user, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StepRental, sess.Step)
	_, err = f.svc.Back(ctx, user, sess.ID)
	require.ErrorIs(t, err, ErrWrongStep)
}

func TestSubmit_Cash(t *testing.T) {
	f := newFixture(t)
	sess := f.toReview(t)

	o, err := f.svc.Submit(context.Background(), user, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, "RAC250001", o.ID)
	assert.Equal(t, user.ID, o.UserID)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Equal(t, order.MethodCash, o.Payment.Method)
	assert.Nil(t, o.Payment.CapturedAmount)
	assert.Nil(t, o.DeliveryAddress)
	assert.Equal(t, int64(2), o.Rental.RentalDays)
	assert.Equal(t, "4480.00", o.Pricing.Total.StringFixed(2))
	require.Len(t, o.Items, 1)
	assert.Equal(t, "4000", o.Items[0].LineTotal.String())
	assert.Equal(t, now, o.TermsAcceptedAt)

	assert.Len(t, f.orders.orders, 1)
	assert.Equal(t, []string{user.ID}, f.cart.cleared)
	assert.Equal(t, []string{o.ID}, f.notifier.sent)

	sess, err = f.svc.Get(context.Background(), user, sess.ID)
	require.NoError(t, err)
	assert.True(t, sess.Submitted())
}

func TestSubmit_Gates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := f.toPayment(t, order.MethodCash)
	_, err := f.svc.Submit(ctx, user, sess.ID)
	require.ErrorIs(t, err, ErrNotAtReview)

	_, err = f.svc.Next(ctx, user, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, user, sess.ID)
	require.ErrorIs(t, err, ErrTermsNotAccepted)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StepReview, verr.Step)

	// A step 2 field broken while on review is caught by the final check.
	_, err = f.svc.Update(ctx, user, sess.ID, FormPatch{TermsAccepted: ptr(true), Phone: ptr("x")})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, user, sess.ID)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StepCustomer, verr.Step)

	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.cart.cleared)
}

func TestSubmit_ProviderPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toPayment(t, order.MethodPayPal)

	// A failed capture leaves the checkout on the payment step.
	f.provider.captureErr = errors.New("INSTRUMENT_DECLINED")
	_, err := f.svc.BeginPayment(ctx, user, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.ApprovePayment(ctx, user, sess.ID, "PO-1")
	var perr *payment.ProviderError
	require.ErrorAs(t, err, &perr)

	_, err = f.svc.Next(ctx, user, sess.ID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, FieldPayment)
	_, err = f.svc.Submit(ctx, user, sess.ID)
	require.ErrorIs(t, err, ErrNotAtReview)
	assert.Empty(t, f.orders.orders)

	// Retry succeeds and moves on to review.
	f.provider.captureErr = nil
	po, err := f.svc.BeginPayment(ctx, user, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "PO-1", po.ID)
	sess, err = f.svc.ApprovePayment(ctx, user, sess.ID, "PO-1")
	require.NoError(t, err)
	assert.Equal(t, StepReview, sess.Step)
	assert.Equal(t, payment.StatusCompleted, sess.PaymentStatus())

	_, err = f.svc.Update(ctx, user, sess.ID, FormPatch{TermsAccepted: ptr(true)})
	require.NoError(t, err)
	o, err := f.svc.Submit(ctx, user, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "PO-1", o.Payment.ProviderOrderID)
	assert.Equal(t, "CAP-1", o.Payment.CaptureID)
	require.NotNil(t, o.Payment.CapturedAmount)
	assert.Equal(t, "4480.00", o.Payment.CapturedAmount.StringFixed(2))
	assert.Equal(t, 2, f.provider.captures)
}

func TestSubmit_MalformedReceipt(t *testing.T) {
	tests := []struct {
		name string
		edit func(r *payment.Receipt)
	}{
		{name: "missing amount", edit: func(r *payment.Receipt) { r.Amount = "" }},
		{name: "capture pending", edit: func(r *payment.Receipt) { r.Status = "PENDING" }},
		{name: "missing capture id", edit: func(r *payment.Receipt) { r.CaptureID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			sess := f.toPayment(t, order.MethodPayPal)
			f.provider.edit = tt.edit

			_, err := f.svc.BeginPayment(ctx, user, sess.ID)
			require.NoError(t, err)
			_, err = f.svc.ApprovePayment(ctx, user, sess.ID, "PO-1")
			require.ErrorIs(t, err, payment.ErrMalformedReceipt)

			sess, err = f.svc.Get(ctx, user, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, payment.StatusFailed, sess.PaymentStatus())
			assert.Equal(t, StepPayment, sess.Step)

			_, err = f.svc.Next(ctx, user, sess.ID)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, FieldPayment)

			_, err = f.svc.Submit(ctx, user, sess.ID)
			require.Error(t, err)
			assert.Empty(t, f.orders.orders)
			assert.Empty(t, f.cart.cleared)
			assert.Equal(t, 1, f.logs.FilterMessage("Provider capture receipt rejected").Len())
		})
	}
}

func TestUpdate_SwitchToProviderOnReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toReview(t)

	sess, err := f.svc.Update(ctx, user, sess.ID, FormPatch{PaymentMethod: ptr(order.MethodPayPal)})
	require.NoError(t, err)
	assert.Equal(t, StepPayment, sess.Step)
	assert.Equal(t, payment.StatusNone, sess.PaymentStatus())

	_, err = f.svc.Submit(ctx, user, sess.ID)
	require.ErrorIs(t, err, ErrNotAtReview)

	// The payment step accepts a provider payment again.
	po, err := f.svc.BeginPayment(ctx, user, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "PO-1", po.ID)
	assert.Empty(t, f.orders.orders)
}

func TestSubmit_RejectsIncompleteProviderPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toPayment(t, order.MethodPayPal)

	_, err := f.svc.BeginPayment(ctx, user, sess.ID)
	require.NoError(t, err)

	// Force the session onto review as a stale client might claim it is.
	err = f.svc.sessions.Do(sess.ID, user.ID, func(s *Session) error {
		s.Step = StepReview
		s.Form.TermsAccepted = true
		return nil
	})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, user, sess.ID)
	require.ErrorIs(t, err, ErrPaymentIncomplete)
	assert.Empty(t, f.orders.orders)
	assert.Zero(t, f.ids.next)
}

func TestQuote_EmptyCart(t *testing.T) {
	f := newFixture(t)
	window := pricing.NewRentalWindow(now.AddDate(0, 0, 1), now.AddDate(0, 0, 3))

	b, err := f.svc.Quote(nil, window, pricing.DeliveryDelivery, true)
	require.NoError(t, err)
	assert.True(t, b.Total.IsZero())
	assert.True(t, b.DeliveryFee.IsZero())
	assert.Equal(t, int64(2), b.RentalDays)

	_, err = f.svc.Quote([]pricing.LineItem{{ID: "x", DailyRate: decimal.NewFromInt(1)}}, window, pricing.DeliveryPickup, false)
	require.ErrorIs(t, err, ErrInvalidItem)
}

func TestPayment_LockedAfterCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toPayment(t, order.MethodPayPal)

	_, err := f.svc.BeginPayment(ctx, user, sess.ID)
	require.NoError(t, err)
	_, err = f.svc.ApprovePayment(ctx, user, sess.ID, "PO-1")
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, user, sess.ID, FormPatch{Insurance: ptr(true)})
	require.ErrorIs(t, err, ErrPaymentLocked)
	_, err = f.svc.Update(ctx, user, sess.ID, FormPatch{PaymentMethod: ptr(order.MethodCash)})
	require.ErrorIs(t, err, ErrPaymentLocked)
	_, err = f.svc.Update(ctx, user, sess.ID, FormPatch{Notes: ptr("Leave at the gate")})
	require.NoError(t, err)
}

func TestPayment_SwitchToCashResetsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toPayment(t, order.MethodPayPal)

	_, err := f.svc.FailPayment(ctx, user, sess.ID, "popup closed unexpectedly")
	require.NoError(t, err)

	sess, err = f.svc.Update(ctx, user, sess.ID, FormPatch{PaymentMethod: ptr(order.MethodCash)})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusNone, sess.PaymentStatus())

	_, err = f.svc.BeginPayment(ctx, user, sess.ID)
	require.ErrorIs(t, err, ErrNotProviderPayment)
	sess, err = f.svc.Next(ctx, user, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StepReview, sess.Step)
}

func TestSubmit_PersistenceFailureRetriesWithNewID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toReview(t)

	f.orders.err = errors.New("connection reset")
	_, err := f.svc.Submit(ctx, user, sess.ID)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "RAC250001", perr.OrderID)
	assert.Empty(t, f.cart.cleared)

	sess, err = f.svc.Get(ctx, user, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StepReview, sess.Step)

	f.orders.err = nil
	o, err := f.svc.Submit(ctx, user, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "RAC250002", o.ID)
	assert.Len(t, f.orders.orders, 1)
}

func TestSubmit_DuplicateIDIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toReview(t)

	f.orders.orders = append(f.orders.orders, &order.Order{ID: "RAC250001"})
	_, err := f.svc.Submit(ctx, user, sess.ID)
	require.ErrorIs(t, err, ErrOrderIDCollision)
	assert.Len(t, f.orders.orders, 1)
}

func TestSubmit_AfterCommitFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.cart.err = errors.New("redis down")
	f.notifier.err = errors.New("broker down")
	sess := f.toReview(t)

	o, err := f.svc.Submit(context.Background(), user, sess.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Len(t, f.orders.orders, 1)
	assert.Equal(t, 1, f.logs.FilterMessage("Failed to clear cart after order").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("Failed to publish order notification").Len())
}

func TestSubmit_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.toReview(t)

	first, err := f.svc.Submit(ctx, user, sess.ID)
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, user, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.orders.orders, 1)
	assert.Equal(t, 1, f.ids.next)

	_, err = f.svc.Update(ctx, user, sess.ID, FormPatch{Notes: ptr("late edit")})
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSubmit_ConcurrentDoubleClick(t *testing.T) {
	f := newFixture(t)
	sess := f.toReview(t)

	var wg sync.WaitGroup
	ids := make([]string, 5)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := f.svc.Submit(context.Background(), user, sess.ID)
			if err == nil {
				ids[i] = o.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "RAC250001", id)
	}
	assert.Len(t, f.orders.orders, 1)
}

func TestSession_ForeignUser(t *testing.T) {
	f := newFixture(t)
	sess := f.toReview(t)

	_, err := f.svc.Submit(context.Background(), auth.User{ID: "intruder"}, sess.ID)
	require.ErrorIs(t, err, ErrForbidden)
	require.ErrorIs(t, f.svc.Discard(context.Background(), auth.User{ID: "intruder"}, sess.ID), ErrForbidden)
	require.NoError(t, f.svc.Discard(context.Background(), user, sess.ID))
	_, err = f.svc.Get(context.Background(), user, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOrder_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	sess := f.toReview(t)
	ctx := context.Background()

	o, err := f.svc.Submit(ctx, user, sess.ID)
	require.NoError(t, err)

	got, err := f.svc.Order(ctx, user, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.Order(ctx, auth.User{ID: "intruder"}, o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
	_, err = f.svc.Order(ctx, user, "RAC259999")
	require.ErrorIs(t, err, order.ErrNotFound)
}
