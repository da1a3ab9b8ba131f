package checkout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors for checkout operations.
var (
	// ErrSessionNotFound is returned for unknown, expired or discarded
	// sessions.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrForbidden is returned when a session is accessed by a user other
	// than its owner.
	ErrForbidden = errors.New("checkout session belongs to another user")
	// ErrEmptyCart is returned when starting a checkout without items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidItem is returned for a cart line that cannot be priced.
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrUnknownPaymentMethod is returned for an unsupported payment method.
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	// ErrAlreadySubmitted is returned when modifying a submitted session.
	ErrAlreadySubmitted = errors.New("checkout already submitted")
	// ErrNotAtReview is returned when submitting before the review step.
	ErrNotAtReview = errors.New("checkout is not at the review step")
	// ErrTermsNotAccepted is returned when submitting without accepting the
	// terms and conditions.
	ErrTermsNotAccepted = errors.New("terms and conditions not accepted")
	// ErrPaymentIncomplete is returned when submitting a provider payment
	// that has not been captured.
	ErrPaymentIncomplete = errors.New("payment not completed")
	// ErrPaymentLocked is returned when changing the amount or the payment
	// method after funds were captured.
	ErrPaymentLocked = errors.New("payment already captured for this checkout")
	// ErrNotProviderPayment is returned when starting a provider payment for
	// a checkout paid in cash.
	ErrNotProviderPayment = errors.New("payment method does not use the payment provider")
	// ErrWrongStep is returned when an operation is not allowed at the
	// current step.
	ErrWrongStep = errors.New("operation not allowed at this step")
	// ErrOrderIDCollision is returned when the store already holds an order
	// with the generated id. It is not retried.
	ErrOrderIDCollision = errors.New("order id collision")
)

// ValidationError is returned when a step gate rejects the form.
type ValidationError struct {
	Step   Step
	Fields Errors
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s step invalid: %s", e.Step, strings.Join(keys, ", "))
}

// Is lets errors.Is(err, ErrTermsNotAccepted) match a review-step rejection.
func (e *ValidationError) Is(target error) bool {
	if target == ErrTermsNotAccepted {
		_, ok := e.Fields[FieldTerms]
		return ok
	}
	return false
}

// PersistenceError is returned when the order could not be written. The
// checkout stays at review and may be submitted again.
type PersistenceError struct {
	OrderID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("save order %s: %v", e.OrderID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
