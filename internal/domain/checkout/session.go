package checkout

import (
	"slices"
	"time"

	"github.com/xenking/rental-checkout/internal/domain/auth"
	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/payment"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

// Session is one customer's checkout in progress. It is owned by the
// Registry and only touched inside Registry.Do.
type Session struct {
	ID        string
	User      auth.User
	Step      Step
	Form      Form
	Items     []pricing.LineItem
	Breakdown pricing.Breakdown
	// Errors holds the field errors of the last rejected transition.
	Errors  Errors
	Payment *payment.Attempt

	TermsAcceptedAt time.Time
	// Order is set once the checkout is submitted.
	Order *order.Order

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentStatus returns the status of the provider payment attempt.
func (s *Session) PaymentStatus() payment.Status {
	if s.Payment == nil {
		return payment.StatusNone
	}
	return s.Payment.Status
}

// Submitted reports whether the order has been written.
func (s *Session) Submitted() bool {
	return s.Step == StepSubmitted && s.Order != nil
}

// Clone returns a copy that shares no mutable state with s.
func (s *Session) Clone() Session {
	c := *s
	c.Items = slices.Clone(s.Items)
	if s.Errors != nil {
		c.Errors = make(Errors, len(s.Errors))
		for k, v := range s.Errors {
			c.Errors[k] = v
		}
	}
	if s.Payment != nil {
		a := *s.Payment
		if a.Order != nil {
			po := *a.Order
			a.Order = &po
		}
		if a.Receipt != nil {
			r := *a.Receipt
			a.Receipt = &r
		}
		c.Payment = &a
	}
	return c
}
