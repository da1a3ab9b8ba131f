package checkout

import (
	"time"

	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

// Step is a position in the checkout flow.
type Step int

const (
	StepRental Step = iota + 1
	StepCustomer
	StepPayment
	StepReview
	StepSubmitted
)

func (s Step) String() string {
	switch s {
	case StepRental:
		return "rental"
	case StepCustomer:
		return "customer"
	case StepPayment:
		return "payment"
	case StepReview:
		return "review"
	case StepSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// RentalDetails is the step 1 input.
type RentalDetails struct {
	StartDate      time.Time
	EndDate        time.Time
	DeliveryMethod pricing.DeliveryMethod
	Insurance      bool
	Notes          string
}

// Window returns the rental window of the details.
func (r RentalDetails) Window() pricing.RentalWindow {
	return pricing.NewRentalWindow(r.StartDate, r.EndDate)
}

// Form is everything the customer enters during checkout.
type Form struct {
	Rental        RentalDetails
	Customer      order.Customer
	Address       order.Address
	PaymentMethod order.PaymentMethod
	TermsAccepted bool
}

// NewForm returns the initial form: pickup, no insurance, cash.
func NewForm() Form {
	return Form{
		Rental:        RentalDetails{DeliveryMethod: pricing.DeliveryPickup},
		PaymentMethod: order.MethodCash,
	}
}

// FormPatch is a partial form update; nil fields are left unchanged.
type FormPatch struct {
	StartDate      *time.Time
	EndDate        *time.Time
	DeliveryMethod *pricing.DeliveryMethod
	Insurance      *bool
	Notes          *string

	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string

	Street     *string
	City       *string
	Province   *string
	PostalCode *string

	PaymentMethod *order.PaymentMethod
	TermsAccepted *bool
}

// TouchesPricing reports whether the patch changes an input of the price
// breakdown.
func (p FormPatch) TouchesPricing() bool {
	return p.StartDate != nil || p.EndDate != nil || p.DeliveryMethod != nil || p.Insurance != nil
}

// Apply writes the patch into f.
func (p FormPatch) Apply(f *Form) {
	setTime(&f.Rental.StartDate, p.StartDate)
	setTime(&f.Rental.EndDate, p.EndDate)
	if p.DeliveryMethod != nil {
		f.Rental.DeliveryMethod = *p.DeliveryMethod
	}
	set(&f.Rental.Insurance, p.Insurance)
	set(&f.Rental.Notes, p.Notes)

	set(&f.Customer.FirstName, p.FirstName)
	set(&f.Customer.LastName, p.LastName)
	set(&f.Customer.Email, p.Email)
	set(&f.Customer.Phone, p.Phone)

	set(&f.Address.Street, p.Street)
	set(&f.Address.City, p.City)
	set(&f.Address.Province, p.Province)
	set(&f.Address.PostalCode, p.PostalCode)

	if p.PaymentMethod != nil {
		f.PaymentMethod = *p.PaymentMethod
	}
	set(&f.TermsAccepted, p.TermsAccepted)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setTime(dst *time.Time, v *time.Time) {
	if v != nil {
		*dst = pricing.Date(*v)
	}
}
