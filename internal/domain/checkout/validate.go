package checkout

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/rental-checkout/internal/domain/payment"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

// Field keys of the validation error map.
const (
	FieldStartDate  = "start_date"
	FieldEndDate    = "end_date"
	FieldFirstName  = "first_name"
	FieldLastName   = "last_name"
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldStreet     = "street"
	FieldCity       = "city"
	FieldProvince   = "province"
	FieldPostalCode = "postal_code"
	FieldPayment    = "payment"
	FieldTerms      = "terms"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9\s\-()]{7,20}$`)

// contactInput is the step 2 snapshot checked for every checkout.
type contactInput struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,phone"`
}

// addressInput is the step 2 snapshot checked for deliveries.
type addressInput struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	Province   string `json:"province" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required,len=4,number"`
}

// messages maps a field key and failed rule to the message shown for it.
var messages = map[string]map[string]string{
	FieldFirstName: {"required": "First name is required"},
	FieldLastName:  {"required": "Last name is required"},
	FieldEmail:     {"required": "Email is required", "email": "Email is invalid"},
	FieldPhone:     {"required": "Phone number is required", "phone": "Phone number is invalid"},
	FieldStreet:    {"required": "Street address is required for delivery"},
	FieldCity:      {"required": "City is required for delivery"},
	FieldProvince:  {"required": "Province is required for delivery"},
	FieldPostalCode: {
		"required": "Postal code is required for delivery",
		"len":      "Postal code must be 4 digits",
		"number":   "Postal code must be 4 digits",
	},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Errors maps form fields to messages. An empty map means valid.
type Errors map[string]string

// Validate checks the inputs that gate leaving step. It is a pure function of
// its arguments; today is the current calendar date.
func Validate(step Step, f Form, paymentStatus payment.Status, today time.Time) Errors {
	errs := make(Errors)
	switch step {
	case StepRental:
		validateRental(errs, f.Rental, pricing.Date(today))
	case StepCustomer:
		validateCustomer(errs, f)
	case StepPayment:
		if f.PaymentMethod.IsProvider() && paymentStatus != payment.StatusCompleted {
			errs[FieldPayment] = "Please complete the online payment before continuing"
		}
	case StepReview:
		if !f.TermsAccepted {
			errs[FieldTerms] = "You must accept the terms and conditions"
		}
	}
	return errs
}

func validateRental(errs Errors, r RentalDetails, today time.Time) {
	if r.StartDate.IsZero() {
		errs[FieldStartDate] = "Start date is required"
	} else if r.StartDate.Before(today) {
		errs[FieldStartDate] = "Start date cannot be in the past"
	}

	if r.EndDate.IsZero() {
		errs[FieldEndDate] = "End date is required"
	} else if !r.StartDate.IsZero() && !r.EndDate.After(r.StartDate) {
		errs[FieldEndDate] = "End date must be after start date"
	}
}

func validateCustomer(errs Errors, f Form) {
	c := f.Customer
	collect(errs, validate.Struct(contactInput{
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		Email:     strings.TrimSpace(c.Email),
		Phone:     strings.TrimSpace(c.Phone),
	}))

	if f.Rental.DeliveryMethod != pricing.DeliveryDelivery {
		return
	}
	a := f.Address
	collect(errs, validate.Struct(addressInput{
		Street:     strings.TrimSpace(a.Street),
		City:       strings.TrimSpace(a.City),
		Province:   strings.TrimSpace(a.Province),
		PostalCode: strings.TrimSpace(a.PostalCode),
	}))
}

// collect copies the field failures of a validator error into errs.
func collect(errs Errors, err error) {
	var failures validator.ValidationErrors
	if !errors.As(err, &failures) {
		return
	}
	for _, fe := range failures {
		msg, ok := messages[fe.Field()][fe.Tag()]
		if !ok {
			msg = "Value is invalid"
		}
		errs[fe.Field()] = msg
	}
}
