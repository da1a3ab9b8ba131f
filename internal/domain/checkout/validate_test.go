package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/payment"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

var today = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return today.AddDate(0, 0, offset)
}

func validForm() Form {
	f := NewForm()
	f.Rental.StartDate = day(1)
	f.Rental.EndDate = day(3)
	f.Customer = order.Customer{
		FirstName: "Juan",
		LastName:  "Dela Cruz",
		Email:     "juan@example.com",
		Phone:     "+63 917 123 4567",
	}
	return f
}

func TestValidate_Rental(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Form)
		fields []string
	}{
		{name: "valid", mutate: func(*Form) {}},
		{name: "starts today", mutate: func(f *Form) { f.Rental.StartDate = day(0) }},
		{name: "missing dates", mutate: func(f *Form) {
			f.Rental.StartDate = time.Time{}
			f.Rental.EndDate = time.Time{}
		}, fields: []string{FieldStartDate, FieldEndDate}},
		{name: "start in the past", mutate: func(f *Form) { f.Rental.StartDate = day(-1) }, fields: []string{FieldStartDate}},
		{name: "end equals start", mutate: func(f *Form) { f.Rental.EndDate = day(1) }, fields: []string{FieldEndDate}},
		{name: "end before start", mutate: func(f *Form) { f.Rental.EndDate = day(0) }, fields: []string{FieldEndDate}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validForm()
			tt.mutate(&f)
			errs := Validate(StepRental, f, payment.StatusNone, today.Add(15*time.Hour))
			assert.ElementsMatch(t, tt.fields, keys(errs))
		})
	}
}

func TestValidate_Customer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Form)
		fields []string
	}{
		{name: "valid pickup", mutate: func(*Form) {}},
		{name: "blank names", mutate: func(f *Form) {
			f.Customer.FirstName = "  "
			f.Customer.LastName = ""
		}, fields: []string{FieldFirstName, FieldLastName}},
		{name: "email without domain dot", mutate: func(f *Form) { f.Customer.Email = "a@b" }, fields: []string{FieldEmail}},
		{name: "email with space", mutate: func(f *Form) { f.Customer.Email = "a b@c.d" }, fields: []string{FieldEmail}},
		{name: "missing email", mutate: func(f *Form) { f.Customer.Email = "" }, fields: []string{FieldEmail}},
		{name: "short phone", mutate: func(f *Form) { f.Customer.Phone = "12345" }, fields: []string{FieldPhone}},
		{name: "phone with letters", mutate: func(f *Form) { f.Customer.Phone = "0917-ABC-4567" }, fields: []string{FieldPhone}},
		{name: "phone with parens", mutate: func(f *Form) { f.Customer.Phone = "(02) 8123-4567" }},
		{name: "pickup ignores address", mutate: func(f *Form) { f.Address.PostalCode = "abc" }},
		{name: "delivery requires address", mutate: func(f *Form) {
			f.Rental.DeliveryMethod = pricing.DeliveryDelivery
		}, fields: []string{FieldStreet, FieldCity, FieldProvince, FieldPostalCode}},
		{name: "delivery postal code format", mutate: func(f *Form) {
			f.Rental.DeliveryMethod = pricing.DeliveryDelivery
			f.Address = order.Address{Street: "1 Rizal Ave", City: "Manila", Province: "Metro Manila", PostalCode: "10000"}
		}, fields: []string{FieldPostalCode}},
		{name: "delivery postal code with sign", mutate: func(f *Form) {
			f.Rental.DeliveryMethod = pricing.DeliveryDelivery
			f.Address = order.Address{Street: "1 Rizal Ave", City: "Manila", Province: "Metro Manila", PostalCode: "+100"}
		}, fields: []string{FieldPostalCode}},
		{name: "delivery valid", mutate: func(f *Form) {
			f.Rental.DeliveryMethod = pricing.DeliveryDelivery
			f.Address = order.Address{Street: "1 Rizal Ave", City: "Manila", Province: "Metro Manila", PostalCode: "1000"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validForm()
			tt.mutate(&f)
			errs := Validate(StepCustomer, f, payment.StatusNone, today)
			assert.ElementsMatch(t, tt.fields, keys(errs))
		})
	}
}

func TestValidate_CustomerMessages(t *testing.T) {
	f := validForm()
	f.Customer.FirstName = ""
	f.Customer.Email = "juan.example.com"
	f.Customer.Phone = ""
	f.Rental.DeliveryMethod = pricing.DeliveryDelivery
	f.Address = order.Address{Street: "1 Rizal Ave", City: "Manila", Province: "Metro Manila", PostalCode: "12a4"}

	errs := Validate(StepCustomer, f, payment.StatusNone, today)
	assert.Equal(t, Errors{
		FieldFirstName:  "First name is required",
		FieldEmail:      "Email is invalid",
		FieldPhone:      "Phone number is required",
		FieldPostalCode: "Postal code must be 4 digits",
	}, errs)
}

func TestValidate_Payment(t *testing.T) {
	tests := []struct {
		method order.PaymentMethod
		status payment.Status
		ok     bool
	}{
		{method: order.MethodCash, status: payment.StatusNone, ok: true},
		{method: order.MethodCash, status: payment.StatusFailed, ok: true},
		{method: order.MethodPayPal, status: payment.StatusNone},
		{method: order.MethodPayPal, status: payment.StatusPending},
		{method: order.MethodPayPal, status: payment.StatusFailed},
		{method: order.MethodPayPal, status: payment.StatusCompleted, ok: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.method)+"/"+string(tt.status), func(t *testing.T) {
			f := validForm()
			f.PaymentMethod = tt.method
			errs := Validate(StepPayment, f, tt.status, today)
			if tt.ok {
				assert.Empty(t, errs)
			} else {
				assert.Contains(t, errs, FieldPayment)
			}
		})
	}
}

func TestValidate_Review(t *testing.T) {
	f := validForm()
	assert.Contains(t, Validate(StepReview, f, payment.StatusNone, today), FieldTerms)

	f.TermsAccepted = true
	assert.Empty(t, Validate(StepReview, f, payment.StatusNone, today))
}

func keys(errs Errors) []string {
	out := make([]string, 0, len(errs))
	for k := range errs {
		out = append(out, k)
	}
	return out
}
