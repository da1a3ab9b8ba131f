// Package pricing computes the price breakdown of a rental from its line
// items, rental window, delivery method and insurance choice.
//
// All arithmetic is done on shopspring decimals at full precision. Rounding
// to two decimal places happens only when a breakdown is persisted, via
// Breakdown.Round.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DeliveryMethod selects how the equipment reaches the customer.
type DeliveryMethod string

const (
	// DeliveryPickup means the customer collects the equipment. No fee.
	DeliveryPickup DeliveryMethod = "pickup"
	// DeliveryDelivery means the equipment is delivered to an address.
	DeliveryDelivery DeliveryMethod = "delivery"
)

// ErrUnknownDeliveryMethod is returned when parsing an unsupported method.
var ErrUnknownDeliveryMethod = errors.New("unknown delivery method")

// ParseDeliveryMethod converts a wire value into a DeliveryMethod.
func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	switch m := DeliveryMethod(s); m {
	case DeliveryPickup, DeliveryDelivery:
		return m, nil
	default:
		return "", errors.Wrapf(ErrUnknownDeliveryMethod, "%q", s)
	}
}

// LineItem is one catalog product with a quantity inside a rental. Line items
// belong to the cart; pricing treats them as read-only input.
type LineItem struct {
	ID        string
	Name      string
	DailyRate decimal.Decimal
	Quantity  int
	Category  string
	Variant   string
}

// DailyTotal returns rate × quantity for a single day.
func (li LineItem) DailyTotal() decimal.Decimal {
	return li.DailyRate.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Total returns the line total for the given number of rental days.
func (li LineItem) Total(days int64) decimal.Decimal {
	return li.DailyTotal().Mul(decimal.NewFromInt(days))
}

// Rates holds the fee and tax parameters of the engine.
type Rates struct {
	// FreeDeliveryThreshold is the subtotal at or above which delivery is free.
	FreeDeliveryThreshold decimal.Decimal
	// DeliveryRate is applied to the subtotal below the threshold.
	DeliveryRate decimal.Decimal
	// InsuranceRate is applied to the subtotal when insurance is selected.
	InsuranceRate decimal.Decimal
	// TaxRate is applied to subtotal + delivery + insurance.
	TaxRate decimal.Decimal
}

// DefaultRates returns the storefront's standard rates.
func DefaultRates() Rates {
	return Rates{
		FreeDeliveryThreshold: decimal.NewFromInt(5000),
		DeliveryRate:          decimal.RequireFromString("0.10"),
		InsuranceRate:         decimal.RequireFromString("0.15"),
		TaxRate:               decimal.RequireFromString("0.12"),
	}
}

// Breakdown is the derived price of a rental. It is recomputed on every input
// change and only persisted as part of an order.
type Breakdown struct {
	RentalDays   int64
	Subtotal     decimal.Decimal
	DeliveryFee  decimal.Decimal
	InsuranceFee decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
}

// Round returns a copy with every monetary field rounded to 2 places.
func (b Breakdown) Round() Breakdown {
	return Breakdown{
		RentalDays:   b.RentalDays,
		Subtotal:     b.Subtotal.Round(2),
		DeliveryFee:  b.DeliveryFee.Round(2),
		InsuranceFee: b.InsuranceFee.Round(2),
		Tax:          b.Tax.Round(2),
		Total:        b.Total.Round(2),
	}
}

// Equal reports whether two breakdowns carry the same values.
func (b Breakdown) Equal(o Breakdown) bool {
	return b.RentalDays == o.RentalDays &&
		b.Subtotal.Equal(o.Subtotal) &&
		b.DeliveryFee.Equal(o.DeliveryFee) &&
		b.InsuranceFee.Equal(o.InsuranceFee) &&
		b.Tax.Equal(o.Tax) &&
		b.Total.Equal(o.Total)
}

// Engine computes breakdowns. The zero value is not usable; construct with
// NewEngine.
type Engine struct {
	rates Rates
}

// NewEngine creates an Engine with the given rates.
func NewEngine(rates Rates) *Engine {
	return &Engine{rates: rates}
}

// Rates returns the engine's configured rates.
func (e *Engine) Rates() Rates {
	return e.rates
}

// Compute returns the price breakdown for the inputs. It is pure: identical
// inputs always produce an identical breakdown.
func (e *Engine) Compute(items []LineItem, window RentalWindow, method DeliveryMethod, insurance bool) Breakdown {
	days := window.Days()

	daily := decimal.Zero
	for _, item := range items {
		daily = daily.Add(item.DailyTotal())
	}
	subtotal := daily.Mul(decimal.NewFromInt(days))

	deliveryFee := decimal.Zero
	if method == DeliveryDelivery && subtotal.LessThan(e.rates.FreeDeliveryThreshold) {
		deliveryFee = subtotal.Mul(e.rates.DeliveryRate)
	}

	insuranceFee := decimal.Zero
	if insurance {
		insuranceFee = subtotal.Mul(e.rates.InsuranceRate)
	}

	taxable := subtotal.Add(deliveryFee).Add(insuranceFee)
	tax := taxable.Mul(e.rates.TaxRate)

	return Breakdown{
		RentalDays:   days,
		Subtotal:     subtotal,
		DeliveryFee:  deliveryFee,
		InsuranceFee: insuranceFee,
		Tax:          tax,
		Total:        taxable.Add(tax),
	}
}
