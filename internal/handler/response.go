package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/rental-checkout/internal/domain/checkout"
	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

func writeJSON(w http.ResponseWriter, code int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func str(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func money(e *jx.Encoder, name string, v decimal.Decimal) {
	str(e, name, v.StringFixed(2))
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	if t.IsZero() {
		e.Field(name, func(e *jx.Encoder) { e.Null() })
		return
	}
	str(e, name, t.UTC().Format(time.RFC3339))
}

func encodeFieldErrors(e *jx.Encoder, errs checkout.Errors) {
	e.Obj(func(e *jx.Encoder) {
		for _, k := range sortedKeys(errs) {
			str(e, k, errs[k])
		}
	})
}

func encodeBreakdown(e *jx.Encoder, b pricing.Breakdown) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("rental_days", func(e *jx.Encoder) { e.Int64(b.RentalDays) })
		money(e, "subtotal", b.Subtotal)
		money(e, "delivery_fee", b.DeliveryFee)
		money(e, "insurance_fee", b.InsuranceFee)
		money(e, "tax", b.Tax)
		money(e, "total", b.Total)
	})
}

func encodeItems(e *jx.Encoder, items []pricing.LineItem, days int64) {
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			e.Obj(func(e *jx.Encoder) {
				str(e, "id", it.ID)
				str(e, "name", it.Name)
				if it.Category != "" {
					str(e, "category", it.Category)
				}
				if it.Variant != "" {
					str(e, "variant", it.Variant)
				}
				money(e, "daily_rate", it.DailyRate)
				e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
				money(e, "line_total", it.Total(days))
			})
		}
	})
}

func encodeCustomer(e *jx.Encoder, c order.Customer) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "first_name", c.FirstName)
		str(e, "last_name", c.LastName)
		str(e, "email", c.Email)
		str(e, "phone", c.Phone)
	})
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "street", a.Street)
		str(e, "city", a.City)
		str(e, "province", a.Province)
		str(e, "postal_code", a.PostalCode)
	})
}

func encodeSession(e *jx.Encoder, s checkout.Session) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", s.ID)
		str(e, "step", s.Step.String())
		e.Field("step_number", func(e *jx.Encoder) { e.Int(int(s.Step)) })

		f := s.Form
		e.Field("rental", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "start_date", pricing.FormatDate(f.Rental.StartDate))
				str(e, "end_date", pricing.FormatDate(f.Rental.EndDate))
				str(e, "delivery_method", string(f.Rental.DeliveryMethod))
				e.Field("insurance", func(e *jx.Encoder) { e.Bool(f.Rental.Insurance) })
				str(e, "notes", f.Rental.Notes)
			})
		})
		e.Field("customer", func(e *jx.Encoder) { encodeCustomer(e, f.Customer) })
		e.Field("address", func(e *jx.Encoder) { encodeAddress(e, f.Address) })
		str(e, "payment_method", string(f.PaymentMethod))
		e.Field("terms_accepted", func(e *jx.Encoder) { e.Bool(f.TermsAccepted) })

		e.Field("items", func(e *jx.Encoder) { encodeItems(e, s.Items, s.Breakdown.RentalDays) })
		e.Field("pricing", func(e *jx.Encoder) { encodeBreakdown(e, s.Breakdown) })

		e.Field("payment", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "status", string(s.PaymentStatus()))
				a := s.Payment
				if a == nil {
					return
				}
				str(e, "phase", string(a.Phase))
				if a.Order != nil {
					str(e, "provider_order_id", a.Order.ID)
					if a.Order.ApproveURL != "" {
						str(e, "approve_url", a.Order.ApproveURL)
					}
				}
				if a.Receipt != nil {
					str(e, "capture_id", a.Receipt.CaptureID)
				}
				if a.LastError != "" {
					str(e, "error", a.LastError)
				}
			})
		})

		if len(s.Errors) > 0 {
			e.Field("errors", func(e *jx.Encoder) { encodeFieldErrors(e, s.Errors) })
		}
		if s.Order != nil {
			str(e, "order_id", s.Order.ID)
		}
		timestamp(e, "created_at", s.CreatedAt)
		timestamp(e, "updated_at", s.UpdatedAt)
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", o.ID)
		str(e, "status", string(o.Status))
		str(e, "payment_status", string(o.PaymentStatus))
		e.Field("customer", func(e *jx.Encoder) { encodeCustomer(e, o.Customer) })
		e.Field("rental", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "start_date", pricing.FormatDate(o.Rental.StartDate))
				str(e, "end_date", pricing.FormatDate(o.Rental.EndDate))
				e.Field("rental_days", func(e *jx.Encoder) { e.Int64(o.Rental.RentalDays) })
				str(e, "delivery_method", string(o.Rental.DeliveryMethod))
				e.Field("insurance_selected", func(e *jx.Encoder) { e.Bool(o.Rental.InsuranceSelected) })
				if o.Rental.Notes != "" {
					str(e, "notes", o.Rental.Notes)
				}
			})
		})
		if o.DeliveryAddress != nil {
			e.Field("delivery_address", func(e *jx.Encoder) { encodeAddress(e, *o.DeliveryAddress) })
		}
		e.Field("payment", func(e *jx.Encoder) {
			p := o.Payment
			e.Obj(func(e *jx.Encoder) {
				str(e, "method", string(p.Method))
				if p.CaptureID == "" {
					return
				}
				str(e, "provider_order_id", p.ProviderOrderID)
				str(e, "capture_id", p.CaptureID)
				if p.CapturedAmount != nil {
					money(e, "captured_amount", *p.CapturedAmount)
				}
				str(e, "currency", p.Currency)
				if p.CapturedAt != nil {
					timestamp(e, "captured_at", *p.CapturedAt)
				}
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						str(e, "product_id", it.ProductID)
						str(e, "name", it.Name)
						money(e, "daily_rate", it.DailyRate)
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						money(e, "line_total", it.LineTotal)
					})
				}
			})
		})
		e.Field("pricing", func(e *jx.Encoder) { encodeBreakdown(e, o.Pricing) })
		timestamp(e, "terms_accepted_at", o.TermsAcceptedAt)
		timestamp(e, "created_at", o.CreatedAt)
	})
}
