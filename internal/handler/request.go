package handler

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/rental-checkout/internal/domain/checkout"
	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

const maxBodySize = 1 << 20

// requestError marks a malformed request body.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return "invalid request: " + e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &requestError{err: err}
}

// decodeObject reads a JSON object body and calls fn for every key. An
// empty body is an empty object.
func decodeObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return badRequest(errors.Wrap(err, "read body"))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	d := jx.DecodeBytes(body)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		return badRequest(err)
	}
	return nil
}

// decodeField reads a single optional string field from an object body.
func decodeField(w http.ResponseWriter, r *http.Request, name string) (string, error) {
	var v string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != name {
			return d.Skip()
		}
		s, err := optString(d)
		if s != nil {
			v = *s
		}
		return err
	})
	return v, err
}

type startRequest struct {
	Items []pricing.LineItem
}

func decodeStart(w http.ResponseWriter, r *http.Request) (startRequest, error) {
	var req startRequest
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if key != "items" {
			return d.Skip()
		}
		items, err := decodeItems(d)
		req.Items = items
		return err
	})
	return req, err
}

type quoteRequest struct {
	Items          []pricing.LineItem
	StartDate      time.Time
	EndDate        time.Time
	DeliveryMethod pricing.DeliveryMethod
	Insurance      bool
}

func decodeQuote(w http.ResponseWriter, r *http.Request) (quoteRequest, error) {
	req := quoteRequest{DeliveryMethod: pricing.DeliveryPickup}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeItems(d)
		case "start_date":
			req.StartDate, err = decodeDate(d)
		case "end_date":
			req.EndDate, err = decodeDate(d)
		case "delivery_method":
			req.DeliveryMethod, err = decodeDeliveryMethod(d)
		case "insurance":
			req.Insurance, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

// decodePatch reads a form update. Absent keys leave the field unchanged;
// null clears text and date fields.
func decodePatch(w http.ResponseWriter, r *http.Request) (checkout.FormPatch, error) {
	var p checkout.FormPatch
	texts := map[string]**string{
		"notes":       &p.Notes,
		"first_name":  &p.FirstName,
		"last_name":   &p.LastName,
		"email":       &p.Email,
		"phone":       &p.Phone,
		"street":      &p.Street,
		"city":        &p.City,
		"province":    &p.Province,
		"postal_code": &p.PostalCode,
	}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		if dst, ok := texts[key]; ok {
			s, err := optString(d)
			*dst = s
			return err
		}
		switch key {
		case "start_date":
			t, err := decodeDate(d)
			p.StartDate = &t
			return err
		case "end_date":
			t, err := decodeDate(d)
			p.EndDate = &t
			return err
		case "delivery_method":
			m, err := decodeDeliveryMethod(d)
			p.DeliveryMethod = &m
			return err
		case "insurance":
			v, err := d.Bool()
			p.Insurance = &v
			return err
		case "payment_method":
			s, err := d.Str()
			m := order.PaymentMethod(s)
			p.PaymentMethod = &m
			return err
		case "terms_accepted":
			v, err := d.Bool()
			p.TermsAccepted = &v
			return err
		default:
			return d.Skip()
		}
	})
	return p, err
}

func decodeItems(d *jx.Decoder) ([]pricing.LineItem, error) {
	var items []pricing.LineItem
	err := d.Arr(func(d *jx.Decoder) error {
		var it pricing.LineItem
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				it.ID, err = d.Str()
			case "name":
				it.Name, err = d.Str()
			case "daily_rate":
				it.DailyRate, err = decodeDecimal(d)
			case "quantity":
				it.Quantity, err = d.Int()
			case "category":
				it.Category, err = d.Str()
			case "variant":
				it.Variant, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Decimal{}, errors.Errorf("expected decimal, got %s", d.Next())
	}
}

func decodeDate(d *jx.Decoder) (time.Time, error) {
	s, err := optString(d)
	if err != nil || s == nil {
		return time.Time{}, err
	}
	return pricing.ParseDate(*s)
}

func decodeDeliveryMethod(d *jx.Decoder) (pricing.DeliveryMethod, error) {
	s, err := d.Str()
	if err != nil {
		return "", err
	}
	return pricing.ParseDeliveryMethod(s)
}

// optString reads a string, mapping null to the empty string.
func optString(d *jx.Decoder) (*string, error) {
	if d.Next() == jx.Null {
		empty := ""
		return &empty, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	return &s, nil
}
