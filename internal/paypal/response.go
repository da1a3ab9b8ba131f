package paypal

import (
	"time"

	"github.com/xenking/rental-checkout/internal/domain/payment"
)

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type capture struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Amount     *money    `json:"amount"`
	CreateTime time.Time `json:"create_time"`
	UpdateTime time.Time `json:"update_time"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
	Payer  *struct {
		PayerID      string `json:"payer_id"`
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Payments *struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (r *orderResponse) approveURL() string {
	for _, l := range r.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// receipt extracts the first capture. Missing parts are left empty for
// payment.Receipt.Validate to reject.
func (r *orderResponse) receipt() *payment.Receipt {
	rc := &payment.Receipt{ProviderOrderID: r.ID}
	if r.Payer != nil {
		rc.PayerID = r.Payer.PayerID
		rc.PayerEmail = r.Payer.EmailAddress
	}
	for _, pu := range r.PurchaseUnits {
		if pu.Payments == nil || len(pu.Payments.Captures) == 0 {
			continue
		}
		c := pu.Payments.Captures[0]
		rc.CaptureID = c.ID
		rc.Status = c.Status
		rc.CreateTime = c.CreateTime
		rc.UpdateTime = c.UpdateTime
		if c.Amount != nil {
			rc.Amount = c.Amount.Value
			rc.Currency = c.Amount.CurrencyCode
		}
		break
	}
	return rc
}
