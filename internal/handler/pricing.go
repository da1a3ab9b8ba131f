package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

// Quote handles POST /api/pricing/quote: the breakdown of a cart for a
// rental window without opening a checkout.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuote(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.checkout.Quote(req.Items, pricing.NewRentalWindow(req.StartDate, req.EndDate), req.DeliveryMethod, req.Insurance)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeBreakdown(e, b) })
}
