package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/rental-checkout/internal/domain/auth"
	"github.com/xenking/rental-checkout/internal/domain/checkout"
)

// BeginPayment handles POST /api/checkout/sessions/{id}/payment. The
// response carries the provider order the storefront hands to the payment
// widget.
func (h *Handler) BeginPayment(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	po, err := h.checkout.BeginPayment(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("provider_order_id", func(e *jx.Encoder) { e.Str(po.ID) })
			e.Field("status", func(e *jx.Encoder) { e.Str(po.Status) })
			if po.ApproveURL != "" {
				e.Field("approve_url", func(e *jx.Encoder) { e.Str(po.ApproveURL) })
			}
		})
	})
}

// ApprovePayment handles POST /api/checkout/sessions/{id}/payment/approve.
func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	h.serveSession(w, r, func(r *http.Request, user auth.User, id string) (checkout.Session, error) {
		providerOrderID, err := decodeField(w, r, "provider_order_id")
		if err != nil {
			return checkout.Session{}, err
		}
		return h.checkout.ApprovePayment(r.Context(), user, id, providerOrderID)
	})
}

// CancelPayment handles POST /api/checkout/sessions/{id}/payment/cancel.
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	h.serveSession(w, r, func(r *http.Request, user auth.User, id string) (checkout.Session, error) {
		return h.checkout.CancelPayment(r.Context(), user, id)
	})
}

// FailPayment handles POST /api/checkout/sessions/{id}/payment/error.
func (h *Handler) FailPayment(w http.ResponseWriter, r *http.Request) {
	h.serveSession(w, r, func(r *http.Request, user auth.User, id string) (checkout.Session, error) {
		reason, err := decodeField(w, r, "reason")
		if err != nil {
			return checkout.Session{}, err
		}
		return h.checkout.FailPayment(r.Context(), user, id, reason)
	})
}
