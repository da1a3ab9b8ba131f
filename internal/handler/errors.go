package handler

import (
	"net/http"
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/rental-checkout/internal/domain/checkout"
	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/payment"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
	"github.com/xenking/rental-checkout/internal/domain/sequence"
)

// conflicts are rejected because of the checkout's current state.
var conflicts = []error{
	checkout.ErrAlreadySubmitted,
	checkout.ErrNotAtReview,
	checkout.ErrWrongStep,
	checkout.ErrPaymentIncomplete,
	checkout.ErrPaymentLocked,
	checkout.ErrNotProviderPayment,
	payment.ErrAlreadyCompleted,
	payment.ErrCaptureInProgress,
	payment.ErrNoProviderOrder,
	payment.ErrHandleMismatch,
}

// badInputs are rejected because of what the client sent.
var badInputs = []error{
	checkout.ErrEmptyCart,
	checkout.ErrInvalidItem,
	checkout.ErrUnknownPaymentMethod,
	pricing.ErrUnknownDeliveryMethod,
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// fail maps a domain error to a response. Server side failures are logged
// with the request logger; the client only sees a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())

	var (
		verr *checkout.ValidationError
		rerr *requestError
		perr *checkout.PersistenceError
		prov *payment.ProviderError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusUnprocessableEntity) })
				str(e, "message", "please correct the highlighted fields")
				str(e, "step", verr.Step.String())
				e.Field("fields", func(e *jx.Encoder) { encodeFieldErrors(e, verr.Fields) })
			})
		})
	case errors.As(err, &rerr), isAny(err, badInputs):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkout.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "checkout session not found")
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, checkout.ErrForbidden):
		writeError(w, http.StatusForbidden, "checkout session belongs to another user")
	case isAny(err, conflicts):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &perr), errors.Is(err, sequence.ErrContention):
		lg.Error("Order not saved", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "we could not save your order, please try again")
	case errors.As(err, &prov), errors.Is(err, payment.ErrMalformedReceipt):
		lg.Warn("Payment provider failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "the payment provider is unavailable, please try again")
	case errors.Is(err, checkout.ErrOrderIDCollision):
		lg.Error("Order id collision", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "your order could not be placed, please contact support")
	default:
		lg.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func sortedKeys(errs checkout.Errors) []string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
