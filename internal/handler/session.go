package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/rental-checkout/internal/domain/auth"
	"github.com/xenking/rental-checkout/internal/domain/checkout"
)

// sessionOp is a checkout operation that returns the updated session.
type sessionOp func(r *http.Request, user auth.User, id string) (checkout.Session, error)

// serveSession runs op for the session in the URL and writes the result.
func (h *Handler) serveSession(w http.ResponseWriter, r *http.Request, op sessionOp) {
	user, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	sess, err := op(r, user, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSession(e, sess) })
}

// StartSession handles POST /api/checkout/sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	req, err := decodeStart(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.checkout.Start(r.Context(), user, req.Items)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/checkout/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeSession(e, sess) })
}

// GetSession handles GET /api/checkout/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.serveSession(w, r, func(r *http.Request, user auth.User, id string) (checkout.Session, error) {
		return h.checkout.Get(r.Context(), user, id)
	})
}

// UpdateSession handles PATCH /api/checkout/sessions/{id}.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	h.serveSession(w, r, func(r *http.Request, user auth.User, id string) (checkout.Session, error) {
		patch, err := decodePatch(w, r)
		if err != nil {
			return checkout.Session{}, err
		}
		return h.checkout.Update(r.Context(), user, id, patch)
	})
}

// DiscardSession handles DELETE /api/checkout/sessions/{id}.
func (h *Handler) DiscardSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := h.checkout.Discard(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Next handles POST /api/checkout/sessions/{id}/next.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	h.serveSession(w, r, func(r *http.Request, user auth.User, id string) (checkout.Session, error) {
		return h.checkout.Next(r.Context(), user, id)
	})
}

// Back handles POST /api/checkout/sessions/{id}/back.
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	h.serveSession(w, r, func(r *http.Request, user auth.User, id string) (checkout.Session, error) {
		return h.checkout.Back(r.Context(), user, id)
	})
}

// Submit handles POST /api/checkout/sessions/{id}/submit. Repeating it
// returns the order written by the first call.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	o, err := h.checkout.Submit(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}
