// Package handler exposes the checkout service as a JSON HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/rental-checkout/internal/domain/auth"
	"github.com/xenking/rental-checkout/internal/domain/checkout"
	"github.com/xenking/rental-checkout/pkg/health"
	"github.com/xenking/rental-checkout/pkg/httpmiddleware"
)

// Handler serves the checkout API. Every route expects an authenticated
// user in the request context.
type Handler struct {
	checkout *checkout.Service
}

// NewHandler creates a Handler for svc.
func NewHandler(svc *checkout.Service) *Handler {
	return &Handler{checkout: svc}
}

// Routes registers the API routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/pricing/quote", h.Quote)

	r.Route("/checkout/sessions", func(r chi.Router) {
		r.Post("/", h.StartSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Patch("/", h.UpdateSession)
			r.Delete("/", h.DiscardSession)
			r.Post("/next", h.Next)
			r.Post("/back", h.Back)
			r.Post("/payment", h.BeginPayment)
			r.Post("/payment/approve", h.ApprovePayment)
			r.Post("/payment/cancel", h.CancelPayment)
			r.Post("/payment/error", h.FailPayment)
			r.Post("/submit", h.Submit)
		})
	})

	r.Get("/orders/{id}", h.GetOrder)
}

// TokenVerifier resolves a bearer token to a user.
type TokenVerifier interface {
	Verify(token string) (*auth.User, error)
}

// RouterConfig assembles the server's root handler.
type RouterConfig struct {
	Handler  *Handler
	Health   *health.Health
	Verifier TokenVerifier
	// Middlewares wrap every route, probes included.
	Middlewares []httpmiddleware.Middleware
	// APIMiddlewares run after authentication on /api routes.
	APIMiddlewares []httpmiddleware.Middleware
}

// NewRouter returns the root handler: probes at /livez and /readyz and the
// authenticated API under /api.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	for _, mw := range cfg.Middlewares {
		r.Use(mw)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	if cfg.Health != nil {
		r.Get("/livez", cfg.Health.LiveEndpoint)
		r.Get("/readyz", cfg.Health.ReadyEndpoint)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(httpmiddleware.Authenticate(authenticate(cfg.Verifier)))
		for _, mw := range cfg.APIMiddlewares {
			r.Use(mw)
		}
		cfg.Handler.Routes(r)
	})
	return r
}

func authenticate(v TokenVerifier) httpmiddleware.AuthFunc {
	return func(ctx context.Context, token string) (context.Context, string, error) {
		u, err := v.Verify(token)
		if err != nil {
			return ctx, "", err
		}
		return auth.WithUser(ctx, u), u.ID, nil
	}
}

func currentUser(r *http.Request) (auth.User, bool) {
	u := auth.FromContext(r.Context())
	if u == nil {
		return auth.User{}, false
	}
	return *u, true
}
