package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/rental-checkout/internal/cart"
	"github.com/xenking/rental-checkout/internal/domain/auth"
	"github.com/xenking/rental-checkout/internal/domain/checkout"
	"github.com/xenking/rental-checkout/internal/domain/payment"
	"github.com/xenking/rental-checkout/internal/domain/pricing"
	"github.com/xenking/rental-checkout/internal/domain/sequence"
	"github.com/xenking/rental-checkout/internal/handler"
	"github.com/xenking/rental-checkout/internal/paypal"
	"github.com/xenking/rental-checkout/pkg/health"
	"github.com/xenking/rental-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("notify", cfg.Notify.Driver),
	)

	loc, err := time.LoadLocation(cfg.Checkout.Location)
	if err != nil {
		return errors.Wrap(err, "load location")
	}
	rates, err := cfg.Pricing.Rates()
	if err != nil {
		return errors.Wrap(err, "pricing rates")
	}

	// Backends connect concurrently; any failure aborts startup.
	var (
		st       *store
		notifier notifier
		carts    *cart.Redis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st, err = openStore(gctx, cfg.Store, lg)
		return err
	})
	g.Go(func() error {
		var err error
		notifier, err = openNotifier(cfg.Notify, lg)
		return err
	})
	if cfg.Cart.RedisAddr != "" {
		g.Go(func() error {
			carts = cart.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.Cart.RedisAddr}), cfg.Cart.KeyPrefix)
			if err := carts.Ping(gctx); err != nil {
				lg.Warn("Cart store unreachable, carts will not be cleared until it recovers", zap.Error(err))
			}
			return nil
		})
	}
	waitErr := g.Wait()
	defer func() {
		if st != nil {
			st.close()
		}
		if notifier != nil {
			if err := notifier.Close(); err != nil {
				lg.Warn("Close notifier", zap.Error(err))
			}
		}
		if carts != nil {
			if err := carts.Close(); err != nil {
				lg.Warn("Close cart store", zap.Error(err))
			}
		}
	}()
	if waitErr != nil {
		return errors.Wrap(waitErr, "connect backends")
	}

	// Health check service.
	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("store", 5*time.Second, health.PingCheck(st.pinger))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	meter := m.MeterProvider().Meter("checkout")

	// Domain services.
	ids := sequence.NewGenerator(st.counters, sequence.Config{
		Prefix:      cfg.Order.Prefix,
		Counter:     cfg.Order.CounterName,
		MaxAttempts: cfg.Order.MaxRetries,
		Backoff:     cfg.Order.RetryBackoff,
	}, lg.Named("sequence"))

	if cfg.PayPal.ClientID == "" || cfg.PayPal.ClientSecret == "" {
		lg.Warn("PayPal credentials are not set, online payments will fail")
	}
	provider := paypal.New(paypal.Config{
		BaseURL:          cfg.PayPal.BaseURL,
		ClientID:         cfg.PayPal.ClientID,
		ClientSecret:     cfg.PayPal.ClientSecret,
		Timeout:          cfg.PayPal.Timeout,
		BreakerThreshold: cfg.PayPal.BreakerThreshold,
		BreakerTimeout:   cfg.PayPal.BreakerTimeout,
	}, lg.Named("paypal"))
	payments, err := payment.NewOrchestrator(provider, cfg.PayPal.Currency, lg.Named("payment"), meter)
	if err != nil {
		return errors.Wrap(err, "create payment orchestrator")
	}

	sessions := checkout.NewRegistry(cfg.Session.IdleTimeout)
	go sessions.RunSweeper(ctx, cfg.Session.SweepInterval, lg.Named("sessions"))

	opts := checkout.Options{
		Engine:             pricing.NewEngine(rates),
		IDs:                ids,
		Orders:             st.orders,
		Payments:           payments,
		Sessions:           sessions,
		Notifier:           notifier,
		Location:           loc,
		AfterCommitTimeout: cfg.Checkout.AfterCommitTimeout,
		Logger:             lg.Named("checkout"),
		Meter:              meter,
		Tracer:             m.TracerProvider().Tracer("checkout"),
	}
	if carts != nil {
		opts.Cart = carts
	}
	svc, err := checkout.NewService(opts)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Capture and order writes happen inside a request.
		WriteTimeout:   cfg.PayPal.Timeout + 15*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: handler.NewRouter(handler.RouterConfig{
			Handler:  handler.NewHandler(svc),
			Health:   healthSvc,
			Verifier: auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer),
			Middlewares: []httpmiddleware.Middleware{
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(lg),
				httpmiddleware.Recovery(),
				httpmiddleware.Instrument("checkout", m.TracerProvider(), m.MeterProvider()),
				httpmiddleware.LogRequests(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					AllowOrigins:     cfg.CORS.Origins,
					AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
					ExposeHeaders:    []string{httpmiddleware.HeaderRequestID, "Location"},
					AllowCredentials: cfg.CORS.AllowCredentials,
					MaxAge:           86400,
				}),
			},
			APIMiddlewares: []httpmiddleware.Middleware{
				httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
					Max:    cfg.RateLimit.Max,
					Window: cfg.RateLimit.Window,
				}),
			},
		}),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	healthSvc.SetReady(true)
	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
