package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/nopego-checkout/internal/carrier/shiprocket"
	"github.com/xenking/nopego-checkout/internal/domain/coupon"
	"github.com/xenking/nopego-checkout/internal/domain/order"
	"github.com/xenking/nopego-checkout/internal/fulfillment"
	"github.com/xenking/nopego-checkout/internal/gateway/razorpay"
	"github.com/xenking/nopego-checkout/internal/handler"
	"github.com/xenking/nopego-checkout/internal/httpclient"
	"github.com/xenking/nopego-checkout/internal/notify"
	"github.com/xenking/nopego-checkout/internal/notify/email"
	"github.com/xenking/nopego-checkout/internal/notify/whatsapp"
	"github.com/xenking/nopego-checkout/internal/storage/postgres"
	"github.com/xenking/nopego-checkout/internal/tokencache"
	"github.com/xenking/nopego-checkout/pkg/health"
	"github.com/xenking/nopego-checkout/pkg/httpmiddleware"
)

const outboundTimeout = 10 * time.Second

// Telemetry provides the tracer and meter providers. *app.Telemetry from
// go-faster/sdk implements it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	policy, err := cfg.Store.Policy()
	if err != nil {
		return errors.Wrap(err, "store policy")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Optional Redis for the carrier token and rate limit counters.
	var (
		tokens  tokencache.Store = tokencache.NewMemory()
		limiter httpmiddleware.Limiter
		evict   *httpmiddleware.SlidingWindow
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		tokens = tokencache.NewRedis(rdb, "checkout:token:")
		limiter = httpmiddleware.NewRedisWindow(rdb, "checkout:ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
		lg.Info("Using redis for shared state")
	} else {
		evict = httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
		limiter = evict
	}

	outbound := httpclient.New(outboundTimeout,
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	settlementStore := postgres.NewSettlementStore(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	gateway, err := razorpay.New(razorpay.Config{
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		BaseURL:   cfg.Razorpay.BaseURL,
	}, outbound)
	if err != nil {
		return errors.Wrap(err, "create payment gateway")
	}

	// Fulfillment.
	dispatcher, err := fulfillment.NewDispatcher(cfg.Fulfillment, lg, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create dispatcher")
	}
	deps := fulfillment.Deps{
		Queue:     dispatcher,
		Renderer:  notify.Renderer{AppURL: cfg.AppURL},
		Shipments: orderRepo,
	}
	var tracker handler.ShipmentTracker
	if c := cfg.Shiprocket; c.Enabled() {
		carrier, err := shiprocket.New(shiprocket.Config{
			Email:          c.Email,
			Password:       c.Password,
			BaseURL:        c.BaseURL,
			PickupLocation: c.PickupLocation,
			TokenTTL:       c.TokenTTL,
		}, tokens, outbound)
		if err != nil {
			return errors.Wrap(err, "create carrier")
		}
		deps.Carrier, tracker = carrier, carrier
	} else {
		lg.Info("Shiprocket credentials missing, shipment booking disabled")
	}
	if c := cfg.WhatsApp; c.Enabled() {
		wa, err := whatsapp.New(whatsapp.Config{
			PhoneID:    c.PhoneID,
			Token:      c.Token,
			AdminPhone: c.AdminPhone,
			BaseURL:    c.BaseURL,
		}, outbound)
		if err != nil {
			return errors.Wrap(err, "create whatsapp sender")
		}
		deps.WhatsApp, deps.AdminPhone = wa, wa.AdminPhone()
	} else {
		lg.Info("WhatsApp credentials missing, messages disabled")
	}
	if c := cfg.Email; c.Enabled() {
		mail, err := email.New(email.Config{APIKey: c.APIKey, From: c.From, BaseURL: c.BaseURL}, outbound)
		if err != nil {
			return errors.Wrap(err, "create email sender")
		}
		deps.Email = mail
	} else {
		lg.Info("Email API key missing, confirmation emails disabled")
	}
	fulfiller := fulfillment.NewFulfiller(deps)

	// Domain services.
	telemetry := []order.Option{
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}
	couponValidator := coupon.NewRepoValidator(couponRepo)
	settler, err := order.NewSettler(orderRepo, settlementStore, gateway, couponRepo, fulfiller, telemetry...)
	if err != nil {
		return errors.Wrap(err, "create settler")
	}
	orderService, err := order.NewService(order.Deps{
		Catalog:   catalogRepo,
		Coupons:   couponValidator,
		Customers: customerRepo,
		Orders:    orderRepo,
		Gateway:   gateway,
		Settler:   settler,
		Fulfiller: fulfiller,
		Numbers:   order.NewNumberGenerator(cfg.Store.OrderPrefix),
	}, policy, telemetry...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// HTTP.
	h := handler.New(handler.Config{
		GatewayKeyID: gateway.KeyID(),
		APIKeyPepper: []byte(cfg.APIKeyPepper),
	}, handler.Deps{
		Orders:   orderService,
		Payments: settler,
		Coupons:  couponValidator,
		APIKeys:  apikeyRepo,
		Tracker:  tracker,
	})

	root := chi.NewRouter()
	root.Use(httpmiddleware.LogRequests())
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(httpmiddleware.Wrap(root,
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:          cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				Limiter: limiter,
			}),
		), "checkout-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)

	// Tasks enqueued by in-flight requests must still run, so the
	// dispatcher stops only after the server has shut down.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()
	g.Go(func() error {
		return dispatcher.Run(dispatchCtx, cfg.Graceful.ShutdownTimeout)
	})
	g.Go(func() error {
		return healthSvc.Run(gctx, 10*time.Second)
	})
	if evict != nil {
		g.Go(func() error {
			evict.RunEviction(gctx)
			return nil
		})
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		stopDispatch()
		return nil
	})

	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
