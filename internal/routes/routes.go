package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/bazaar-market/escrow/internal/auth"
	"github.com/bazaar-market/escrow/internal/config"
	"github.com/bazaar-market/escrow/internal/escrow"
	"github.com/bazaar-market/escrow/internal/funding"
	"github.com/bazaar-market/escrow/internal/ledger"
	"github.com/bazaar-market/escrow/internal/lock"
	"github.com/bazaar-market/escrow/internal/metrics"
	"github.com/bazaar-market/escrow/internal/middleware"
	"github.com/bazaar-market/escrow/internal/notification"
	"github.com/bazaar-market/escrow/internal/store"
)

// Backend is the transactional store the API runs on.
type Backend interface {
	store.UnitOfWork
	Ping(ctx context.Context) error
}

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	Store   Backend
	Cache   redis.UniversalClient
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDevelopment() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger, "/healthz", "/metrics"))

	// Services and handlers
	breaker := store.NewBreaker(d.Store, store.BreakerConfig{
		MaxFailures: d.Cfg.BreakerMaxFailures,
		OpenTimeout: d.Cfg.BreakerOpenTimeout,
	}, d.Logger)
	engine := ledger.NewEngine(d.Cfg.Currency)

	var locker lock.Locker = lock.Noop{}
	if d.Cfg.OrderLockEnabled && d.Cache != nil {
		opts := lock.DefaultOptions()
		opts.Expiry = d.Cfg.OrderLockExpiry
		locker = lock.NewRedis(d.Cache, opts, d.Logger)
	}

	coordinator := escrow.NewCoordinator(breaker, engine, d.Logger,
		escrow.WithLocker(locker),
		escrow.WithNotifier(notification.NewLoggerNotifier(d.Logger)),
		escrow.WithMetrics(d.Metrics),
		escrow.WithRetryPolicy(escrow.RetryPolicy{
			MaxRetries: d.Cfg.TxMaxRetries,
			BaseDelay:  d.Cfg.TxRetryBaseDelay,
			MaxDelay:   escrow.DefaultRetryPolicy().MaxDelay,
		}),
	)
	fundingSvc := funding.NewService(breaker, engine, d.Metrics, d.Logger)

	orderHandler := escrow.NewHandler(coordinator)
	fundingHandler := funding.NewHandler(fundingSvc)

	// Health and metrics
	RegisterHealthRoutes(app, d, breaker)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Protected routes
	verifier := auth.NewVerifier(d.Cfg.JWTSecret, d.Cfg.JWTIssuer)
	protected := api.Group("", middleware.JWTAuth(verifier))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, middleware.IdempotencyConfig{TTL: d.Cfg.IdempotencyTTL}, d.Logger))
	}
	orderLimiter := middleware.RateLimit(d.Cache, "orders", d.Cfg.OrderRateLimit)
	RegisterOrderRoutes(protected, orderHandler, orderLimiter)
	RegisterWalletRoutes(protected, fundingHandler)

	admin := protected.Group("/admin", middleware.RequireAdmin())
	RegisterAdminRoutes(admin, orderHandler, fundingHandler)

	return nil
}
