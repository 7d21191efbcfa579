package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bnd-apparel/storefront-backend/api/controllers"
	"github.com/bnd-apparel/storefront-backend/api/middleware"
	"github.com/bnd-apparel/storefront-backend/internal/catalog"
	"github.com/bnd-apparel/storefront-backend/internal/checkout"
	"github.com/bnd-apparel/storefront-backend/internal/orders"
	"github.com/bnd-apparel/storefront-backend/internal/reconciliation"
	"github.com/bnd-apparel/storefront-backend/pkg/config"
	"github.com/bnd-apparel/storefront-backend/pkg/db"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
	"github.com/bnd-apparel/storefront-backend/pkg/metrics"
	"github.com/bnd-apparel/storefront-backend/pkg/redis"
)

// RedisStore is the slice of the redis client the HTTP layer uses for
// idempotent replays and rate limiting.
type RedisStore interface {
	redis.IdempotencyStore
	redis.Pinger
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Services bundles everything the router mounts.
type Services struct {
	DB             db.Pinger
	Redis          RedisStore
	Catalog        catalog.Service
	Checkout       *checkout.Service
	Orders         *orders.Store
	Reconciliation *reconciliation.Service
	Parser         reconciliation.Parser
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics
}

// NewRouter mounts every API, storefront and gateway route.
func NewRouter(cfg *config.Config, logg *logger.Logger, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.ClientScope(),
		middleware.Logging(logg),
		middleware.Metrics(svc.HTTPMetrics),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIPMax,
		cfg.RateLimit.CheckoutEmailMax,
	)
	verifyPolicy := middleware.NewRateLimitPolicy(
		"verify",
		cfg.RateLimit.VerifyWindow,
		cfg.RateLimit.VerifyIPMax,
		0,
	)

	idempotent := middleware.Idempotency(svc.Redis, cfg.Checkout.IdempotencyTTL, logg)
	checkoutLimited := middleware.RateLimit(checkoutPolicy, svc.Redis, logg)
	verifyLimited := middleware.RateLimit(verifyPolicy, svc.Redis, logg)

	readiness := map[string]redis.Pinger{}
	if svc.DB != nil {
		readiness["database"] = svc.DB
	}
	if svc.Redis != nil {
		readiness["redis"] = svc.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})

	if svc.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{}))
	}

	checkoutHandler := controllers.Checkout(svc.Checkout, logg)
	validateStock := controllers.ValidateStock(svc.Checkout, logg)
	checkStock := controllers.CheckStock(svc.Checkout, logg)
	createOrder := controllers.CreateOrder(svc.Checkout, logg)
	verifyPayment := controllers.VerifyPayment(svc.Reconciliation, svc.Parser, logg)
	callback := controllers.ToyyibPayCallback(svc.Reconciliation, svc.Parser, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", controllers.ListProducts(svc.Catalog, logg))
		r.Get("/products/{productId}", controllers.GetProduct(svc.Catalog, logg))

		r.With(checkoutLimited, idempotent).Post("/checkout", checkoutHandler)

		r.Route("/stock", func(r chi.Router) {
			r.Post("/validate", validateStock)
			r.Post("/check", checkStock)
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(checkoutLimited, idempotent).Post("/", createOrder)
			r.Get("/{orderId}", controllers.GetOrder(svc.Orders, logg))
			r.With(verifyLimited).Post("/{orderId}/verify-payment", verifyPayment)
		})
	})

	// Paths the existing storefront pages already call.
	r.With(checkoutLimited, idempotent).Post("/checkout", checkoutHandler)
	r.Post("/api/validate-stock", validateStock)
	r.Post("/api/check-stock", checkStock)
	r.With(checkoutLimited, idempotent).Post("/api/create-pending-order", createOrder)
	r.With(verifyLimited).Post("/api/verify-payment/{orderId}", verifyPayment)

	r.Get("/toyyibpay-callback", callback)
	r.Post("/toyyibpay-callback", callback)
	r.Get("/thank-you/{orderId}", controllers.PaymentReturn(svc.Reconciliation, svc.Parser, svc.Orders, cfg.App.CatalogPath, logg))

	return r
}
