package main

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bnd-apparel/storefront-backend/api/routes"
	"github.com/bnd-apparel/storefront-backend/internal/app"
	"github.com/bnd-apparel/storefront-backend/internal/catalog"
	"github.com/bnd-apparel/storefront-backend/internal/checkout"
	"github.com/bnd-apparel/storefront-backend/internal/customers"
	"github.com/bnd-apparel/storefront-backend/internal/inventory"
	"github.com/bnd-apparel/storefront-backend/internal/orders"
	"github.com/bnd-apparel/storefront-backend/internal/reconciliation"
	"github.com/bnd-apparel/storefront-backend/pkg/metrics"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox"
	"github.com/bnd-apparel/storefront-backend/pkg/toyyibpay"
)

const (
	kind            = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	app.Exit(kind, run())
}

func run() error {
	rt, err := app.Boot(context.Background(), kind)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	cfg, logg := rt.Config, rt.Logger

	redisClient, err := rt.Redis(context.Background())
	if err != nil {
		return err
	}

	storefrontMetrics := metrics.NewStorefrontMetrics(rt.Registry)
	httpMetrics := metrics.NewHTTPMetrics(rt.Registry)

	gateway, err := toyyibpay.NewClient(cfg.ToyyibPay.SecretKey, cfg.ToyyibPay.CategoryCode,
		toyyibpay.WithBaseURL(cfg.ToyyibPay.BaseURL),
		toyyibpay.WithTimeout(cfg.ToyyibPay.Timeout),
		toyyibpay.WithBillName(cfg.ToyyibPay.BillName),
		toyyibpay.WithObserver(storefrontMetrics),
	)
	if err != nil {
		return fmt.Errorf("toyyibpay client: %w", err)
	}

	conn := rt.DB.DB()
	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn))
	if err != nil {
		return fmt.Errorf("catalog service: %w", err)
	}
	orderStore, err := orders.NewStore(orders.NewRepository(conn), logg)
	if err != nil {
		return fmt.Errorf("order store: %w", err)
	}
	ledger := inventory.NewLedger(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	checkoutSvc, err := checkout.NewService(checkout.Dependencies{
		Tx:        rt.DB,
		Ledger:    ledger,
		Customers: customers.NewRegistry(conn),
		Orders:    orderStore,
		Gateway:   gateway,
		Outbox:    emitter,
		Prices:    catalogSvc,
		Metrics:   storefrontMetrics,
		Logger:    logg,
	}, checkout.Options{
		PublicBaseURL:   cfg.App.PublicBaseURL,
		ReferencePrefix: cfg.ToyyibPay.ReferencePrefix,
		MinorUnits:      cfg.Checkout.CurrencyMinorUnits,
		Limits: checkout.Limits{
			MaxLines:        cfg.Checkout.MaxCartLines,
			MaxLineQuantity: cfg.Checkout.MaxLineQuantity,
		},
		EnforceCatalogPrice: cfg.Checkout.EnforceCatalogPrice,
	})
	if err != nil {
		return fmt.Errorf("checkout service: %w", err)
	}

	guard, err := reconciliation.NewCallbackGuard(redisClient, cfg.Checkout.CallbackDedupeTTL)
	if err != nil {
		return fmt.Errorf("callback guard: %w", err)
	}
	reconOpts := []reconciliation.Option{reconciliation.WithCallbackGuard(guard)}
	if cfg.FeatureFlags.ManualVerifyGatewayLookup {
		reconOpts = append(reconOpts, reconciliation.WithGatewayLookup(gateway))
	}
	reconSvc, err := reconciliation.NewService(rt.DB, orderStore, ledger, emitter, storefrontMetrics, logg, reconOpts...)
	if err != nil {
		return fmt.Errorf("reconciliation service: %w", err)
	}

	addr := ":" + cmp.Or(os.Getenv("PORT"), cfg.App.Port)
	ctx, stop := rt.Context()
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"addr":     addr,
		"instance": cmp.Or(os.Getenv("DYNO"), "local"),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Services{
			DB:             rt.DB,
			Redis:          redisClient,
			Catalog:        catalogSvc,
			Checkout:       checkoutSvc,
			Orders:         orderStore,
			Reconciliation: reconSvc,
			Parser:         reconciliation.NewParser(cfg.ToyyibPay.ReferencePrefix),
			Gatherer:       rt.Registry,
			HTTPMetrics:    httpMetrics,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// The checkout handler waits on the gateway, so the write timeout
		// must outlast the gateway timeout.
		WriteTimeout: cfg.ToyyibPay.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := app.Serve(ctx, server, shutdownTimeout); err != nil {
		return err
	}
	logg.Info(ctx, "api server stopped")
	return nil
}
