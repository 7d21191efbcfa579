package main

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bnd-apparel/storefront-backend/internal/app"
	"github.com/bnd-apparel/storefront-backend/internal/cron"
	"github.com/bnd-apparel/storefront-backend/internal/orders"
	"github.com/bnd-apparel/storefront-backend/pkg/metrics"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox"
)

const kind = "cron-worker"

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
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(kind, cmp.Or(cfg.App.Env, "local")), 0)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	jobs, err := buildJobs(rt)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Jobs:     jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(rt.Registry),
		Interval: cfg.Orders.CronInterval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx, stop := rt.Context()
	defer stop()
	logg.Info(logg.WithField(ctx, "jobs", len(service.Jobs())), "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error {
		return app.Serve(groupCtx, &http.Server{
			Addr:              ":" + cfg.App.Port,
			Handler:           metricsMux(rt.Registry),
			ReadHeaderTimeout: 5 * time.Second,
		}, 5*time.Second)
	})
	if err := group.Wait(); err != nil {
		return err
	}
	logg.Info(ctx, "cron worker shut down")
	return nil
}

// buildJobs wires the pending-order expiry sweep and the outbox retention
// sweep against the runtime database.
func buildJobs(rt *app.Runtime) ([]cron.Job, error) {
	cfg, logg, conn := rt.Config, rt.Logger, rt.DB.DB()

	orderStore, err := orders.NewStore(orders.NewRepository(conn), logg)
	if err != nil {
		return nil, fmt.Errorf("order store: %w", err)
	}
	outboxRepo := outbox.NewRepository(conn)

	expiry, err := cron.NewPendingExpiryJob(cron.PendingExpiryJobParams{
		Logger:    logg,
		DB:        rt.DB,
		Orders:    orderStore,
		Outbox:    outbox.NewService(outboxRepo, logg),
		Metrics:   metrics.NewStorefrontMetrics(rt.Registry),
		TTL:       cfg.Orders.PendingTTL,
		BatchSize: cfg.Orders.ExpiryBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("pending expiry job: %w", err)
	}
	retention, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:          logg,
		DB:              rt.DB,
		Outbox:          outboxRepo,
		DLQ:             outbox.NewDLQRepository(conn),
		OutboxRetention: cfg.Orders.OutboxRetention,
		DLQRetention:    cfg.Orders.DLQRetention,
		BatchSize:       cfg.Orders.OutboxPruneBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("retention job: %w", err)
	}
	return []cron.Job{expiry, retention}, nil
}

func metricsMux(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
