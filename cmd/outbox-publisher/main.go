package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bnd-apparel/storefront-backend/internal/app"
	"github.com/bnd-apparel/storefront-backend/pkg/metrics"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox/registry"
	"github.com/bnd-apparel/storefront-backend/pkg/pubsub"
)

const kind = "outbox-publisher"

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

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	// Every topic the registry routes to must exist before the first batch.
	client, err := pubsub.NewClient(context.Background(), cfg.GCP, logg, events.Topics()...)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	rt.OnClose("pubsub", client.Close)

	conn := rt.DB.DB()
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            rt.DB,
		PubSub:        client,
		Repository:    outbox.NewRepository(conn),
		Registry:      events,
		DLQRepository: outbox.NewDLQRepository(conn),
		Metrics:       metrics.NewOutboxMetrics(rt.Registry),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}

	ctx, stop := rt.Context()
	defer stop()
	logg.Info(logg.WithField(ctx, "topics", events.Topics()), "starting outbox publisher")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error {
		return app.Serve(groupCtx, &http.Server{
			Addr:              ":" + cfg.App.Port,
			Handler:           promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}, 5*time.Second)
	})
	if err := group.Wait(); err != nil {
		return err
	}
	logg.Info(ctx, "outbox publisher shut down")
	return nil
}
