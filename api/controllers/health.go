package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/bnd-apparel/storefront-backend/api/responses"
	"github.com/bnd-apparel/storefront-backend/pkg/config"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
	"github.com/bnd-apparel/storefront-backend/pkg/redis"
)

const (
	envHeader    = "X-BND-Env"
	readyTimeout = 2 * time.Second
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and reports 503 with the failing names
// when any of them is unreachable.
func HealthReady(cfg *config.Config, deps map[string]redis.Pinger, logg *logger.Logger) http.HandlerFunc {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		failed := map[string]string{}
		for _, name := range names {
			if err := deps[name].Ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(failed))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": names})
	}
}
