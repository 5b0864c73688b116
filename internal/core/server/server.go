// Package server wires the HTTP surface: protocol routes, probes, metrics
// and graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/config"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/health"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/middleware"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/router"
)

type Routes struct {
	Handler *Handler
	// Pool backs the readiness probe.
	Pool    backend.Pool
	// Metrics serves /metrics; nil falls back to the default registry.
	Metrics http.Handler
	Logger  *slog.Logger
}

func NewRouter(rt Routes) http.Handler {
	logger := rt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metricsHandler := rt.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	h := rt.Handler

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(rt.Pool, 0))
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/{backend}/{dataset}", func(r chi.Router) {
		r.Get("/FeatureServer/query", router.HandleQuery(logger, "query", false, h, h.WriteError))
		r.Get("/FeatureServer/{layer}/query", router.HandleQuery(logger, "query", false, h, h.WriteError))
		r.Get("/FeatureServer/{layer}", h.LayerInfo)
		r.Get("/VectorTileServer/tile/{z}/{y}/{x}", router.HandleQuery(logger, "tile", true, h, h.WriteError))
	})
	return r
}

// Run serves handler on cfg.Addr until ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.BackendTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
