package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/geo-search-bridge/internal/backend"
	"github.com/mohammed-shakir/geo-search-bridge/internal/backend/elastic"
	"github.com/mohammed-shakir/geo-search-bridge/internal/cache/redisstore"
	"github.com/mohammed-shakir/geo-search-bridge/internal/cache/tilecache"
	"github.com/mohammed-shakir/geo-search-bridge/internal/capability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/catalog"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/config"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/httpclient"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/core/server"
	"github.com/mohammed-shakir/geo-search-bridge/internal/decision/simple"
	"github.com/mohammed-shakir/geo-search-bridge/internal/gridagg"
	"github.com/mohammed-shakir/geo-search-bridge/internal/hotness/expdecay"
	"github.com/mohammed-shakir/geo-search-bridge/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/geo-search-bridge/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geo-search-bridge/internal/logger"
	"github.com/mohammed-shakir/geo-search-bridge/internal/metadata"
	"github.com/mohammed-shakir/geo-search-bridge/internal/metrics"
	"github.com/mohammed-shakir/geo-search-bridge/internal/orchestrator"
	"github.com/mohammed-shakir/geo-search-bridge/internal/predicate"
	"github.com/mohammed-shakir/geo-search-bridge/internal/queryevents"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	catalogFlag := flag.String("catalog", "", "dataset catalog file (overrides CATALOG_PATH)")
	flag.Parse()

	cfg := config.FromEnv()
	if *catalogFlag != "" {
		cfg.CatalogPath = strings.TrimSpace(*catalogFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "featureserver",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.Metrics.Addr,
			Path:    cfg.Metrics.Path,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(p.Registerer(), true)
		metricsHandler = p.Handler()
		if cfg.Metrics.Addr != "" && cfg.Metrics.Addr != cfg.Addr {
			go serveMetrics(ctx, appLog, cfg.Metrics, p.Handler())
		}
	} else {
		observability.Init(nil, false)
	}
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting featureserver",
		"addr", cfg.Addr,
		"version", Version,
		"catalog", cfg.CatalogPath,
		"cache", cfg.Cache.Backend)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		appLog.Error("catalog load failed", "err", err)
		return 1
	}

	pool, err := buildPool(cat, cfg, appLog)
	if err != nil {
		appLog.Error("backend setup failed", "err", err)
		return 1
	}

	caps := capability.NewSet()
	if err := caps.Builtins(); err != nil {
		appLog.Error("capability setup failed", "err", err)
		return 1
	}
	if err := gridagg.Register(caps); err != nil {
		appLog.Error("capability setup failed", "err", err)
		return 1
	}

	engine := orchestrator.New(cat, pool, metadata.New(pool, appLog), orchestrator.Options{
		Translator:   predicate.NewTranslator(predicate.NewParser(cfg.PredicateCacheSize)),
		Capabilities: caps,
		Logger:       appLog,
	})
	if err := engine.Validate(); err != nil {
		appLog.Error("catalog references unknown capabilities", "err", err)
		return 1
	}

	cache, closeCache, err := buildCache(ctx, cfg.Cache, appLog)
	if err != nil {
		appLog.Error("cache setup failed", "err", err)
		return 1
	}
	defer closeCache()

	if cfg.Invalidation.Enabled && cache != nil {
		cons := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Invalidation.Topic,
			GroupID: cfg.Invalidation.GroupID,
		}, appLog, cache)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	var events *queryevents.Publisher
	if cfg.Events.Enabled {
		events, err = queryevents.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.QueueSize, appLog)
		if err != nil {
			appLog.Error("query events setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := events.Close(); err != nil {
				appLog.Warn("query events close", "err", err)
			}
		}()
	}

	handler := server.NewRouter(server.Routes{
		Handler: server.NewHandler(engine, cache, events, appLog),
		Pool:    pool,
		Metrics: metricsHandler,
		Logger:  appLog,
	})
	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// buildPool creates one client per catalog backend, each with its own
// transport so TLS settings stay per backend.
func buildPool(cat *catalog.Catalog, cfg config.Config, log *slog.Logger) (backend.Pool, error) {
	pool := backend.Pool{}
	for _, id := range cat.BackendIDs() {
		be, _ := cat.Backend(id)
		rt := httpclient.NewTransport(httpclient.Options{InsecureSkipVerify: be.InsecureSkipVerify})
		c, err := elastic.New(id, *be, rt, cfg.BackendTimeout, log)
		if err != nil {
			return nil, err
		}
		pool[id] = c
	}
	if len(pool) == 0 {
		return nil, errors.New("catalog defines no backends")
	}
	return pool, nil
}

func buildCache(ctx context.Context, cfg config.CacheCfg, log *slog.Logger) (*tilecache.Cache, func(), error) {
	tc := tilecache.Config{TTL: cfg.TTL, OpTimeout: cfg.OpTimeout, TilesOnly: cfg.TilesOnly}
	if cfg.Backend != "none" && cfg.AdmitThreshold > 0 {
		tracker := expdecay.New(cfg.HotnessHalfLife)
		go tracker.Run(ctx, cfg.HotnessHalfLife, observability.SetHotKeys)
		tc.Admission = &simple.Engine{
			Hot:       metricswrap.New(tracker, cfg.AdmitThreshold, log),
			Threshold: cfg.AdmitThreshold,
		}
	}
	switch cfg.Backend {
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		cli, err := redisstore.New(dialCtx, cfg.RedisAddr,
			redisstore.WithDialTimeout(2*time.Second),
			redisstore.WithReadTimeout(cfg.OpTimeout),
			redisstore.WithWriteTimeout(cfg.OpTimeout),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		closeFn := func() {
			if err := cli.Close(); err != nil {
				log.Warn("redis close", "err", err)
			}
		}
		return tilecache.New(tilecache.NewRedis(cli), tc, log), closeFn, nil
	case "memory":
		return tilecache.New(tilecache.NewMemory(cfg.TTL, cfg.LocalCleanup), tc, log), func() {}, nil
	}
	return nil, func() {}, nil
}

func serveMetrics(ctx context.Context, log *slog.Logger, cfg config.MetricsCfg, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, h)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics shutdown", "err", err)
		}
	}()
	log.Info("metrics listen", "addr", cfg.Addr, "path", cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server exited", "err", err)
	}
}
