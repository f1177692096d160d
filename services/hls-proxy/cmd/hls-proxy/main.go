package main

import (
	"context"
	"io"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/hls-platform/internal/platform/analytics"
	"github.com/example/hls-platform/internal/platform/httpserver"
	"github.com/example/hls-platform/internal/platform/logging"
	"github.com/example/hls-platform/internal/platform/natsconn"
	"github.com/example/hls-platform/internal/platform/run"
	"github.com/example/hls-platform/services/hls-proxy/internal/cache"
	"github.com/example/hls-platform/services/hls-proxy/internal/config"
	"github.com/example/hls-platform/services/hls-proxy/internal/fetch"
	"github.com/example/hls-platform/services/hls-proxy/internal/handlers"
	proxyhttp "github.com/example/hls-platform/services/hls-proxy/internal/http"
	"github.com/example/hls-platform/services/hls-proxy/internal/processor"
)

const drainTimeout = 5 * time.Second

func main() {
	run.Exit(serve())
}

// serve wires and runs the service and returns the exit code. Cleanup is
// deferred here, not in main, because run.Exit skips deferred calls.
func serve() int {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, zap.String("service", cfg.ServiceName))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	store, err := cache.NewStore(cfg.RedisURL, cfg.CacheMaxEntries, cfg.CacheTTL)
	if err != nil {
		log.Error("cache", zap.Error(err))
		return 1
	}
	if c, ok := store.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	client, err := fetch.New(cfg.Fetch,
		fetch.WithBreakers(fetch.NewBreakers(cfg.Breaker, log)),
		fetch.WithLogger(log))
	if err != nil {
		log.Error("fetch client", zap.Error(err))
		return 1
	}

	// Events are optional; the proxy keeps serving without NATS.
	var events *analytics.Publisher
	if cfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName, Logger: log})
		if err != nil {
			log.Warn("nats unavailable, analytics disabled", zap.Error(err))
		} else {
			defer func() {
				events.Flush(drainTimeout)
				if err := natsconn.Close(nc, drainTimeout); err != nil {
					log.Warn("nats close", zap.Error(err))
				}
			}()
			events, err = analytics.FromConn(nc, cfg.ServiceName, log)
			if err != nil {
				log.Warn("jetstream unavailable, analytics disabled", zap.Error(err))
			}
		}
	}

	proc := processor.New(cfg.ProcessorOptions(), client, store,
		processor.WithLogger(log),
		processor.WithPublisher(events))

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc:      readiness(store),
		ExposedHeaders: []string{"X-Cache"},
	})
	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(proxyhttp.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)
		}
		handlers.Register(r, proc, log)
	})

	log.Info("hls-proxy configured",
		zap.Bool("main_proxy", cfg.ProxyURL != ""),
		zap.Bool("segment_proxy", cfg.TSProxyURL != ""),
		zap.Bool("filter_ads", cfg.FilterAds),
		zap.Bool("filter_discontinuity", cfg.FilterDiscontinuity),
		zap.Bool("redis_cache", cfg.RedisURL != ""),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_recursion", cfg.MaxRecursion))

	srv := httpserver.New(httpserver.Options{
		Addr:         cfg.HTTPAddr,
		ServiceName:  cfg.ServiceName,
		Logger:       log,
		Router:       r,
		WriteTimeout: 3*cfg.Fetch.Timeout + 10*time.Second,
	})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		return runner.Serve(ctx, srv.Start, srv.Shutdown, run.DefaultShutdownTimeout)
	})

	log.Info("exit", zap.Int("code", code))
	return code
}

func readiness(store cache.Store) func() error {
	p, ok := store.(cache.Pinger)
	if !ok {
		return nil
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return p.Ping(ctx)
	}
}
