package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-history-collector/internal/cache"
	"github.com/kjstillabower/weather-history-collector/internal/circuitbreaker"
	"github.com/kjstillabower/weather-history-collector/internal/collector"
	"github.com/kjstillabower/weather-history-collector/internal/config"
	"github.com/kjstillabower/weather-history-collector/internal/fetch"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
	"github.com/kjstillabower/weather-history-collector/internal/store"
)

const breakerComponent = "upstream_site"

// app holds the long-lived components every command shares.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     store.Store
	pageCache cache.Cache
	memcached *cache.MemcachedCache
	client    *fetch.PageClient
	collector *collector.Collector
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	st, err := store.Open(ctx, store.Config{
		Backend:     cfg.StoreBackend,
		Dir:         cfg.StoreDir,
		SQLitePath:  cfg.SQLitePath,
		PostgresURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	logger.Info("store backend", zap.String("backend", cfg.StoreBackend))

	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.memcached = mc
		a.pageCache = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "in_memory":
		a.pageCache = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	default:
		logger.Info("cache backend: none")
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        breakerComponent,
		IsFailure: func(err error) bool {
			// A missing day or link is an answer from a healthy site.
			return !errors.Is(err, context.Canceled) &&
				!errors.Is(err, fetch.ErrNotFound) &&
				!errors.Is(err, fetch.ErrLinkNotFound)
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(breakerComponent, from.String(), to.String())
			observability.SetCircuitBreakerStateGauge(breakerComponent, observability.CircuitBreakerStateValue(int(to)))
			logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	observability.SetCircuitBreakerStateGauge(breakerComponent, 0)

	var limiter *rate.Limiter
	if cfg.UpstreamRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), 1)
	}
	a.client = fetch.NewPageClient(fetch.ClientConfig{
		Timeout:        cfg.UpstreamTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		UserAgent:      cfg.UserAgent,
		Limiter:        limiter,
		Breaker:        breaker,
	})

	site := fetch.Site{BaseURL: cfg.BaseURL, Location: cfg.Location}
	var sessions fetch.SessionFactory
	switch cfg.SessionBackend {
	case "browser":
		sessions = fetch.NewBrowserSessionFactory(site, fetch.BrowserConfig{
			ExecPath: cfg.BrowserExecPath,
			Headless: cfg.BrowserHeadless,
			Latency:  cfg.PageLatency,
			Timeout:  cfg.UpstreamTimeout,
			Breaker:  breaker,
		}, logger)
	default:
		sessions = fetch.NewHTTPSessionFactory(a.client, site, cfg.PageLatency, logger)
	}
	logger.Info("session backend", zap.String("backend", cfg.SessionBackend), zap.String("location", cfg.Location))

	a.collector = collector.New(sessions, a.client, site, a.pageCache, collector.Config{
		AlignAttempts:  cfg.AlignAttempts,
		AlignBaseDelay: cfg.AlignBaseDelay,
		AlignMaxDelay:  cfg.AlignMaxDelay,
		CacheTTL:       cfg.CacheTTL,
	}, logger)
	return a, nil
}

// orchestrator returns a range runner persisting into dataset and logging per-month progress.
func (a *app) orchestrator(workers int, dataset string) *collector.Orchestrator {
	return collector.NewOrchestrator(a.collector, collector.Options{
		Workers: workers,
		Sink:    a.store,
		Dataset: dataset,
		Progress: func(p collector.MonthProgress) {
			a.logger.Info("month collected",
				zap.String("run_id", p.RunID),
				zap.String("month", p.Month.String()),
				zap.Int("records", p.Records),
				zap.Int("failures", p.Failures),
				zap.String("progress", fmt.Sprintf("%d/%d", p.Completed, p.Total)),
				zap.Duration("duration", p.Duration))
		},
	}, a.logger)
}

func (a *app) Close() {
	if a.client != nil {
		a.client.CloseIdleConnections()
	}
	if a.memcached != nil {
		if err := a.memcached.Close(); err != nil {
			a.logger.Error("memcached close", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("store close", zap.Error(err))
		}
	}
}
