package collector

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/cache"
	"github.com/kjstillabower/weather-history-collector/internal/fetch"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
)

// Metric source labels.
const (
	sourceHourly    = "hourly"
	sourceDayLength = "daylength"
)

// PageGetter loads a page directly, without session state.
type PageGetter interface {
	Get(ctx context.Context, source, url string) (string, error)
}

// Config tunes day alignment and page caching.
type Config struct {
	AlignAttempts  int
	AlignBaseDelay time.Duration
	AlignMaxDelay  time.Duration
	// CacheTTL is how long verified pages stay cached. Zero disables caching.
	CacheTTL time.Duration
}

// Collector collects one month at a time for the site's location.
type Collector struct {
	sessions fetch.SessionFactory
	pages    PageGetter
	site     fetch.Site
	cache    cache.Cache
	cfg      Config
	logger   *zap.Logger
}

// New returns a Collector. pageCache may be nil.
func New(sessions fetch.SessionFactory, pages PageGetter, site fetch.Site, pageCache cache.Cache, cfg Config, logger *zap.Logger) *Collector {
	if cfg.AlignAttempts <= 0 {
		cfg.AlignAttempts = 5
	}
	if cfg.AlignBaseDelay <= 0 {
		cfg.AlignBaseDelay = 500 * time.Millisecond
	}
	if cfg.AlignMaxDelay <= 0 {
		cfg.AlignMaxDelay = 10 * time.Second
	}
	return &Collector{
		sessions: sessions,
		pages:    pages,
		site:     site,
		cache:    pageCache,
		cfg:      cfg,
		logger:   observability.OrNop(logger),
	}
}

func (c *Collector) cachedPage(ctx context.Context, key string) (string, bool) {
	if c.cache == nil || c.cfg.CacheTTL <= 0 {
		return "", false
	}
	page, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.PageCacheLookupsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("Page cache get failed", zap.String("key", key), zap.String("category", categorizeCacheError(err)), zap.Error(err))
		return "", false
	case ok:
		observability.PageCacheLookupsTotal.WithLabelValues("hit").Inc()
		return page, true
	default:
		observability.PageCacheLookupsTotal.WithLabelValues("miss").Inc()
		return "", false
	}
}

func (c *Collector) storePage(ctx context.Context, key, page string) {
	if c.cache == nil || c.cfg.CacheTTL <= 0 {
		return
	}
	if err := c.cache.Set(ctx, key, page, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("Page cache set failed", zap.String("key", key), zap.String("category", categorizeCacheError(err)), zap.Error(err))
	}
}

// categorizeCacheError returns a stable label for cache errors.
func categorizeCacheError(err error) string {
	if errors.Is(err, cache.ErrPageTooLarge) {
		return "too_large"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
