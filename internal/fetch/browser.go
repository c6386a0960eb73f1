package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/circuitbreaker"
	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
)

// BrowserConfig configures headless browser sessions.
type BrowserConfig struct {
	// ExecPath is the browser binary. Empty lets chromedp search the usual locations.
	ExecPath string
	Headless bool
	Latency  time.Duration
	Timeout  time.Duration
	Breaker  *circuitbreaker.CircuitBreaker
}

// BrowserSessionFactory opens one browser process per session.
type BrowserSessionFactory struct {
	site   Site
	cfg    BrowserConfig
	logger *zap.Logger
}

func NewBrowserSessionFactory(site Site, cfg BrowserConfig, logger *zap.Logger) *BrowserSessionFactory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserSessionFactory{site: site, cfg: cfg, logger: logger}
}

// Open starts a browser. The browser outlives ctx and is stopped by Close.
//
// chromedp ties the browser process to the context of the first Run, so that
// Run gets the long-lived browser context. The start timeout and ctx cancel
// the browser from outside instead.
func (f *BrowserSessionFactory) Open(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", f.cfg.Headless))
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	closeAll := func() {
		browserCancel()
		allocCancel()
	}

	timer := time.AfterFunc(f.cfg.Timeout, browserCancel)
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	timedOut := !timer.Stop()
	canceled := !stop()

	switch {
	case canceled:
		closeAll()
		return nil, fmt.Errorf("%w: start browser: %w", ErrFetch, ctx.Err())
	case timedOut:
		closeAll()
		return nil, fmt.Errorf("%w: start browser: %w", ErrFetch, ErrTimeout)
	case err != nil:
		closeAll()
		return nil, fmt.Errorf("%w: start browser: %w", ErrFetch, err)
	}

	f.logger.Debug("Browser started", zap.String("exec_path", f.cfg.ExecPath), zap.Bool("headless", f.cfg.Headless))
	return &BrowserSession{
		site:          f.site,
		cfg:           f.cfg,
		logger:        f.logger,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

// BrowserSession drives a real browser: navigate to the month listing, click
// the day link, wait, read the DOM.
type BrowserSession struct {
	site          Site
	cfg           BrowserConfig
	logger        *zap.Logger
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	month  models.YearMonth
	loaded bool
}

// DayPage implements Session.
func (s *BrowserSession) DayPage(ctx context.Context, date time.Time) (string, error) {
	runCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	ym := models.MonthOf(date)
	if !s.loaded || s.month != ym {
		url := s.site.MonthURL(ym)
		err := s.run(runCtx, SourceHourlyMonth,
			chromedp.Navigate(url),
			chromedp.WaitReady(".weatherLinks", chromedp.ByQuery),
		)
		if err != nil {
			return "", s.fetchErr(ctx, url, err)
		}
		s.month, s.loaded = ym, true
	}

	href := s.site.DayHref(date)
	selector := fmt.Sprintf(`a[href=%q]`, href)
	var clicked bool
	script := fmt.Sprintf(`(function(){var a=document.querySelector(%q);if(!a){return false;}a.click();return true;})()`, selector)
	if err := s.run(runCtx, SourceHourlyDay, chromedp.Evaluate(script, &clicked)); err != nil {
		return "", s.fetchErr(ctx, href, err)
	}
	if !clicked {
		return "", fmt.Errorf("%w: %w: %s", ErrFetch, ErrLinkNotFound, href)
	}

	var html string
	err := s.run(runCtx, SourceHourlyDay,
		chromedp.Sleep(s.cfg.Latency),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", s.fetchErr(ctx, href, err)
	}
	return html, nil
}

func (s *BrowserSession) run(ctx context.Context, source string, actions ...chromedp.Action) error {
	start := time.Now()
	call := func() error { return chromedp.Run(ctx, actions...) }

	var err error
	if s.cfg.Breaker != nil {
		err = s.cfg.Breaker.Call(ctx, call)
	} else {
		err = call()
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	observability.PageFetchesTotal.WithLabelValues(source, status).Inc()
	observability.PageFetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrCircuitOpen
	}
	return err
}

func (s *BrowserSession) fetchErr(ctx context.Context, target string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrFetch, target, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrFetch, target, ErrTimeout)
	}
	return fmt.Errorf("%w: %s: %w", ErrFetch, target, err)
}

// Reset implements Session.
func (s *BrowserSession) Reset() {
	s.loaded = false
}

// Close implements Session.
func (s *BrowserSession) Close() error {
	s.browserCancel()
	s.allocCancel()
	return nil
}
