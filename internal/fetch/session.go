package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

// Session is a navigable page context for one month of hourly listings.
// A Session is used by a single goroutine.
type Session interface {
	// DayPage returns the rendered hourly listing after activating date's link.
	DayPage(ctx context.Context, date time.Time) (string, error)
	// Reset drops navigation state so the next DayPage starts from the month listing.
	Reset()
	Close() error
}

// SessionFactory opens sessions; callers close each session they open.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// HTTPSessionFactory opens cookie-isolated HTTP sessions sharing one PageClient.
type HTTPSessionFactory struct {
	client  *PageClient
	site    Site
	latency time.Duration
	logger  *zap.Logger
}

// NewHTTPSessionFactory returns a factory; latency is the wait after each
// day page load.
func NewHTTPSessionFactory(client *PageClient, site Site, latency time.Duration, logger *zap.Logger) *HTTPSessionFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSessionFactory{client: client, site: site, latency: latency, logger: logger}
}

// Open returns a new HTTPSession.
func (f *HTTPSessionFactory) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: open session: %w", ErrFetch, err)
	}
	return &HTTPSession{
		client:  f.client.WithCookies(),
		site:    f.site,
		latency: f.latency,
		logger:  f.logger,
	}, nil
}

// HTTPSession loads the month listing once, then follows the day links it
// contains through the same cookie-carrying client.
type HTTPSession struct {
	client  *PageClient
	site    Site
	latency time.Duration
	logger  *zap.Logger

	month   models.YearMonth
	listing *goquery.Document
}

// DayPage implements Session.
func (s *HTTPSession) DayPage(ctx context.Context, date time.Time) (string, error) {
	ym := models.MonthOf(date)
	if s.listing == nil || s.month != ym {
		if err := s.loadListing(ctx, ym); err != nil {
			return "", err
		}
	}

	href := s.site.DayHref(date)
	link := s.listing.Find(fmt.Sprintf(`a[href=%q]`, href)).First()
	if link.Length() == 0 {
		return "", fmt.Errorf("%w: %w: %s", ErrFetch, ErrLinkNotFound, href)
	}
	target, err := s.site.Resolve(href)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetch, err)
	}

	body, err := s.client.Get(ctx, SourceHourlyDay, target)
	if err != nil {
		return "", err
	}
	if err := Sleep(ctx, s.latency); err != nil {
		return "", fmt.Errorf("%w: wait for %s: %w", ErrFetch, href, err)
	}
	return body, nil
}

func (s *HTTPSession) loadListing(ctx context.Context, ym models.YearMonth) error {
	url := s.site.MonthURL(ym)
	body, err := s.client.Get(ctx, SourceHourlyMonth, url)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: read month listing %s: %w", ErrFetch, url, err)
	}
	s.month = ym
	s.listing = doc
	s.logger.Debug("Loaded month listing", zap.String("month", ym.String()))
	return nil
}

// Reset implements Session.
func (s *HTTPSession) Reset() {
	s.listing = nil
}

// Close implements Session.
func (s *HTTPSession) Close() error {
	s.listing = nil
	s.client.CloseIdleConnections()
	return nil
}
