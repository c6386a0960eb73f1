package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/cache"
	"github.com/kjstillabower/weather-history-collector/internal/fetch"
	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
	"github.com/kjstillabower/weather-history-collector/internal/parse"
)

// FetchDay returns the hourly observations for date, read through sess.
//
// The site sometimes serves the previously viewed day on first load, so the
// day label of the first row is checked against date. On a mismatch the
// session is reset and the load retried with backoff, up to AlignAttempts
// times; after that ErrAlignmentExhausted is returned wrapping the last
// *AlignmentMismatch. Fetch and parse errors are returned as is.
func (c *Collector) FetchDay(ctx context.Context, sess fetch.Session, date time.Time) ([]models.HourlyObservation, error) {
	key := cache.HourlyKey(c.site.Location, date)
	if page, ok := c.cachedPage(ctx, key); ok {
		if rows, err := parse.ParseHourly(page); err == nil && rows[0].Day == date.Day() {
			return observations(rows, date), nil
		}
		c.logger.Warn("Discarding unusable cached page", zap.String("date", date.Format(dateLayout)))
	}

	var mismatch *AlignmentMismatch
	for attempt := 1; attempt <= c.cfg.AlignAttempts; attempt++ {
		if attempt > 1 {
			delay := fetch.Backoff(c.cfg.AlignBaseDelay, c.cfg.AlignMaxDelay, attempt-1)
			if err := fetch.Sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: align %s: %w", fetch.ErrFetch, date.Format(dateLayout), err)
			}
		}

		page, err := sess.DayPage(ctx, date)
		if err != nil {
			return nil, err
		}
		rows, err := parse.ParseHourly(page)
		if err != nil {
			return nil, fmt.Errorf("hourly page for %s: %w", date.Format(dateLayout), err)
		}

		if rows[0].Day == date.Day() {
			c.storePage(ctx, key, page)
			return observations(rows, date), nil
		}

		mismatch = &AlignmentMismatch{Date: date, PageDay: rows[0].Day}
		observability.AlignmentMismatchesTotal.Inc()
		c.logger.Warn("Page not aligned with requested day",
			zap.String("date", date.Format(dateLayout)),
			zap.Int("page_day", rows[0].Day),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.AlignAttempts),
		)
		sess.Reset()
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrAlignmentExhausted, date.Format(dateLayout), c.cfg.AlignAttempts, mismatch)
}

func observations(rows []parse.HourlyRow, date time.Time) []models.HourlyObservation {
	out := make([]models.HourlyObservation, len(rows))
	for i, r := range rows {
		out[i] = r.Observation(date)
	}
	return out
}
