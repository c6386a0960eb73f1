package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/cache"
	"github.com/kjstillabower/weather-history-collector/internal/fetch"
	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
	"github.com/kjstillabower/weather-history-collector/internal/parse"
)

// CollectHourly collects every day of ym in day order on one session, which is
// closed before returning. Failed days are reported, not fatal. When ctx is
// done collection stops and the remaining days are reported with ctx.Err().
func (c *Collector) CollectHourly(ctx context.Context, ym models.YearMonth) ([]models.HourlyObservation, []DayError) {
	start := time.Now()
	defer func() {
		observability.MonthCollectionDuration.WithLabelValues(sourceHourly).Observe(time.Since(start).Seconds())
	}()

	sess, err := c.sessions.Open(ctx)
	if err != nil {
		c.logger.Error("Open session failed", zap.String("month", ym.String()), zap.Error(err))
		return nil, c.recordFailures(ctx, sourceHourly, failAll(ym, err))
	}
	defer func() {
		if err := sess.Close(); err != nil {
			c.logger.Warn("Close session failed", zap.String("month", ym.String()), zap.Error(err))
		}
	}()

	var (
		out      []models.HourlyObservation
		failures []DayError
	)
	for day := 1; day <= ym.Days(); day++ {
		if err := ctx.Err(); err != nil {
			c.logger.Warn("Month interrupted", zap.String("month", ym.String()), zap.Int("next_day", day), zap.Error(err))
			return out, c.recordFailures(ctx, sourceHourly, append(failures, skipped(ym, day, err)...))
		}
		date := ym.Date(day)
		obs, err := c.FetchDay(ctx, sess, date)
		if err != nil {
			failures = append(failures, DayError{Date: date, Err: err})
			c.logger.Warn("Day failed", zap.String("date", date.Format(dateLayout)), zap.Error(err))
			continue
		}
		out = append(out, obs...)
		observability.DaysCollectedTotal.WithLabelValues(sourceHourly).Inc()
		observability.ObservationsCollectedTotal.Add(float64(len(obs)))
	}

	if len(failures) == 0 {
		observability.MonthsCollectedTotal.WithLabelValues(sourceHourly).Inc()
	}
	return out, c.recordFailures(ctx, sourceHourly, failures)
}

// CollectDayLength loads the month's sun page once and reads every day from
// it. A failed load fails every day of the month with the same cause.
func (c *Collector) CollectDayLength(ctx context.Context, ym models.YearMonth) ([]models.DayLengthRecord, []DayError) {
	start := time.Now()
	defer func() {
		observability.MonthCollectionDuration.WithLabelValues(sourceDayLength).Observe(time.Since(start).Seconds())
	}()

	key := cache.DayLengthKey(c.site.Location, ym)
	page, cached := c.cachedPage(ctx, key)
	if !cached {
		var err error
		page, err = c.pages.Get(ctx, fetch.SourceDayLength, c.site.DayLengthURL(ym))
		if err != nil {
			c.logger.Error("Day length page failed", zap.String("month", ym.String()), zap.Error(err))
			return nil, c.recordFailures(ctx, sourceDayLength, failAll(ym, err))
		}
	}

	records, failed, err := parse.ParseDayLengthMonth(page, ym)
	if err != nil {
		return nil, c.recordFailures(ctx, sourceDayLength, failAll(ym, fmt.Errorf("day length page for %s: %w", ym, err)))
	}
	if !cached && len(records) > 0 {
		c.storePage(ctx, key, page)
	}
	observability.DaysCollectedTotal.WithLabelValues(sourceDayLength).Add(float64(len(records)))

	days := make([]int, 0, len(failed))
	for day := range failed {
		days = append(days, day)
	}
	sort.Ints(days)
	failures := make([]DayError, 0, len(days))
	for _, day := range days {
		failures = append(failures, DayError{Date: ym.Date(day), Err: failed[day]})
	}
	if len(failures) == 0 {
		observability.MonthsCollectedTotal.WithLabelValues(sourceDayLength).Inc()
	}
	return records, c.recordFailures(ctx, sourceDayLength, failures)
}

// recordFailures counts failed days. Days lost to cancellation are not counted.
func (c *Collector) recordFailures(ctx context.Context, source string, failures []DayError) []DayError {
	for _, f := range failures {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(f.Err, ctxErr) {
			continue
		}
		observability.DayFailuresTotal.WithLabelValues(source, string(fetch.CategorizeError(f.Err))).Inc()
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}
