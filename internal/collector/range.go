package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
)

// MonthCollector collects a single month. *Collector implements it.
type MonthCollector interface {
	CollectHourly(ctx context.Context, ym models.YearMonth) ([]models.HourlyObservation, []DayError)
	CollectDayLength(ctx context.Context, ym models.YearMonth) ([]models.DayLengthRecord, []DayError)
}

// Sink receives merged tables for persistence. The store backends implement it.
type Sink interface {
	AppendObservations(ctx context.Context, dataset string, obs []models.HourlyObservation) error
	AppendDayLength(ctx context.Context, dataset string, records []models.DayLengthRecord) error
}

// MonthProgress is reported after each month finishes.
type MonthProgress struct {
	RunID     string
	Month     models.YearMonth
	Records   int
	Failures  int
	Completed int
	Total     int
	Duration  time.Duration
}

// Options configure an Orchestrator.
type Options struct {
	// Workers bounds how many months are collected at once. Defaults to 1.
	Workers int
	// Sink and Dataset, when both set, receive the months collected in full.
	// Months with a failed or unfinished day are left out.
	Sink    Sink
	Dataset string
	// Progress is called after each month, serialized.
	Progress func(MonthProgress)
}

// Result is the merged output of a range run, in chronological order.
type Result[T any] struct {
	RunID string
	// Records holds everything collected, including partial months.
	Records  []T
	Failures []DayError
	// Months lists the months collected in full, which are the ones persisted.
	Months []models.YearMonth
	// Complete holds the records of Months.
	Complete []T
}

// Orchestrator collects whole periods month by month.
type Orchestrator struct {
	months MonthCollector
	opts   Options
	logger *zap.Logger
}

func NewOrchestrator(months MonthCollector, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Orchestrator{months: months, opts: opts, logger: observability.OrNop(logger)}
}

// Collect gathers hourly observations for every day of period.
//
// The records collected are always returned. The error is nil when every day
// succeeded and a *CollectionError otherwise; after cancellation it also
// matches ctx.Err().
func (o *Orchestrator) Collect(ctx context.Context, period models.Period) (Result[models.HourlyObservation], error) {
	res, err := runRange(ctx, o, sourceHourly, period, o.months.CollectHourly)
	if o.persist() && len(res.Complete) > 0 {
		if perr := o.opts.Sink.AppendObservations(context.WithoutCancel(ctx), o.opts.Dataset, res.Complete); perr != nil {
			err = errors.Join(err, fmt.Errorf("persist %s: %w", o.opts.Dataset, perr))
		}
	}
	return res, err
}

// CollectDayLength gathers day length for every day of period, with the same
// result contract as Collect.
func (o *Orchestrator) CollectDayLength(ctx context.Context, period models.Period) (Result[models.DayLengthRecord], error) {
	res, err := runRange(ctx, o, sourceDayLength, period, o.months.CollectDayLength)
	if o.persist() && len(res.Complete) > 0 {
		if perr := o.opts.Sink.AppendDayLength(context.WithoutCancel(ctx), o.opts.Dataset, res.Complete); perr != nil {
			err = errors.Join(err, fmt.Errorf("persist %s: %w", o.opts.Dataset, perr))
		}
	}
	return res, err
}

func (o *Orchestrator) persist() bool {
	return o.opts.Sink != nil && o.opts.Dataset != ""
}

type monthSlot[T any] struct {
	records  []T
	failures []DayError
	started  bool
	done     bool
}

// runRange fans months out to a bounded pool. Each month writes only its own
// slot; slots are merged in month order once all workers return.
func runRange[T any](
	ctx context.Context,
	o *Orchestrator,
	source string,
	period models.Period,
	collect func(context.Context, models.YearMonth) ([]T, []DayError),
) (Result[T], error) {
	runID := uuid.NewString()
	logger := o.logger.With(zap.String("run_id", runID), zap.String("source", source))
	months := period.Months()
	slots := make([]monthSlot[T], len(months))

	logger.Info("Collection started",
		zap.String("period", period.String()),
		zap.Int("months", len(months)),
		zap.Int("workers", o.opts.Workers),
	)
	start := time.Now()

	var (
		mu        sync.Mutex
		completed int
	)
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, ym := range months {
		if ctx.Err() != nil {
			break
		}
		i, ym := i, ym
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			monthStart := time.Now()
			records, failures := collect(ctx, ym)
			slots[i] = monthSlot[T]{records: records, failures: failures, started: true, done: ctx.Err() == nil}

			mu.Lock()
			defer mu.Unlock()
			completed++
			p := MonthProgress{
				RunID:     runID,
				Month:     ym,
				Records:   len(records),
				Failures:  len(failures),
				Completed: completed,
				Total:     len(months),
				Duration:  time.Since(monthStart),
			}
			logger.Info("Month collected",
				zap.String("month", ym.String()),
				zap.Int("records", p.Records),
				zap.Int("failures", p.Failures),
				zap.Int("completed", p.Completed),
				zap.Int("total", p.Total),
				zap.Duration("duration", p.Duration),
			)
			if o.opts.Progress != nil {
				o.opts.Progress(p)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result[T]{RunID: runID}
	var interrupted []models.YearMonth
	for i, s := range slots {
		res.Records = append(res.Records, s.records...)
		res.Failures = append(res.Failures, s.failures...)
		switch {
		case !s.started:
			res.Failures = append(res.Failures, failAll(months[i], ctx.Err())...)
		case s.done && len(s.failures) == 0:
			res.Months = append(res.Months, months[i])
			res.Complete = append(res.Complete, s.records...)
		case !s.done && len(s.failures) == 0:
			interrupted = append(interrupted, months[i])
		}
	}

	logger.Info("Collection finished",
		zap.Int("records", len(res.Records)),
		zap.Int("failures", len(res.Failures)),
		zap.Int("months_completed", len(res.Months)),
		zap.Duration("duration", time.Since(start)),
	)

	if len(res.Failures) == 0 && len(interrupted) == 0 {
		return res, nil
	}
	return res, &CollectionError{Failures: res.Failures, Interrupted: interrupted, Cause: ctx.Err()}
}
