// Package scheduler runs the monthly collection on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/models"
)

// RunFunc collects one calendar month.
type RunFunc func(ctx context.Context, ym models.YearMonth) error

// Scheduler triggers RunFunc for the previous calendar month each time the
// cron expression fires. Runs never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cron      string
	run       RunFunc
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a Scheduler evaluating cron in UTC.
func New(cron string, run RunFunc, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		cron:      cron,
		run:       run,
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers the job and starts the scheduler in the background. Runs
// in progress are canceled when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron == "" {
		return errors.New("scheduler: empty cron expression")
	}
	runCtx, cancel := context.WithCancel(ctx)
	_, err := s.scheduler.Cron(s.cron).SingletonMode().Do(func() {
		if err := s.RunOnce(runCtx); err != nil {
			s.logger.Error("scheduled collection failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("scheduler: cron %q: %w", s.cron, err)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", zap.String("cron", s.cron))
	return nil
}

// RunOnce collects the month before the current one.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ym := models.MonthOf(s.now().UTC()).Prev()
	logger := s.logger.With(zap.String("job_id", uuid.New().String()), zap.String("month", ym.String()))

	start := time.Now()
	logger.Info("scheduled collection started")
	if err := s.run(ctx, ym); err != nil {
		return fmt.Errorf("collect %s: %w", ym, err)
	}
	logger.Info("scheduled collection completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}

// Stop cancels running jobs and stops future ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	if s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}
