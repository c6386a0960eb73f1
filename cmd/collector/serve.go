package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	httphandler "github.com/kjstillabower/weather-history-collector/internal/http"
	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve stored datasets over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			healthConfig := &httphandler.HealthConfig{
				StartTime:        time.Now(),
				DegradedWindow:   cfg.DegradedWindow,
				DegradedErrorPct: cfg.DegradedErrorPct,
			}
			if a.memcached != nil {
				healthConfig.Checks = map[string]func() error{"cache": a.memcached.Ping}
			}
			var limiter *rate.Limiter
			if cfg.RateLimitRPS > 0 {
				limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
			}
			handler := httphandler.NewHandler(a.store, healthConfig, logger)
			router := httphandler.NewRouter(handler, httphandler.RouterConfig{
				RequestTimeout: cfg.RequestTimeout,
				Limiter:        limiter,
			}, logger)

			srv := &http.Server{
				Addr:         ":" + cfg.ServerPort,
				Handler:      router,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server starting", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("graceful shutdown triggered")
			handler.SetShuttingDown(true)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown", zap.Error(err))
			}
			if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
				logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}

func newScheduleCmd() *cobra.Command {
	var metricsAddr string
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Collect the previous month on the configured cron schedule",
		Long:  "Runs until interrupted. Each trigger collects hourly observations and day length for the previous calendar month into the configured datasets.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stopMetrics := serveMetrics(metricsAddr)
			defer stopMetrics()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			s := scheduler.New(cfg.ScheduleCron, func(ctx context.Context, ym models.YearMonth) error {
				return collectMonth(ctx, a, ym)
			}, logger)
			if runNow {
				if err := s.RunOnce(ctx); err != nil {
					logger.Error("initial collection failed", zap.Error(err))
				}
			}
			if err := s.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			s.Stop()
			logger.Info("scheduler stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address, e.g. :9090")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "collect the previous month once before waiting for the schedule")
	return cmd
}

// collectMonth collects hourly and day-length data for ym. A failure in one
// table does not stop the other.
func collectMonth(ctx context.Context, a *app, ym models.YearMonth) error {
	period := models.Period{Start: ym, End: ym}
	hourly, herr := a.orchestrator(1, cfg.HourlyDataset).Collect(ctx, period)
	herr = reportRun("hourly", cfg.HourlyDataset, hourly.RunID, len(hourly.Records), hourly.Months, herr)

	daylength, derr := a.orchestrator(1, cfg.DayLengthDataset).CollectDayLength(ctx, period)
	derr = reportRun("daylength", cfg.DayLengthDataset, daylength.RunID, len(daylength.Records), daylength.Months, derr)
	return errors.Join(herr, derr)
}
