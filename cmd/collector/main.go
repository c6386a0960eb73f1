package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/config"
	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if logger != nil {
		if ferr := observability.FlushTelemetry(context.Background(), logger); ferr != nil {
			fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", ferr)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "collector",
		Short:         "Historic weather collector",
		Long:          "Collects historic hourly weather and day length for one location, month by month, and derives daily summaries.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = observability.NewLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return nil
		},
	}
	root.AddCommand(newCollectCmd(), newDayLengthCmd(), newDailyCmd(), newServeCmd(), newScheduleCmd())
	return root
}

// periodFlags resolves --start/--end, falling back to the configured period.
func periodFlags(start, end string) (models.Period, error) {
	if start == "" && end == "" {
		if !cfg.Period.Start.Valid() {
			return models.Period{}, errors.New("no period: pass --start and --end or set collector.start/end")
		}
		return cfg.Period, nil
	}
	if start == "" {
		start = cfg.Period.Start.String()
	}
	if end == "" {
		end = start
	}
	return models.ParsePeriod(start, end)
}

// serveMetrics exposes /metrics on addr until the returned func is called.
// An empty addr disables it.
func serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics endpoint starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
