package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/aggregate"
	"github.com/kjstillabower/weather-history-collector/internal/collector"
	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/store"
)

type rangeFlags struct {
	start, end  string
	out         string
	workers     int
	metricsAddr string
}

func (f *rangeFlags) register(cmd *cobra.Command, outHelp string) {
	cmd.Flags().StringVar(&f.start, "start", "", "first month, YYYY-MM (default: collector.start)")
	cmd.Flags().StringVar(&f.end, "end", "", "last month, YYYY-MM, inclusive (default: collector.end)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", outHelp)
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "months collected concurrently (default: collector.workers)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address during the run, e.g. :9090")
}

func (f *rangeFlags) resolve(defaultOut string) (models.Period, string, int, error) {
	period, err := periodFlags(f.start, f.end)
	if err != nil {
		return models.Period{}, "", 0, err
	}
	out := f.out
	if out == "" {
		out = defaultOut
	}
	workers := f.workers
	if workers <= 0 {
		workers = cfg.Workers
	}
	return period, out, workers, nil
}

func newCollectCmd() *cobra.Command {
	var flags rangeFlags
	cmd := &cobra.Command{
		Use:     "collect",
		Short:   "Collect hourly observations for a range of months",
		Example: "  collector collect --start 2020-02 --end 2021-03 --out weather --workers 2",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			period, out, workers, err := flags.resolve(cfg.HourlyDataset)
			if err != nil {
				return err
			}
			stopMetrics := serveMetrics(flags.metricsAddr)
			defer stopMetrics()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			logger.Info("hourly collection starting",
				zap.String("period", period.String()), zap.String("dataset", out), zap.Int("workers", workers))
			res, err := a.orchestrator(workers, out).Collect(cmd.Context(), period)
			return reportRun("hourly", out, res.RunID, len(res.Records), res.Months, err)
		},
	}
	flags.register(cmd, "dataset key for the hourly table (default: store.datasets.hourly)")
	return cmd
}

func newDayLengthCmd() *cobra.Command {
	var flags rangeFlags
	cmd := &cobra.Command{
		Use:     "daylength",
		Short:   "Collect day length for a range of months",
		Example: "  collector daylength --start 2020-02 --end 2021-03 --out daylight",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			period, out, workers, err := flags.resolve(cfg.DayLengthDataset)
			if err != nil {
				return err
			}
			stopMetrics := serveMetrics(flags.metricsAddr)
			defer stopMetrics()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			logger.Info("day length collection starting",
				zap.String("period", period.String()), zap.String("dataset", out), zap.Int("workers", workers))
			res, err := a.orchestrator(workers, out).CollectDayLength(cmd.Context(), period)
			return reportRun("daylength", out, res.RunID, len(res.Records), res.Months, err)
		},
	}
	flags.register(cmd, "dataset key for the day-length table (default: store.datasets.daylength)")
	return cmd
}

// reportRun logs the outcome of a range run. Failures name the first day not
// collected and the month ranges to rerun, none of which were saved.
func reportRun(kind, dataset, runID string, records int, months []models.YearMonth, err error) error {
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("dataset", dataset),
		zap.Int("records", records),
		zap.Int("months_completed", len(months)),
	}
	if err == nil {
		logger.Info(kind+" collection completed", fields...)
		return nil
	}

	var cerr *collector.CollectionError
	if errors.As(err, &cerr) {
		if day, ok := cerr.FirstFailedDay(); ok {
			rerun := rerunFlags(cerr.RerunPeriods())
			fields = append(fields,
				zap.Int("failed_days", len(cerr.Failures)),
				zap.String("resume_from", day.Format("2006-01-02")),
				zap.Strings("rerun", rerun),
			)
			msg := kind + " collection finished with failures"
			if cerr.Cause != nil {
				msg = kind + " collection interrupted"
			}
			logger.Warn(msg, append(fields, zap.Error(err))...)
			return fmt.Errorf("not collected from %s; rerun with %s: %w",
				day.Format("2006-01-02"), strings.Join(rerun, " and "), err)
		}
	}
	logger.Error(kind+" collection stopped", append(fields, zap.Error(err))...)
	return err
}

func rerunFlags(periods []models.Period) []string {
	out := make([]string, len(periods))
	for i, p := range periods {
		out[i] = fmt.Sprintf("--start %s --end %s", p.Start, p.End)
	}
	return out
}

func newDailyCmd() *cobra.Command {
	var hourly, daylength, out string
	cmd := &cobra.Command{
		Use:     "daily",
		Short:   "Derive the daily summary table from stored hourly and day-length data",
		Example: "  collector daily --hourly weather --daylength daylight --out daily",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hourly == "" {
				hourly = cfg.HourlyDataset
			}
			if out == "" {
				out = cfg.DailyDataset
			}
			if !cmd.Flags().Changed("daylength") {
				daylength = cfg.DayLengthDataset
			}

			st, err := store.Open(cmd.Context(), store.Config{
				Backend:     cfg.StoreBackend,
				Dir:         cfg.StoreDir,
				SQLitePath:  cfg.SQLitePath,
				PostgresURL: cfg.DatabaseURL,
			})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			n, err := buildDaily(cmd.Context(), st, hourly, daylength, out)
			if err != nil {
				return err
			}
			logger.Info("daily table written",
				zap.String("hourly", hourly), zap.String("daylength", daylength),
				zap.String("dataset", out), zap.Int("days", n))
			return nil
		},
	}
	cmd.Flags().StringVar(&hourly, "hourly", "", "hourly dataset key (default: store.datasets.hourly)")
	cmd.Flags().StringVar(&daylength, "daylength", "", "day-length dataset key; empty skips enrichment (default: store.datasets.daylength)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "daily dataset key (default: store.datasets.daily)")
	return cmd
}

// buildDaily aggregates the hourly dataset, left-joins day length when
// daylength is set, and replaces the out dataset.
func buildDaily(ctx context.Context, st store.Store, hourly, daylength, out string) (int, error) {
	obs, err := st.Observations(ctx, hourly)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", hourly, err)
	}
	daily, err := aggregate.ToDaily(obs)
	if err != nil {
		return 0, err
	}
	if daylength != "" {
		records, err := st.DayLength(ctx, daylength)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", daylength, err)
		}
		if daily, err = aggregate.Enrich(daily, records); err != nil {
			return 0, err
		}
	}
	if err := st.ReplaceDaily(ctx, out, daily); err != nil {
		return 0, fmt.Errorf("write %s: %w", out, err)
	}
	return len(daily), nil
}
