package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/collector"
	"github.com/kjstillabower/weather-history-collector/internal/config"
	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/store"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prevCfg, prevLogger := cfg, logger
	cfg, logger = c, zap.NewNop()
	t.Cleanup(func() { cfg, logger = prevCfg, prevLogger })
}

func TestPeriodFlags(t *testing.T) {
	configured, _ := models.ParsePeriod("2020-02", "2021-03")
	tests := []struct {
		name       string
		cfgPeriod  models.Period
		start, end string
		want       string
		wantErr    bool
	}{
		{"configured default", configured, "", "", "2020-02..2021-03", false},
		{"explicit", configured, "2020-05", "2020-07", "2020-05..2020-07", false},
		{"start only is one month", configured, "2020-05", "", "2020-05..2020-05", false},
		{"end only keeps configured start", configured, "", "2020-04", "2020-02..2020-04", false},
		{"nothing configured", models.Period{}, "", "", "", true},
		{"inverted", configured, "2021-01", "2020-01", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withConfig(t, &config.Config{Period: tt.cfgPeriod})
			got, err := periodFlags(tt.start, tt.end)
			if (err != nil) != tt.wantErr {
				t.Fatalf("periodFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("periodFlags() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestReportRun(t *testing.T) {
	withConfig(t, &config.Config{})
	feb := models.YearMonth{Year: 2021, Month: time.February}
	mar, may := feb.Next(), feb.Next().Next().Next()

	if err := reportRun("hourly", "weather", "run", 10, nil, nil); err != nil {
		t.Errorf("reportRun(nil) = %v, want nil", err)
	}

	tests := []struct {
		name     string
		err      error
		contains []string
		cause    error
	}{
		{
			name: "failed days",
			err: &collector.CollectionError{Failures: []collector.DayError{
				{Date: feb.Date(10), Err: errors.New("boom")},
				{Date: may.Date(2), Err: errors.New("boom")},
			}},
			contains: []string{"from 2021-02-10", "--start 2021-02 --end 2021-02 and --start 2021-05 --end 2021-05"},
		},
		{
			name: "interrupted",
			err: &collector.CollectionError{
				Failures:    []collector.DayError{{Date: mar.Date(4), Err: context.Canceled}},
				Interrupted: []models.YearMonth{feb},
				Cause:       context.Canceled,
			},
			contains: []string{"from 2021-02-01", "--start 2021-02 --end 2021-03"},
			cause:    context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reportRun("hourly", "weather", "run", 10, nil, tt.err)
			if !errors.As(err, new(*collector.CollectionError)) {
				t.Fatalf("reportRun() error = %v, want wrapping CollectionError", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error = %q, want it to contain %q", err, want)
				}
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("error = %v, want it to match %v", err, tt.cause)
			}
		})
	}

	canceled := reportRun("hourly", "weather", "run", 0, nil, context.Canceled)
	if !errors.Is(canceled, context.Canceled) {
		t.Errorf("reportRun(canceled) = %v, want context.Canceled", canceled)
	}
}

func TestBuildDaily(t *testing.T) {
	withConfig(t, &config.Config{})
	ctx := context.Background()
	st, err := store.NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVStore() error = %v", err)
	}
	defer st.Close()

	at := func(day, hour int) time.Time { return time.Date(2020, time.February, day, hour, 0, 0, 0, time.UTC) }
	obs := []models.HourlyObservation{
		{Timestamp: at(1, 0), Temperature: 4, Description: "Fog."},
		{Timestamp: at(1, 12), Temperature: 7, Description: "Fog."},
		{Timestamp: at(2, 0), Temperature: 3, Description: "Clear."},
	}
	if err := st.AppendObservations(ctx, "weather", obs); err != nil {
		t.Fatalf("AppendObservations() error = %v", err)
	}
	if err := st.AppendDayLength(ctx, "daylight", []models.DayLengthRecord{{Date: at(1, 0), Hours: 9.1}}); err != nil {
		t.Fatalf("AppendDayLength() error = %v", err)
	}

	n, err := buildDaily(ctx, st, "weather", "daylight", "daily")
	if err != nil {
		t.Fatalf("buildDaily() error = %v", err)
	}
	if n != 2 {
		t.Errorf("buildDaily() = %d days, want 2", n)
	}
	daily, err := st.Daily(ctx, "daily")
	if err != nil {
		t.Fatalf("Daily() error = %v", err)
	}
	if len(daily) != 2 || daily[0].MeanTemperature != 5.5 || daily[0].DayLengthHours == nil || *daily[0].DayLengthHours != 9.1 {
		t.Errorf("daily[0] = %+v", daily[0])
	}
	if daily[1].DayLengthHours != nil {
		t.Errorf("daily[1] daylength = %v, want nil", *daily[1].DayLengthHours)
	}

	// Rebuilding replaces rather than appends.
	if _, err := buildDaily(ctx, st, "weather", "", "daily"); err != nil {
		t.Fatalf("buildDaily() rerun error = %v", err)
	}
	daily, _ = st.Daily(ctx, "daily")
	if len(daily) != 2 || daily[0].DayLengthHours != nil {
		t.Errorf("after rerun without day length: %+v", daily)
	}

	if _, err := buildDaily(ctx, st, "missing", "", "daily"); !errors.Is(err, store.ErrDatasetNotFound) {
		t.Errorf("buildDaily(missing) error = %v, want ErrDatasetNotFound", err)
	}
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	want := map[string][]string{
		"collect":   {"start", "end", "out", "workers", "metrics-addr"},
		"daylength": {"start", "end", "out", "workers", "metrics-addr"},
		"daily":     {"hourly", "daylength", "out"},
		"serve":     nil,
		"schedule":  {"metrics-addr", "run-now"},
	}
	for name, flags := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
			continue
		}
		for _, f := range flags {
			if cmd.Flags().Lookup(f) == nil {
				t.Errorf("%s: missing --%s", name, f)
			}
		}
	}
}
