// Package store persists collected tables by dataset key.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/validation"
)

var (
	// ErrDatasetNotFound is returned when a dataset has no stored rows.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrSchemaMismatch is returned when a stored table has unexpected columns.
	ErrSchemaMismatch = errors.New("dataset schema mismatch")
)

// Timestamp layouts used wherever records are stored as text.
const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
)

// Backend names.
const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Store is an append-only table store keyed by dataset. Reads return rows in
// the order they were appended.
type Store interface {
	AppendObservations(ctx context.Context, dataset string, obs []models.HourlyObservation) error
	AppendDayLength(ctx context.Context, dataset string, records []models.DayLengthRecord) error
	// ReplaceDaily overwrites the dataset; daily tables are derived, not collected.
	ReplaceDaily(ctx context.Context, dataset string, daily []models.DailySummary) error

	Observations(ctx context.Context, dataset string) ([]models.HourlyObservation, error)
	DayLength(ctx context.Context, dataset string) ([]models.DayLengthRecord, error)
	Daily(ctx context.Context, dataset string) ([]models.DailySummary, error)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	Dir         string
	SQLitePath  string
	PostgresURL string
}

// Open returns the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendCSV:
		return NewCSVStore(cfg.Dir)
	case BackendSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case BackendPostgres:
		return OpenPostgres(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func datasetKey(dataset string) (string, error) {
	key, err := validation.ValidateDatasetKey(dataset)
	if err != nil {
		return "", fmt.Errorf("dataset %q: %w", dataset, err)
	}
	return key, nil
}
