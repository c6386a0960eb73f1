package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS weather_observations (
	seq         BIGSERIAL PRIMARY KEY,
	dataset     TEXT NOT NULL,
	ts          TIMESTAMP NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	description TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS weather_observations_dataset ON weather_observations (dataset, seq);

CREATE TABLE IF NOT EXISTS weather_daylength (
	seq     BIGSERIAL PRIMARY KEY,
	dataset TEXT NOT NULL,
	date    DATE NOT NULL,
	hours   DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS weather_daylength_dataset ON weather_daylength (dataset, seq);

CREATE TABLE IF NOT EXISTS weather_daily (
	seq         BIGSERIAL PRIMARY KEY,
	dataset     TEXT NOT NULL,
	date        DATE NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	description TEXT NOT NULL,
	daylength   DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS weather_daily_dataset ON weather_daily (dataset, seq);
`

// PostgresStore wraps a pgx pool. Rows are written with batches, one
// implicit transaction per call.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and creates the tables if missing.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres store needs DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) AppendObservations(ctx context.Context, dataset string, obs []models.HourlyObservation) error {
	key, err := datasetKey(dataset)
	if err != nil || len(obs) == 0 {
		return err
	}
	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(`INSERT INTO weather_observations (dataset, ts, temperature, description) VALUES ($1,$2,$3,$4)`,
			key, o.Timestamp, o.Temperature, o.Description)
	}
	return s.send(ctx, batch, "observations", len(obs))
}

func (s *PostgresStore) AppendDayLength(ctx context.Context, dataset string, records []models.DayLengthRecord) error {
	key, err := datasetKey(dataset)
	if err != nil || len(records) == 0 {
		return err
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`INSERT INTO weather_daylength (dataset, date, hours) VALUES ($1,$2,$3)`, key, r.Date, r.Hours)
	}
	return s.send(ctx, batch, "daylength", len(records))
}

func (s *PostgresStore) ReplaceDaily(ctx context.Context, dataset string, daily []models.DailySummary) error {
	key, err := datasetKey(dataset)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM weather_daily WHERE dataset = $1`, key)
	for _, d := range daily {
		batch.Queue(`INSERT INTO weather_daily (dataset, date, temperature, description, daylength) VALUES ($1,$2,$3,$4,$5)`,
			key, d.Date, d.MeanTemperature, d.ModalDescription, d.DayLengthHours)
	}
	return s.send(ctx, batch, "daily", len(daily))
}

func (s *PostgresStore) send(ctx context.Context, batch *pgx.Batch, table string, rows int) error {
	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("write %s: %w", table, err)
		}
	}
	observability.StoreRowsWrittenTotal.WithLabelValues(BackendPostgres, table).Add(float64(rows))
	return nil
}

func (s *PostgresStore) Observations(ctx context.Context, dataset string) ([]models.HourlyObservation, error) {
	return queryPostgres(ctx, s, dataset,
		`SELECT ts, temperature, description FROM weather_observations WHERE dataset = $1 ORDER BY seq`,
		func(rows pgx.Rows) (models.HourlyObservation, error) {
			var o models.HourlyObservation
			err := rows.Scan(&o.Timestamp, &o.Temperature, &o.Description)
			return o, err
		})
}

func (s *PostgresStore) DayLength(ctx context.Context, dataset string) ([]models.DayLengthRecord, error) {
	return queryPostgres(ctx, s, dataset,
		`SELECT date, hours FROM weather_daylength WHERE dataset = $1 ORDER BY seq`,
		func(rows pgx.Rows) (models.DayLengthRecord, error) {
			var r models.DayLengthRecord
			err := rows.Scan(&r.Date, &r.Hours)
			return r, err
		})
}

func (s *PostgresStore) Daily(ctx context.Context, dataset string) ([]models.DailySummary, error) {
	return queryPostgres(ctx, s, dataset,
		`SELECT date, temperature, description, daylength FROM weather_daily WHERE dataset = $1 ORDER BY seq`,
		func(rows pgx.Rows) (models.DailySummary, error) {
			var d models.DailySummary
			err := rows.Scan(&d.Date, &d.MeanTemperature, &d.ModalDescription, &d.DayLengthHours)
			return d, err
		})
}

func queryPostgres[T any](ctx context.Context, s *PostgresStore, dataset, query string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	key, err := datasetKey(dataset)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", key, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", key, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, key)
	}
	return out, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
