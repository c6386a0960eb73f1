package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS observations (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset     TEXT NOT NULL,
	ts          TEXT NOT NULL,
	temperature REAL NOT NULL,
	description TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS observations_dataset ON observations (dataset, seq);

CREATE TABLE IF NOT EXISTS daylength (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset TEXT NOT NULL,
	date    TEXT NOT NULL,
	hours   REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS daylength_dataset ON daylength (dataset, seq);

CREATE TABLE IF NOT EXISTS daily (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset     TEXT NOT NULL,
	date        TEXT NOT NULL,
	temperature REAL NOT NULL,
	description TEXT NOT NULL,
	daylength   REAL
);
CREATE INDEX IF NOT EXISTS daily_dataset ON daily (dataset, seq);
`

// SQLiteStore keeps every dataset in three tables of one SQLite database.
// Timestamps are stored as text in the same layouts as the CSV files.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is
// supported and pinned to one connection so every query sees the same data.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// One connection: writes serialize and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" || path == ":memory:" {
		return ":memory:", nil
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL", nil
}

func (s *SQLiteStore) AppendObservations(ctx context.Context, dataset string, obs []models.HourlyObservation) error {
	return s.insert(ctx, dataset, "observations", false,
		`INSERT INTO observations (dataset, ts, temperature, description) VALUES (?, ?, ?, ?)`,
		len(obs), func(i int) []any {
			o := obs[i]
			return []any{o.Timestamp.Format(TimestampLayout), o.Temperature, o.Description}
		})
}

func (s *SQLiteStore) AppendDayLength(ctx context.Context, dataset string, records []models.DayLengthRecord) error {
	return s.insert(ctx, dataset, "daylength", false,
		`INSERT INTO daylength (dataset, date, hours) VALUES (?, ?, ?)`,
		len(records), func(i int) []any {
			r := records[i]
			return []any{r.Date.Format(DateLayout), r.Hours}
		})
}

func (s *SQLiteStore) ReplaceDaily(ctx context.Context, dataset string, daily []models.DailySummary) error {
	return s.insert(ctx, dataset, "daily", true,
		`INSERT INTO daily (dataset, date, temperature, description, daylength) VALUES (?, ?, ?, ?, ?)`,
		len(daily), func(i int) []any {
			d := daily[i]
			return []any{d.Date.Format(DateLayout), d.MeanTemperature, d.ModalDescription, d.DayLengthHours}
		})
}

// insert runs n inserts in one transaction, optionally clearing the dataset first.
func (s *SQLiteStore) insert(ctx context.Context, dataset, table string, replace bool, query string, n int, args func(i int) []any) error {
	key, err := datasetKey(dataset)
	if err != nil {
		return err
	}
	if n == 0 && !replace {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE dataset = ?`, key); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, append([]any{key}, args(i)...)...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", table, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	observability.StoreRowsWrittenTotal.WithLabelValues(BackendSQLite, table).Add(float64(n))
	return nil
}

func (s *SQLiteStore) Observations(ctx context.Context, dataset string) ([]models.HourlyObservation, error) {
	return querySQLite(ctx, s, dataset,
		`SELECT ts, temperature, description FROM observations WHERE dataset = ? ORDER BY seq`,
		func(rows *sql.Rows) (models.HourlyObservation, error) {
			var (
				o  models.HourlyObservation
				ts string
			)
			if err := rows.Scan(&ts, &o.Temperature, &o.Description); err != nil {
				return o, err
			}
			t, err := time.Parse(TimestampLayout, ts)
			o.Timestamp = t
			return o, err
		})
}

func (s *SQLiteStore) DayLength(ctx context.Context, dataset string) ([]models.DayLengthRecord, error) {
	return querySQLite(ctx, s, dataset,
		`SELECT date, hours FROM daylength WHERE dataset = ? ORDER BY seq`,
		func(rows *sql.Rows) (models.DayLengthRecord, error) {
			var (
				r    models.DayLengthRecord
				date string
			)
			if err := rows.Scan(&date, &r.Hours); err != nil {
				return r, err
			}
			t, err := time.Parse(DateLayout, date)
			r.Date = t
			return r, err
		})
}

func (s *SQLiteStore) Daily(ctx context.Context, dataset string) ([]models.DailySummary, error) {
	return querySQLite(ctx, s, dataset,
		`SELECT date, temperature, description, daylength FROM daily WHERE dataset = ? ORDER BY seq`,
		func(rows *sql.Rows) (models.DailySummary, error) {
			var (
				d         models.DailySummary
				date      string
				daylength sql.NullFloat64
			)
			if err := rows.Scan(&date, &d.MeanTemperature, &d.ModalDescription, &daylength); err != nil {
				return d, err
			}
			if daylength.Valid {
				h := daylength.Float64
				d.DayLengthHours = &h
			}
			t, err := time.Parse(DateLayout, date)
			d.Date = t
			return d, err
		})
}

func querySQLite[T any](ctx context.Context, s *SQLiteStore, dataset, query string, scan func(*sql.Rows) (T, error)) ([]T, error) {
	key, err := datasetKey(dataset)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, key)
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
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
