package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/observability"
)

// CSVStore keeps each dataset in {dir}/{dataset}.csv with a header row.
type CSVStore struct {
	dir string
	mu  sync.Mutex
}

func NewCSVStore(dir string) (*CSVStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &CSVStore{dir: dir}, nil
}

func (s *CSVStore) path(dataset string) (string, error) {
	key, err := datasetKey(dataset)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, key+".csv"), nil
}

func (s *CSVStore) AppendObservations(ctx context.Context, dataset string, obs []models.HourlyObservation) error {
	rows := make([][]string, len(obs))
	for i, o := range obs {
		rows[i] = encodeObservation(o)
	}
	return s.write(dataset, "observations", hourlyHeader, rows, os.O_APPEND)
}

func (s *CSVStore) AppendDayLength(ctx context.Context, dataset string, records []models.DayLengthRecord) error {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = encodeDayLength(r)
	}
	return s.write(dataset, "daylength", dayLengthHeader, rows, os.O_APPEND)
}

func (s *CSVStore) ReplaceDaily(ctx context.Context, dataset string, daily []models.DailySummary) error {
	rows := make([][]string, len(daily))
	for i, d := range daily {
		rows[i] = encodeDaily(d)
	}
	return s.write(dataset, "daily", dailyHeader, rows, os.O_TRUNC)
}

// write appends or truncates. Appending to an existing file requires a
// matching header; an empty append leaves the file untouched.
func (s *CSVStore) write(dataset, table string, header []string, rows [][]string, mode int) error {
	path, err := s.path(dataset)
	if err != nil {
		return err
	}
	if len(rows) == 0 && mode == os.O_APPEND {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	needHeader := true
	if mode == os.O_APPEND {
		got, err := readHeader(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return err
		case !slices.Equal(got, header):
			return fmt.Errorf("%w: %s has columns %v, want %v", ErrSchemaMismatch, path, got, header)
		default:
			needHeader = false
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	observability.StoreRowsWrittenTotal.WithLabelValues(BackendCSV, table).Add(float64(len(rows)))
	return nil
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, fs.ErrNotExist
	}
	return header, err
}

func (s *CSVStore) Observations(ctx context.Context, dataset string) ([]models.HourlyObservation, error) {
	return readCSV(s, dataset, hourlyHeader, decodeObservation)
}

func (s *CSVStore) DayLength(ctx context.Context, dataset string) ([]models.DayLengthRecord, error) {
	return readCSV(s, dataset, dayLengthHeader, decodeDayLength)
}

func (s *CSVStore) Daily(ctx context.Context, dataset string) ([]models.DailySummary, error) {
	return readCSV(s, dataset, dailyHeader, decodeDaily)
}

func readCSV[T any](s *CSVStore, dataset string, header []string, decode func([]string) (T, error)) ([]T, error) {
	path, err := s.path(dataset)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, dataset)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	got, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, dataset)
	}
	if err != nil || !slices.Equal(got, header) {
		return nil, fmt.Errorf("%w: %s has columns %v, want %v", ErrSchemaMismatch, path, got, header)
	}

	var out []T
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		v, err := decode(rec)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Close implements Store.
func (s *CSVStore) Close() error {
	return nil
}
