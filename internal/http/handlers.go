package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-history-collector/internal/aggregate"
	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/store"
	"github.com/kjstillabower/weather-history-collector/internal/traffic"
	"github.com/kjstillabower/weather-history-collector/internal/validation"
)

const queryDateLayout = "2006-01-02"

// HealthConfig holds optional dependency checks reported by /health.
type HealthConfig struct {
	// Checks maps a dependency name (e.g. "cache") to a reachability probe.
	Checks    map[string]func() error
	StartTime time.Time
	// DegradedErrorPct of failed store reads within DegradedWindow marks the
	// service degraded. Zero disables the check.
	DegradedWindow   time.Duration
	DegradedErrorPct int
}

// Handler serves the read-only dataset API.
type Handler struct {
	store        store.Store
	healthConfig *HealthConfig
	logger       *zap.Logger
	reads        *traffic.Window
	shuttingDown atomic.Bool

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(st store.Store, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{store: st, healthConfig: healthConfig, logger: logger}
	if healthConfig != nil && healthConfig.DegradedErrorPct > 0 {
		h.reads = traffic.NewWindow(healthConfig.DegradedWindow)
	}
	return h
}

// SetShuttingDown makes /health report shutting-down so load balancers drain the instance.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// datasetResponse is the envelope for every dataset read.
type datasetResponse[T any] struct {
	Dataset string `json:"dataset"`
	Count   int    `json:"count"`
	Records []T    `json:"records"`
}

// GetObservations handles GET /datasets/{key}/observations.
func (h *Handler) GetObservations(w http.ResponseWriter, r *http.Request) {
	key, ok := datasetFromPath(w, r)
	if !ok {
		return
	}
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}

	obs, err := h.store.Observations(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.recordRead(nil)
	obs = filterByDate(obs, from, to, func(o models.HourlyObservation) time.Time { return o.Timestamp })
	writeJSON(w, http.StatusOK, datasetResponse[models.HourlyObservation]{Dataset: key, Count: len(obs), Records: obs})
}

// GetDaily handles GET /datasets/{key}/daily. The daily table is computed from
// the hourly dataset on each request; ?daylength={key} left-joins day lengths.
func (h *Handler) GetDaily(w http.ResponseWriter, r *http.Request) {
	key, ok := datasetFromPath(w, r)
	if !ok {
		return
	}
	from, to, ok := dateRange(w, r)
	if !ok {
		return
	}
	daylengthKey := r.URL.Query().Get("daylength")
	if daylengthKey != "" {
		k, err := validation.ValidateDatasetKey(daylengthKey)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_DATASET", err.Error())
			return
		}
		daylengthKey = k
	}

	obs, err := h.store.Observations(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	daily, err := aggregate.ToDaily(obs)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "AGGREGATION_FAILED", err.Error())
		return
	}
	if daylengthKey != "" {
		records, err := h.store.DayLength(r.Context(), daylengthKey)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		if daily, err = aggregate.Enrich(daily, records); err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, "AGGREGATION_FAILED", err.Error())
			return
		}
	}
	h.recordRead(nil)
	daily = filterByDate(daily, from, to, func(d models.DailySummary) time.Time { return d.Date })
	writeJSON(w, http.StatusOK, datasetResponse[models.DailySummary]{Dataset: key, Count: len(daily), Records: daily})
}

func datasetFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := validation.ValidateDatasetKey(mux.Vars(r)["key"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATASET", err.Error())
		return "", false
	}
	return key, true
}

// dateRange parses the optional inclusive from/to query parameters. A zero
// time means unbounded.
func dateRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	var err error
	if s := q.Get("from"); s != "" {
		if from, err = time.Parse(queryDateLayout, s); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_DATE", "from must be YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
	}
	if s := q.Get("to"); s != "" {
		if to, err = time.Parse(queryDateLayout, s); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_DATE", "to must be YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE", "to is before from")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func filterByDate[T any](rows []T, from, to time.Time, ts func(T) time.Time) []T {
	if from.IsZero() && to.IsZero() {
		return rows
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		y, m, day := ts(row).Date()
		d := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
		if !from.IsZero() && d.Before(from) {
			continue
		}
		if !to.IsZero() && d.After(to) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status, statusCode, checks := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", status))
	}
	h.healthStatusPrev = status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    status,
		"service":   "weather-history-collector",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(time.Since(h.healthConfig.StartTime).Seconds())
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) computeHealthStatus() (string, int, map[string]string) {
	checks := make(map[string]string)
	if h.shuttingDown.Load() {
		return "shutting-down", http.StatusServiceUnavailable, checks
	}
	status, code := "healthy", http.StatusOK
	if h.healthConfig == nil {
		return status, code, checks
	}
	if h.reads != nil && h.reads.Breached(h.healthConfig.DegradedErrorPct) {
		checks["store"] = "unhealthy"
		status, code = "degraded", http.StatusServiceUnavailable
	}
	names := make([]string, 0, len(h.healthConfig.Checks))
	for name := range h.healthConfig.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.healthConfig.Checks[name](); err != nil {
			h.logger.Debug("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unhealthy"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}
	return status, code, checks
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationID(r.Context()),
		},
	})
}

// recordRead feeds the degraded-health window. A missing dataset is a valid answer.
func (h *Handler) recordRead(err error) {
	if h.reads == nil || errors.Is(err, store.ErrDatasetNotFound) {
		return
	}
	if err != nil {
		h.reads.RecordError()
		return
	}
	h.reads.RecordSuccess()
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	h.recordRead(err)
	switch {
	case errors.Is(err, store.ErrDatasetNotFound):
		writeError(w, r, http.StatusNotFound, "DATASET_NOT_FOUND", "dataset not found")
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
	case errors.Is(err, store.ErrSchemaMismatch):
		writeError(w, r, http.StatusUnprocessableEntity, "SCHEMA_MISMATCH", "stored dataset has unexpected columns")
	default:
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "unable to read dataset")
	}
	LoggerFrom(r.Context()).Warn("dataset read failed", zap.Error(err))
}
