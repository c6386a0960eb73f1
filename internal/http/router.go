package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-history-collector/internal/observability"
)

// RouterConfig holds the limits applied to dataset routes.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter // nil disables rate limiting
}

// NewRouter wires the API routes and middleware chain. Health and metrics are
// exempt from the dataset rate limit and timeout.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	datasets := router.PathPrefix("/datasets").Subrouter()
	datasets.Use(RateLimitMiddleware(cfg.Limiter))
	datasets.Use(TimeoutMiddleware(cfg.RequestTimeout))
	datasets.HandleFunc("/{key}/observations", h.GetObservations).Methods("GET")
	datasets.HandleFunc("/{key}/daily", h.GetDaily).Methods("GET")
	return router
}
