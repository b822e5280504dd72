// Package http exposes the signal cache over a small JSON API.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/models"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/observability"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/service"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/store"
	"github.com/BonuttiTechnologies/uvceed-disease-alerts/internal/validation"
)

const serviceName = "uvceed-disease-alerts"

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	orchestrator *service.Orchestrator
	store        store.Store
	logger       *zap.Logger
}

// NewHandler returns a new Handler.
func NewHandler(orch *service.Orchestrator, st store.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orchestrator: orch, store: st, logger: logger}
}

// RouterConfig carries the knobs the router wires into middleware.
type RouterConfig struct {
	APIKey         string
	RequestTimeout time.Duration
	RateLimiter    *rate.Limiter
}

// NewRouter builds the mux router: /health and /metrics open, /signals/*
// behind rate limiting, auth, and the request timeout.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware)

	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	signals := r.PathPrefix("/signals").Subrouter()
	signals.Use(RateLimitMiddleware(cfg.RateLimiter))
	signals.Use(AuthMiddleware(cfg.APIKey))
	if cfg.RequestTimeout > 0 {
		signals.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	signals.HandleFunc("/latest", h.GetLatestSignals).Methods(http.MethodGet)
	signals.HandleFunc("/refresh", h.PostRefresh).Methods(http.MethodPost)

	return r
}

// GetHealth handles GET /health. Liveness only: it pings the datastore but
// never triggers a refresh.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status, code := "ok", http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		checks["datastore"] = "unhealthy"
		status, code = "degraded", http.StatusServiceUnavailable
		h.logger.Warn("health: datastore ping failed", zap.Error(err))
	} else {
		checks["datastore"] = "healthy"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   serviceName,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetLatestSignals handles GET /signals/latest?zip=NNNNN.
func (h *Handler) GetLatestSignals(w http.ResponseWriter, r *http.Request) {
	zip := r.URL.Query().Get("zip")
	result, err := h.orchestrator.GetLatest(r.Context(), zip)
	if err != nil {
		writeAggregateError(w, r, err)
		return
	}
	writeAggregate(w, result)
}

// PostRefresh handles POST /signals/refresh with body {"zip": "NNNNN"}.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Zip string `json:"zip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a zip field")
		return
	}
	result, err := h.orchestrator.ForceRefresh(r.Context(), body.Zip)
	if err != nil {
		writeAggregateError(w, r, err)
		return
	}
	writeAggregate(w, result)
}

// writeAggregate picks the status code for an aggregate result: 503 when no
// configured signal produced anything servable and at least one refresh
// failed, 200 otherwise.
func writeAggregate(w http.ResponseWriter, result *models.AggregateResult) {
	code := http.StatusOK
	if len(result.Errors) > 0 && allUnavailable(result) {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, result)
}

func allUnavailable(result *models.AggregateResult) bool {
	for _, entry := range result.Signals {
		if entry.Status != models.StatusUnavailable {
			return false
		}
	}
	return true
}

func writeAggregateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validation.ErrZipEmpty), errors.Is(err, validation.ErrZipFormat):
		writeError(w, r, http.StatusBadRequest, "INVALID_ZIP", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "unable to serve signals")
		if logger := observability.LoggerFromContext(r.Context()); logger != nil {
			logger.Error("aggregate request failed", zap.Error(err))
		}
	}
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
