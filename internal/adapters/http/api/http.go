// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/fieldmemo/internal/app"
	"github.com/okian/fieldmemo/internal/adapters/repository"
	"github.com/okian/fieldmemo/internal/domain/model"
	"github.com/okian/fieldmemo/internal/domain/region"
)

const maxBodyBytes = 1 << 20

// TemplateDependencies are the synchronous template operations.
type TemplateDependencies interface {
	Load(ctx context.Context, issuer string) ([]region.FieldRegion, error)
	Save(ctx context.Context, issuer string, regions []region.FieldRegion) error
	Merge(ctx context.Context, issuer string, observed []region.FieldRegion) ([]region.FieldRegion, error)
}

// ObservationDependencies are the ingestion operations.
type ObservationDependencies interface {
	Submit(ctx context.Context, o model.Observation) (service.SubmitStatus, error)
	MergeBatch(ctx context.Context, observations []model.Observation) ([]service.BatchResult, error)
}

// Dependencies required by HTTP handlers.
type Dependencies interface {
	TemplateDependencies
	ObservationDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler
	templatesHandler    *TemplatesHandler
	observationsHandler *ObservationsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:       NewHealthHandler(),
		statsHandler:        NewStatsHandler(statsProvider),
		templatesHandler:    NewTemplatesHandler(deps),
		observationsHandler: NewObservationsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /templates/{issuer}", MetricsMiddleware(s.templatesHandler.HandleGet, "templates_get"))
	mux.HandleFunc("PUT /templates/{issuer}", MetricsMiddleware(s.templatesHandler.HandlePut, "templates_put"))
	mux.HandleFunc("POST /templates/{issuer}/merge", MetricsMiddleware(s.templatesHandler.HandleMerge, "templates_merge"))
	mux.HandleFunc("POST /observations", MetricsMiddleware(s.observationsHandler.HandlePost, "observations"))
	mux.HandleFunc("POST /observations/batch", MetricsMiddleware(s.observationsHandler.HandleBatch, "observations_batch"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeKindError maps the error kinds of the lower layers to a status code.
func writeKindError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrInvalidObservation),
		errors.Is(err, repository.ErrInvalidIssuer):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, region.ErrDecode):
		return http.StatusUnprocessableEntity, "decode_error"
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrNotStarted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, repository.ErrBackend):
		return http.StatusInternalServerError, "backend_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeBody reads a JSON body of at most maxBodyBytes into v.
func decodeBody(w http.ResponseWriter, r *http.Request, op string, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}
