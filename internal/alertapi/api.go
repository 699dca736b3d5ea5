// Package alertapi exposes the decision engine over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/Mikeedozie/PAMS/internal/alerting"
	"github.com/Mikeedozie/PAMS/internal/authmw"
)

// AlertService defines the engine operations alertapi needs.
type AlertService interface {
	Ingest(ctx context.Context, c *alerting.Candidate) (*alerting.IngestResult, error)
	Get(ctx context.Context, id string) (*alerting.Alert, bool, error)
	List(ctx context.Context, f alerting.Filter) ([]*alerting.Alert, error)
	Transition(ctx context.Context, id string, to alerting.Status, note string) (*alerting.Alert, error)
	Summarize(ctx context.Context) (*alerting.Summary, error)
	Now() time.Time
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    AlertService
	tokens []string
}

// New creates a new API handler. When any non-empty token is given the
// mutating endpoints require one of them as a bearer token.
func New(logger log.Logger, svc AlertService, tokens ...string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alert service is required"))
	}
	a := &API{logger: logger, svc: svc}
	for _, t := range tokens {
		if t != "" {
			a.tokens = append(a.tokens, t)
		}
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/summary", a.handleSummary)
		r.Get("/alerts/{id}", a.handleGetAlert)

		r.Group(func(r chi.Router) {
			if len(a.tokens) > 0 {
				r.Use(authmw.BearerToken(a.tokens...))
			}
			r.Post("/ingest", a.handleIngest)
			r.Post("/alerts/{id}/status", a.handleSetStatus)
		})
	})
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto status codes. Anything unclassified is
// logged and reported as an internal error.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if ve, ok := alerting.IsValidation(err); ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
		return
	}
	switch {
	case errors.Is(err, alerting.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, alerting.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, alerting.ErrConflict):
		a.logger.Warn(r.Context(), msg, "error", err.Error())
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "concurrent update, retry"})
	default:
		a.logger.Error(r.Context(), err, msg)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
