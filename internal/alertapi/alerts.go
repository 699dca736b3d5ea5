package alertapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mikeedozie/PAMS/internal/alerting"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 100
	maxListLimit     = 500
)

// alertView is an alert as served to clients, with its SLA standing
// computed at read time.
type alertView struct {
	*alerting.Alert
	SLA alerting.SLAView `json:"sla"`
}

type ingestResponse struct {
	AlertID         string                `json:"alert_id"`
	Status          alerting.IngestStatus `json:"status"`
	OccurrenceCount int                   `json:"occurrence_count,omitempty"`
	Tier            alerting.Tier         `json:"priority_tier"`
	Score           float64               `json:"score"`
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var c alerting.Candidate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}

	res, err := a.svc.Ingest(r.Context(), &c)
	if err != nil {
		a.writeError(w, r, err, "failed to ingest candidate")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("pams.alert.id", res.AlertID),
		attribute.String("pams.ingest.status", string(res.Status)),
	)

	resp := ingestResponse{
		AlertID: res.AlertID,
		Status:  res.Status,
		Tier:    res.Tier,
		Score:   res.Score,
	}
	code := http.StatusCreated
	if res.Status == alerting.IngestMerged {
		code = http.StatusOK
		resp.OccurrenceCount = res.OccurrenceCount
	}
	writeJSON(w, code, resp)
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("pams.alert.id", id))

	al, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err, "failed to get alert")
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}

	span.SetAttributes(attribute.String("pams.alert.status", string(al.Status)))
	writeJSON(w, http.StatusOK, alertView{Alert: al, SLA: alerting.SLAStatusOf(al, a.svc.Now())})
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	f, bad := parseFilter(r)
	if bad != nil {
		writeJSON(w, http.StatusBadRequest, bad)
		return
	}

	alerts, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err, "failed to list alerts")
		return
	}

	now := a.svc.Now()
	out := make([]alertView, 0, len(alerts))
	for _, al := range alerts {
		out = append(out, alertView{Alert: al, SLA: alerting.SLAStatusOf(al, now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": out,
		"count":  len(out),
	})
}

func parseFilter(r *http.Request) (alerting.Filter, *errorBody) {
	q := r.URL.Query()
	f := alerting.Filter{Limit: defaultListLimit}

	if v := q.Get("status"); v != "" {
		f.Status = alerting.Status(v)
		if !f.Status.Valid() {
			return f, &errorBody{Error: "unknown status", Field: "status"}
		}
	}
	if v := q.Get("severity"); v != "" {
		f.Severity = alerting.ParseSeverity(v)
		if !f.Severity.Valid() {
			return f, &errorBody{Error: "unknown severity", Field: "severity"}
		}
	}
	if v := q.Get("category"); v != "" {
		f.Category = alerting.ParseCategory(v)
		if !f.Category.Valid() {
			return f, &errorBody{Error: "unknown category", Field: "category"}
		}
	}
	if v := q.Get("product_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, &errorBody{Error: "must be a positive integer", Field: "product_id"}
		}
		f.ProductID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, &errorBody{Error: "must be a positive integer", Field: "limit"}
		}
		f.Limit = min(n, maxListLimit)
	}
	return f, nil
}

func (a *API) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("pams.alert.id", id))

	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload"})
		return
	}
	to := alerting.Status(req.Status)
	if !to.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown status", Field: "status"})
		return
	}

	al, err := a.svc.Transition(r.Context(), id, to, req.Note)
	if err != nil {
		a.writeError(w, r, err, "failed to change alert status")
		return
	}
	writeJSON(w, http.StatusOK, alertView{Alert: al, SLA: alerting.SLAStatusOf(al, a.svc.Now())})
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	s, err := a.svc.Summarize(r.Context())
	if err != nil {
		a.writeError(w, r, err, "failed to summarize alerts")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
