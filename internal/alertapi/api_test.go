package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/Mikeedozie/PAMS/internal/alerting"
	"github.com/Mikeedozie/PAMS/internal/alerting/memstore"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *alerting.Engine {
	t.Helper()
	return alerting.NewEngine(memstore.New(), log.Nop(), alerting.Options{
		Clock: alerting.ClockFunc(func() time.Time { return testNow }),
	})
}

func newTestRouter(t *testing.T, token string) (chi.Router, *alerting.Engine) {
	t.Helper()
	eng := newTestEngine(t)
	r := chi.NewRouter()
	New(nil, eng, token).RegisterRoutes(r)
	return r, eng
}

func do(t *testing.T, r http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

const candidateJSON = `{"product_id":42,"category":"quality","severity":"critical","confidence":0.9,"likelihood":0.8,"impact":0.9,"description":"Defect rate spike on line 3"}`

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newTestEngine(t), "")
	if api == nil {
		t.Fatal("New(nil, svc) returned nil API")
	}
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil, "")
}

// Routing

func TestRegisterRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/ingest"},
		{http.MethodPut, "/api/v1/ingest"},
		{http.MethodDelete, "/api/v1/alerts/abc"},
		{http.MethodGet, "/api/v1/alerts/abc/status"},
		{http.MethodPost, "/api/v1/alerts/summary"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, tt.method, tt.path, "")
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, http.StatusMethodNotAllowed)
			}
		})
	}
}

func TestRegisterRoutes_NotFound(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	for _, path := range []string{"/", "/api/v1", "/api/v2/alerts", "/api/v1/unknown"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodGet, path, "")
			if rec.Code != http.StatusNotFound {
				t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusNotFound)
			}
		})
	}
}

// Ingest

func TestHandleIngest_NewThenMerged(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	rec := do(t, r, http.MethodPost, "/api/v1/ingest", candidateJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first ingest = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}
	var first ingestResponse
	if err := json.NewDecoder(rec.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Status != alerting.IngestNew || first.AlertID == "" {
		t.Fatalf("first = %+v, want new with id", first)
	}
	if first.Tier != alerting.TierP1 {
		t.Errorf("tier = %v, want P1", first.Tier)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/ingest", candidateJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("second ingest = %d, want %d", rec.Code, http.StatusOK)
	}
	var second ingestResponse
	if err := json.NewDecoder(rec.Body).Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Status != alerting.IngestMerged || second.AlertID != first.AlertID || second.OccurrenceCount != 2 {
		t.Errorf("second = %+v, want merged into %s with count 2", second, first.AlertID)
	}
}

func TestHandleIngest_Rejections(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"invalid json", `{bad`, ""},
		{"missing product", `{"category":"quality","severity":"low","confidence":0.5,"likelihood":0.5,"impact":0.5}`, "product_id"},
		{"unknown severity", `{"product_id":1,"category":"quality","severity":"urgent","confidence":0.5,"likelihood":0.5,"impact":0.5}`, "severity"},
		{"unknown category", `{"product_id":1,"category":"weather","severity":"low","confidence":0.5,"likelihood":0.5,"impact":0.5}`, "category"},
		{"confidence out of range", `{"product_id":1,"category":"quality","severity":"low","confidence":1.5,"likelihood":0.5,"impact":0.5}`, "confidence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodPost, "/api/v1/ingest", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Field != tt.wantField {
				t.Errorf("field = %q, want %q", body.Field, tt.wantField)
			}
		})
	}
}

func TestHandleIngest_RequiresToken(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "s3cret")

	if rec := do(t, r, http.MethodPost, "/api/v1/ingest", candidateJSON); rec.Code != http.StatusUnauthorized {
		t.Errorf("without token = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec := do(t, r, http.MethodPost, "/api/v1/ingest", candidateJSON, "Authorization", "Bearer s3cret"); rec.Code != http.StatusCreated {
		t.Errorf("with token = %d, want %d", rec.Code, http.StatusCreated)
	}
	// reads stay open
	if rec := do(t, r, http.MethodGet, "/api/v1/alerts", ""); rec.Code != http.StatusOK {
		t.Errorf("list without token = %d, want %d", rec.Code, http.StatusOK)
	}
}

// Get

func TestHandleGetAlert(t *testing.T) {
	t.Parallel()

	r, eng := newTestRouter(t, "")
	res, err := eng.Ingest(context.Background(), &alerting.Candidate{
		ProductID: 7, Category: alerting.CategorySupply, Severity: alerting.SeverityLow,
		Confidence: 0.2, Likelihood: 0.2, Impact: 0.2, Description: "minor delay",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	rec := do(t, r, http.MethodGet, "/api/v1/alerts/"+res.AlertID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got struct {
		ID     string           `json:"id"`
		Status string           `json:"status"`
		Tier   string           `json:"priority_tier"`
		SLA    alerting.SLAView `json:"sla"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != res.AlertID || got.Status != "open" {
		t.Errorf("got id=%q status=%q", got.ID, got.Status)
	}
	if got.Tier != "P4" {
		t.Errorf("tier = %q, want P4", got.Tier)
	}
	if got.SLA.Status != alerting.SLAOk || got.SLA.TimeRemainingHours != 168 {
		t.Errorf("sla = %+v, want ok with 168h remaining", got.SLA)
	}

	if rec := do(t, r, http.MethodGet, "/api/v1/alerts/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// List

func TestHandleListAlerts_Filters(t *testing.T) {
	t.Parallel()

	r, eng := newTestRouter(t, "")
	ctx := context.Background()
	for i, sev := range []alerting.Severity{alerting.SeverityLow, alerting.SeverityCritical, alerting.SeverityCritical} {
		_, err := eng.Ingest(ctx, &alerting.Candidate{
			ProductID: int64(i + 1), Category: alerting.CategoryDemand, Severity: sev,
			Confidence: 0.5, Likelihood: 0.5, Impact: 0.5, Description: fmt.Sprintf("demand shift %d", i),
		})
		if err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	tests := []struct {
		query     string
		wantCode  int
		wantCount int
	}{
		{"", http.StatusOK, 3},
		{"?severity=critical", http.StatusOK, 2},
		{"?severity=critical&limit=1", http.StatusOK, 1},
		{"?product_id=1", http.StatusOK, 1},
		{"?status=closed", http.StatusOK, 0},
		{"?category=quality", http.StatusOK, 0},
		{"?status=bogus", http.StatusBadRequest, 0},
		{"?severity=bogus", http.StatusBadRequest, 0},
		{"?limit=-1", http.StatusBadRequest, 0},
		{"?product_id=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodGet, "/api/v1/alerts"+tt.query, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var body struct {
				Count int `json:"count"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", body.Count, tt.wantCount)
			}
		})
	}
}

// Status

func TestHandleSetStatus(t *testing.T) {
	t.Parallel()

	r, eng := newTestRouter(t, "")
	res, err := eng.Ingest(context.Background(), &alerting.Candidate{
		ProductID: 3, Category: alerting.CategoryExpiration, Severity: alerting.SeverityMedium,
		Confidence: 0.5, Likelihood: 0.5, Impact: 0.5, Description: "batch expiring soon",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	path := "/api/v1/alerts/" + res.AlertID + "/status"

	steps := []struct {
		body     string
		wantCode int
	}{
		{`{"status":"in_progress"}`, http.StatusOK},
		{`{"status":"resolved","note":"batch pulled"}`, http.StatusOK},
		{`{"status":"closed"}`, http.StatusOK},
		{`{"status":"resolved"}`, http.StatusOK},
		{`{"status":"in_progress"}`, http.StatusConflict},
		{`{"status":"nope"}`, http.StatusBadRequest},
		{`{bad`, http.StatusBadRequest},
	}
	for _, s := range steps {
		rec := do(t, r, http.MethodPost, path, s.body)
		if rec.Code != s.wantCode {
			t.Fatalf("POST %s %s = %d, want %d", path, s.body, rec.Code, s.wantCode)
		}
	}

	a, _, err := eng.Get(context.Background(), res.AlertID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Status != alerting.StatusClosed || a.ResolutionNote != "batch pulled" {
		t.Errorf("alert = status %s note %q, want closed with note", a.Status, a.ResolutionNote)
	}

	if rec := do(t, r, http.MethodPost, "/api/v1/alerts/missing/status", `{"status":"closed"}`); rec.Code != http.StatusNotFound {
		t.Errorf("missing = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// Summary

func TestHandleSummary(t *testing.T) {
	t.Parallel()

	r, eng := newTestRouter(t, "")
	if _, err := eng.Ingest(context.Background(), &alerting.Candidate{
		ProductID: 9, Category: alerting.CategoryDefect, Severity: alerting.SeverityCritical,
		Confidence: 1, Likelihood: 1, Impact: 1, Description: "seal failure",
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	rec := do(t, r, http.MethodGet, "/api/v1/alerts/summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var s alerting.Summary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Total != 1 || s.Open != 1 || s.CriticalActive != 1 || s.ByCategory["defect"] != 1 {
		t.Errorf("summary = %+v", s)
	}
}

// Error mapping

type failingService struct {
	err error
}

func (f *failingService) Ingest(context.Context, *alerting.Candidate) (*alerting.IngestResult, error) {
	return nil, f.err
}

func (f *failingService) Get(context.Context, string) (*alerting.Alert, bool, error) {
	return nil, false, f.err
}

func (f *failingService) List(context.Context, alerting.Filter) ([]*alerting.Alert, error) {
	return nil, f.err
}

func (f *failingService) Transition(context.Context, string, alerting.Status, string) (*alerting.Alert, error) {
	return nil, f.err
}

func (f *failingService) Summarize(context.Context) (*alerting.Summary, error) {
	return nil, f.err
}

func (f *failingService) Now() time.Time { return testNow }

func TestWriteError_Mapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantCode   int
		retryAfter bool
	}{
		{"conflict", fmt.Errorf("ingest: %w", alerting.ErrConflict), http.StatusServiceUnavailable, true},
		{"storage", &alerting.StorageError{Op: "insert alert", Err: errors.New("disk full")}, http.StatusInternalServerError, false},
		{"not found", alerting.ErrNotFound, http.StatusNotFound, false},
		{"invalid transition", alerting.ErrInvalidTransition, http.StatusConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := chi.NewRouter()
			New(nil, &failingService{err: tt.err}, "").RegisterRoutes(r)

			rec := do(t, r, http.MethodPost, "/api/v1/ingest", candidateJSON)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Retry-After") != ""; got != tt.retryAfter {
				t.Errorf("Retry-After present = %v, want %v", got, tt.retryAfter)
			}
		})
	}
}

// Fuzz

func FuzzIngest(f *testing.F) {
	eng := alerting.NewEngine(memstore.New(), log.Nop(), alerting.Options{})
	r := chi.NewRouter()
	New(nil, eng, "").RegisterRoutes(r)

	seeds := []string{
		"",
		"{}",
		candidateJSON,
		`{"product_id":-1}`,
		`{"product_id":1,"category":"quality","severity":"low","confidence":NaN}`,
		"{invalid json",
		"\x00\x01\x02\xff\xfe",
		strings.Repeat("a", 10000),
	}
	for _, s := range seeds {
		f.Add([]byte(s))
	}

	f.Fuzz(func(t *testing.T, body []byte) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(string(body)))
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusCreated, http.StatusOK, http.StatusBadRequest:
		default:
			t.Errorf("POST /api/v1/ingest with body len=%d = %d, want 200, 201 or 400", len(body), rec.Code)
		}
	})
}
