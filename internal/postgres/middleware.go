package postgres

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestStats stashes the HTTP method for query metrics and collects
// per-request query statistics, which are attached to the request span once
// the handler returns.
func RequestStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := NewReqDBStatsContext(WithHTTPMethod(r.Context(), r.Method))
		next.ServeHTTP(w, r.WithContext(ctx))

		s, _ := ReqDBStatsFromContext(ctx)
		count, dur, errs := s.snapshot()
		if count == 0 {
			return
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("pams.db.query_count", count),
			attribute.Int("pams.db.error_count", errs),
			attribute.Float64("pams.db.total_ms", float64(dur.Microseconds())/1000),
		)
	})
}
