package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const thisPackage = "github.com/Mikeedozie/PAMS/internal/postgres."

// queryTracer wraps another pgx.QueryTracer (otelpgx) and adds metrics,
// per-request stats and a structured log line per query. With a slow
// threshold set only queries at least that slow are logged; failures are
// always logged.
type queryTracer struct {
	inner pgx.QueryTracer
	slow  time.Duration
}

// queryInfo is what TraceQueryStart hands to TraceQueryEnd.
type queryInfo struct {
	sql     string
	nargs   int
	start   time.Time
	caller  string
	handler string
}

func newQueryTracer(inner pgx.QueryTracer, slow time.Duration) *queryTracer {
	return &queryTracer{inner: inner, slow: slow}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	q := &queryInfo{sql: data.SQL, nargs: len(data.Args), start: time.Now()}
	q.caller, q.handler = callSite()

	// inner tracer creates the DB span first
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if q.caller != "" {
			span.SetAttributes(attribute.String("db.caller", q.caller))
		}
		if q.handler != "" {
			span.SetAttributes(attribute.String("db.handler", q.handler))
		}
		if w := workloadFromContext(ctx); w != "" {
			span.SetAttributes(attribute.String("pams.workload", w))
		}
	}
	return context.WithValue(ctx, ctxKeyQuery, q)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	q, _ := ctx.Value(ctxKeyQuery).(*queryInfo)
	if q == nil {
		q = &queryInfo{}
	}
	var dur time.Duration
	if !q.start.IsZero() {
		dur = time.Since(q.start)
	}

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := getQueryObserver(); obs != nil {
		method, route := queryLabels(ctx)
		obs.ObserveQuery(ctx, method, route, outcome, dur)
	}

	if data.Err == nil && t.slow > 0 && dur < t.slow {
		return
	}
	t.log(ctx, q, data, dur)
}

func (t *queryTracer) log(ctx context.Context, q *queryInfo, data pgx.TraceQueryEndData, dur time.Duration) {
	// args are counted, not logged: they carry alert descriptions and context JSON
	fields := []any{
		"db.statement", compactSQL(q.sql),
		"db.arg_count", q.nargs,
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		if op, _, _ := strings.Cut(tag, " "); op != "" {
			fields = append(fields, "db.operation.name", strings.ToUpper(op))
		}
		fields = append(fields, "db.rows", data.CommandTag.RowsAffected())
	}
	if q.caller != "" {
		fields = append(fields, "db.caller", q.caller)
	}
	if q.handler != "" {
		fields = append(fields, "db.handler", q.handler)
	}
	if w := workloadFromContext(ctx); w != "" {
		fields = append(fields, "workload", w)
	}

	L := log.FromContext(ctx)
	switch {
	case data.Err != nil:
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
	case t.slow > 0:
		L.Warn(ctx, "slow db query", fields...)
	default:
		L.Info(ctx, "db query", fields...)
	}
}

// compactSQL folds the multi-line statements used by the stores onto one line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// callSite walks the stack for the function issuing the query (caller) and
// the first meaningful frame above it (handler).
func callSite() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		switch {
		case fn == "":
		case strings.HasPrefix(fn, "runtime."),
			strings.Contains(fn, "github.com/jackc/pgx/v5"),
			strings.Contains(fn, "github.com/exaring/otelpgx"),
			strings.HasPrefix(fn, thisPackage):
		case caller == "":
			caller = shortenFuncName(fn)
		case !isStoreHelper(fn):
			return caller, shortenFuncName(fn)
		}
		if !more {
			return caller, handler
		}
	}
}

// isStoreHelper reports whether fn is an unexported function or method in a
// *store package, which says nothing about who asked for the query.
func isStoreHelper(fn string) bool {
	pkgEnd := strings.LastIndex(fn, "/")
	if pkgEnd < 0 {
		return false
	}
	rest := fn[pkgEnd+1:]
	dot := strings.Index(rest, ".")
	if dot < 0 || !strings.HasSuffix(rest[:dot], "store") {
		return false
	}
	name := rest[strings.LastIndex(rest, ".")+1:]
	if name == "" {
		return false
	}
	return name[0] >= 'a' && name[0] <= 'z'
}

// shortenFuncName trims the package path, keeping receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
