package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Mikeedozie/PAMS/internal/alertapi"
	"github.com/Mikeedozie/PAMS/internal/alerting"
	"github.com/Mikeedozie/PAMS/internal/alerting/memstore"
	"github.com/Mikeedozie/PAMS/internal/alerting/pgstore"
	vc "github.com/Mikeedozie/PAMS/internal/cfg"
	"github.com/Mikeedozie/PAMS/internal/lock/redislock"
	"github.com/Mikeedozie/PAMS/internal/notify/slack"
	"github.com/Mikeedozie/PAMS/internal/postgres"
	"github.com/Mikeedozie/PAMS/internal/signals/kafkasrc"
)

// store is what the engine needs from persistence: alerts plus the
// product/supplier catalog used for enrichment.
type store interface {
	alerting.Repository
	alerting.Catalog
}

// openStore picks Postgres when a database URL is configured and the
// in-memory store otherwise. The returned cleanup is never nil.
func openStore(ctx context.Context, c *vc.Config, L log.Logger) (store, func(), error) {
	if c.DatabaseURL == "" {
		L.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, c.DatabaseURL, c.DBSlowQuery)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres store", "slow_query", c.DBSlowQuery.String())
	return s, pool.Close, nil
}

// observeQueries registers the per-query histogram and routes the tracer's
// observations into it.
func observeQueries(reg prometheus.Registerer) {
	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pams_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	reg.MustRegister(dur)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, d time.Duration) {
			dur.WithLabelValues(method, route, outcome).Observe(d.Seconds())
		},
	))
}

// newLocker returns a Redis-backed fingerprint locker when replicas share a
// Redis, or nil so the engine falls back to its in-process lock table.
func newLocker(ctx context.Context, c *vc.Config, L log.Logger) (alerting.Locker, func(), error) {
	if c.RedisAddr == "" {
		return nil, func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	L.Info(ctx, "using redis fingerprint locks", "addr", c.RedisAddr, "ttl", c.LockTTL.String())
	return redislock.New(rdb, c.LockTTL, L), func() { _ = rdb.Close() }, nil
}

func newNotifier(ctx context.Context, c *vc.Config, L log.Logger) alerting.Notifier {
	if c.SlackWebhookURL == "" {
		L.Info(ctx, "no notifier configured, escalations are recorded only")
		return nil
	}
	L.Info(ctx, "notifier enabled", "type", "slack")
	return slack.New(c.SlackWebhookURL, L)
}

// workers runs the escalation monitor and, when configured, the Kafka
// signal consumer. Both get a context detached from the signal context so
// they keep running while HTTP drains.
type workers struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	engine *alerting.Engine
}

func startWorkers(ctx context.Context, c *vc.Config, engine *alerting.Engine, L log.Logger) *workers {
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &workers{cancel: cancel, engine: engine}

	monitor := alerting.NewMonitor(engine, c.EscalationInterval, L)
	w.spawn(func() { _ = monitor.Run(postgres.WithWorkload(wctx, "escalation")) })

	if brokers := c.Brokers(); len(brokers) > 0 {
		reader := kafkasrc.NewReader(kafkasrc.Config{
			Brokers: brokers,
			Topic:   c.KafkaTopic,
			GroupID: c.KafkaGroupID,
		})
		consumer := kafkasrc.New(reader, engine, L, kafkasrc.Options{})
		w.spawn(func() { _ = consumer.Run(postgres.WithWorkload(wctx, "kafka")) })
		L.Info(ctx, "kafka consumer enabled", "topic", c.KafkaTopic, "group_id", c.KafkaGroupID)
	}
	return w
}

func (w *workers) spawn(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Stop cancels the workers and waits for them, then for any creation
// notices the engine still has in flight, all bounded by ctx.
func (w *workers) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.engine.Wait(ctx)
}

// apiHandler builds the public listener's handler: the chi router with the
// alert API and health endpoints, wrapped in the shared middleware stack.
// Wrappers are applied inside out, so the last one added sees the raw
// request first.
func apiHandler(L log.Logger, api *alertapi.API, healthz, readyz http.HandlerFunc, instrument func(http.Handler) http.Handler, trustedHops int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	// http.route on logger and span from the chi pattern
	r.Use(httpmw.AnnotateHTTPRoute)
	// method label and per-request query stats for the DB tracer
	r.Use(postgres.RequestStats)
	r.Use(httpmw.AccessLog())
	// candidates are small; 64KB leaves room for long descriptions
	r.Use(httpmw.MaxBody(64 << 10))

	r.Get("/-/healthy", healthz)
	r.Get("/-/ready", readyz)
	api.RegisterRoutes(r)

	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	h = instrument(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{TrustedHops: trustedHops})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	return httpmw.SecurityHeaders(h)
}
