package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Mikeedozie/PAMS/internal/alerting"

const (
	// MaxConflictAttempts bounds how often a lost compare-and-swap is retried
	// against the refreshed row before the caller sees ErrConflict.
	MaxConflictAttempts = 3

	// DefaultHistoryWindow is how far back enrichment counts related alerts.
	DefaultHistoryWindow = 30 * 24 * time.Hour

	// DefaultEnrichTimeout bounds all enrichment fetches for one candidate.
	DefaultEnrichTimeout = 2 * time.Second

	// DefaultNotifyTimeout bounds one notification attempt.
	DefaultNotifyTimeout = 5 * time.Second

	// NotifyPending is the NotifiedLevel of a new P1 alert whose first
	// notice is not yet confirmed. The monitor resends it until it is.
	NotifyPending = -1
)

// IngestStatus says whether an ingestion created or merged an alert.
type IngestStatus string

const (
	IngestNew    IngestStatus = "new"
	IngestMerged IngestStatus = "merged"
)

// IngestResult is the outcome of ingesting one candidate.
type IngestResult struct {
	AlertID         string       `json:"alert_id"`
	Status          IngestStatus `json:"status"`
	OccurrenceCount int          `json:"occurrence_count"`
	Tier            Tier         `json:"priority_tier"`
	Score           float64      `json:"score"`
}

// Options configures an Engine. Zero values take the package defaults.
type Options struct {
	Lookback      time.Duration
	HistoryWindow time.Duration
	EnrichTimeout time.Duration
	NotifyTimeout time.Duration
	Policy        *Policy
	Locker        Locker
	Clock         Clock
	Catalog       Catalog
	Notifier      Notifier
	Hooks         EngineHooks
	NewID         func() string
}

// Engine is the decision engine: it validates, fingerprints, deduplicates,
// scores, enriches and SLA-stamps candidates, serializing all work on one
// fingerprint through its Locker.
type Engine struct {
	repo          Repository
	locks         Locker
	dedup         *Deduplicator
	sla           *SLAManager
	enricher      *Enricher
	notifier      Notifier
	clock         Clock
	logger        log.Logger
	hooks         EngineHooks
	notifyTimeout time.Duration
	newID         func() string

	// pending tracks creation notices still in flight.
	pending sync.WaitGroup
}

// NewEngine creates a decision engine over repo.
func NewEngine(repo Repository, logger log.Logger, opts Options) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	policy := DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.Locker == nil {
		opts.Locker = NewKeyedMutex()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.EnrichTimeout <= 0 {
		opts.EnrichTimeout = DefaultEnrichTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return ulid.Make().String() }
	}

	return &Engine{
		repo:          repo,
		locks:         opts.Locker,
		dedup:         NewDeduplicator(repo, opts.Lookback),
		sla:           NewSLAManager(policy),
		enricher:      NewEnricher(opts.Catalog, repo, opts.HistoryWindow, opts.EnrichTimeout, logger, opts.Hooks),
		notifier:      opts.Notifier,
		clock:         opts.Clock,
		logger:        logger,
		hooks:         opts.Hooks,
		notifyTimeout: opts.NotifyTimeout,
		newID:         opts.NewID,
	}
}

// SLA returns the engine's SLA manager.
func (e *Engine) SLA() *SLAManager { return e.sla }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Ingest turns a candidate into a new alert or merges it into an existing
// open one. At most one decision per fingerprint runs at a time.
func (e *Engine) Ingest(ctx context.Context, c *Candidate) (*IngestResult, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "alerting.ingest", trace.WithAttributes(
		attribute.Int64("pams.product.id", c.ProductID),
		attribute.String("pams.alert.category", c.Category.String()),
	))
	defer span.End()

	res, err := e.ingest(ctx, c)

	outcome := "error"
	switch {
	case err == nil:
		outcome = string(res.Status)
		span.SetAttributes(
			attribute.String("pams.alert.id", res.AlertID),
			attribute.String("pams.ingest.status", outcome),
		)
	case errors.As(err, new(*ValidationError)):
		outcome = "rejected"
		span.SetStatus(codes.Error, err.Error())
	case errors.Is(err, ErrConflict):
		outcome = "conflict"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.hooks.OnIngest != nil {
		e.hooks.OnIngest(outcome, time.Since(start).Seconds())
	}
	return res, err
}

func (e *Engine) ingest(ctx context.Context, c *Candidate) (*IngestResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	fp := Fingerprint(c)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("pams.alert.fingerprint", fp))
	L := e.logger.With("fingerprint", fp, "product_id", c.ProductID, "category", c.Category.String())

	unlock, err := e.locks.Lock(ctx, fp)
	if err != nil {
		return nil, &StorageError{Op: "lock fingerprint", Err: err}
	}
	defer unlock()

	score := Score(c)

	for attempt := 1; ; attempt++ {
		res, err := e.decide(ctx, c, fp, score)
		if err == nil {
			L.Info(ctx, "candidate ingested",
				"alert_id", res.AlertID,
				"decision", res.Status,
				"score", res.Score,
				"tier", res.Tier.String(),
				"occurrence_count", res.OccurrenceCount,
			)
			return res, nil
		}
		if !errors.Is(err, ErrConflict) {
			L.Error(ctx, err, "candidate ingestion failed")
			return nil, err
		}
		if e.hooks.OnConflict != nil {
			e.hooks.OnConflict()
		}
		if attempt >= MaxConflictAttempts {
			L.Warn(ctx, "giving up after repeated conflicts", "attempts", attempt)
			return nil, fmt.Errorf("ingest %s after %d attempts: %w", fp, attempt, ErrConflict)
		}
		L.Warn(ctx, "merge lost a concurrent update, retrying", "attempt", attempt)
	}
}

func (e *Engine) decide(ctx context.Context, c *Candidate, fp string, score float64) (*IngestResult, error) {
	now := e.clock.Now()

	d, err := e.dedup.Resolve(ctx, fp, now)
	if err != nil {
		return nil, err
	}
	if d.Merge != nil {
		return e.merge(ctx, d.Merge, c, score, now)
	}
	return e.create(ctx, c, fp, score, d.PriorID, now)
}

func (e *Engine) merge(ctx context.Context, a *Alert, c *Candidate, score float64, now time.Time) (*IngestResult, error) {
	a.OccurrenceCount++
	a.Score = max(a.Score, score)
	a.Severity = max(a.Severity, c.Severity)
	a.Confidence = max(a.Confidence, c.Confidence)
	a.Likelihood = max(a.Likelihood, c.Likelihood)
	a.Impact = max(a.Impact, c.Impact)
	a.LastSeenAt = now
	a.UpdatedAt = now
	e.sla.Reassess(a, now)

	if err := e.repo.Upsert(ctx, a); err != nil {
		return nil, storageErr("upsert merged alert", err)
	}
	return &IngestResult{
		AlertID:         a.ID,
		Status:          IngestMerged,
		OccurrenceCount: a.OccurrenceCount,
		Tier:            a.Tier,
		Score:           a.Score,
	}, nil
}

func (e *Engine) create(ctx context.Context, c *Candidate, fp string, score float64, priorID string, now time.Time) (*IngestResult, error) {
	a := &Alert{
		ID:              e.newID(),
		ProductID:       c.ProductID,
		Category:        c.Category,
		Fingerprint:     fp,
		Severity:        c.Severity,
		Score:           score,
		Confidence:      c.Confidence,
		Likelihood:      c.Likelihood,
		Impact:          c.Impact,
		Description:     c.Description,
		Source:          c.Source,
		Status:          StatusOpen,
		OccurrenceCount: 1,
		PriorAlertID:    priorID,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastSeenAt:      now,
	}
	a.Tier, a.SLADeadline = e.sla.Assign(a)
	a.Context = e.enricher.Gather(ctx, a, now)
	if a.Tier == TierP1 {
		a.NotifiedLevel = NotifyPending
	}

	if err := e.repo.Upsert(ctx, a); err != nil {
		return nil, storageErr("insert alert", err)
	}

	if a.Tier == TierP1 {
		e.pending.Add(1)
		go e.notifyCreated(context.WithoutCancel(ctx), a.Clone())
	}

	return &IngestResult{
		AlertID:         a.ID,
		Status:          IngestNew,
		OccurrenceCount: a.OccurrenceCount,
		Tier:            a.Tier,
		Score:           a.Score,
	}, nil
}

func (e *Engine) notifyCreated(ctx context.Context, a *Alert) {
	defer e.pending.Done()
	if err := e.notify(ctx, newNotification(a)); err != nil {
		e.logger.Warn(ctx, "new alert notification not confirmed, monitor will retry", "alert_id", a.ID, "error", err.Error())
		return
	}
	if err := e.markNotified(ctx, a.ID, a.Fingerprint, a.EscalationLevel); err != nil {
		e.logger.Warn(ctx, "notified level not persisted", "alert_id", a.ID, "error", err.Error())
	}
}

// Wait blocks until in-flight creation notices finish or ctx is done. Call
// it once nothing can ingest anymore.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markNotified records level as delivered for alert id. It takes the
// fingerprint lock itself, so callers send the notification unlocked and
// come back here once it is confirmed. The level never moves backwards.
func (e *Engine) markNotified(ctx context.Context, id, fingerprint string, level int) error {
	unlock, err := e.locks.Lock(ctx, fingerprint)
	if err != nil {
		return &StorageError{Op: "lock fingerprint", Err: err}
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		a, ok, err := e.repo.Get(ctx, id)
		if err != nil {
			return storageErr("get alert", err)
		}
		if !ok || a.NotifiedLevel >= level {
			return nil
		}
		a.NotifiedLevel = level
		err = e.repo.Upsert(ctx, a)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= MaxConflictAttempts {
			return storageErr("record notified level", err)
		}
	}
}

// notify sends one request within the notify timeout. A nil notifier counts
// as delivered.
func (e *Engine) notify(ctx context.Context, req *NotificationRequest) error {
	if e.notifier == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
	defer cancel()

	if err := e.notifier.Notify(ctx, req); err != nil {
		if e.hooks.OnNotify != nil {
			e.hooks.OnNotify("failed")
		}
		return fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}
	if e.hooks.OnNotify != nil {
		e.hooks.OnNotify("sent")
	}
	return nil
}

// Get retrieves an alert by ID.
func (e *Engine) Get(ctx context.Context, id string) (*Alert, bool, error) {
	a, ok, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, false, storageErr("get alert", err)
	}
	return a, ok, nil
}

// List returns alerts matching f.
func (e *Engine) List(ctx context.Context, f Filter) ([]*Alert, error) {
	out, err := e.repo.List(ctx, f)
	if err != nil {
		return nil, storageErr("list alerts", err)
	}
	return out, nil
}

// Transition applies an externally requested status change, serialized with
// ingestion and escalation on the alert's fingerprint. Reopening restarts the
// SLA window. note is kept as the resolution note when resolving or closing.
func (e *Engine) Transition(ctx context.Context, id string, to Status, note string) (*Alert, error) {
	a, ok, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get alert", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	unlock, err := e.locks.Lock(ctx, a.Fingerprint)
	if err != nil {
		return nil, &StorageError{Op: "lock fingerprint", Err: err}
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		cur, ok, err := e.repo.Get(ctx, id)
		if err != nil {
			return nil, storageErr("get alert", err)
		}
		if !ok {
			return nil, ErrNotFound
		}

		now := e.clock.Now()
		changed, err := Transition(cur, to, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			return cur, nil
		}
		if to == StatusOpen {
			e.sla.Restart(cur, now)
		}
		if note != "" && (to == StatusResolved || to == StatusClosed) {
			cur.ResolutionNote = note
		}

		err = e.repo.Upsert(ctx, cur)
		if err == nil {
			if e.hooks.OnTransition != nil {
				e.hooks.OnTransition(to)
			}
			e.logger.Info(ctx, "alert status changed", "alert_id", id, "status", to)
			return cur, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= MaxConflictAttempts {
			return nil, storageErr("upsert alert status", err)
		}
	}
}

// Summary is a dashboard roll-up of alert state.
type Summary struct {
	Total          int            `json:"total_alerts"`
	Open           int            `json:"open_alerts"`
	InProgress     int            `json:"in_progress_alerts"`
	CriticalActive int            `json:"critical_alerts"`
	Breached       int            `json:"breached_alerts"`
	Recent24h      int            `json:"recent_24h"`
	ByCategory     map[string]int `json:"by_category"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Summarizer is implemented by repositories that aggregate the roll-up
// themselves. List may cap its result, so large stores should provide it.
type Summarizer interface {
	Summarize(ctx context.Context, now time.Time) (*Summary, error)
}

// Summarize computes the dashboard roll-up over all alerts.
func (e *Engine) Summarize(ctx context.Context) (*Summary, error) {
	now := e.clock.Now()
	if sr, ok := e.repo.(Summarizer); ok {
		s, err := sr.Summarize(ctx, now)
		if err != nil {
			return nil, storageErr("summarize alerts", err)
		}
		s.Timestamp = now
		if s.ByCategory == nil {
			s.ByCategory = make(map[string]int)
		}
		return s, nil
	}

	all, err := e.repo.List(ctx, Filter{})
	if err != nil {
		return nil, storageErr("list alerts", err)
	}
	s := &Summary{ByCategory: make(map[string]int), Timestamp: now}
	for _, a := range all {
		s.Total++
		switch a.Status {
		case StatusOpen:
			s.Open++
		case StatusInProgress:
			s.InProgress++
		case StatusResolved, StatusClosed:
		}
		if a.Status.Active() {
			s.ByCategory[a.Category.String()]++
			if a.Severity == SeverityCritical {
				s.CriticalActive++
			}
		}
		if IsBreached(a, now) {
			s.Breached++
		}
		if !a.CreatedAt.Before(now.Add(-24 * time.Hour)) {
			s.Recent24h++
		}
	}
	return s, nil
}
