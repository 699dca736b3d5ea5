package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultEscalationInterval is how often the monitor sweeps.
const DefaultEscalationInterval = 60 * time.Second

// SweepResult counts what one sweep did.
type SweepResult struct {
	Scanned      int
	Escalated    int
	Notified     int
	NotifyFailed int
	Skipped      int
}

// Monitor periodically raises the escalation level of active alerts past
// their SLA deadline and requests notifications for each new level. It uses
// the engine's Locker so escalation never races a merge on the same alert.
// Notifications go out after the lock is released.
type Monitor struct {
	engine   *Engine
	interval time.Duration
	logger   log.Logger
}

// NewMonitor creates an escalation monitor for the engine.
func NewMonitor(engine *Engine, interval time.Duration, logger log.Logger) *Monitor {
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		interval = DefaultEscalationInterval
	}
	return &Monitor{engine: engine, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is done. Sweep failures are logged
// and retried on the next tick.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info(ctx, "escalation monitor started", "interval", m.interval.String())
	for {
		select {
		case <-ctx.Done():
			m.logger.Info(context.WithoutCancel(ctx), "escalation monitor stopped")
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error(ctx, err, "escalation sweep failed")
			}
		}
	}
}

// Sweep scans all active alerts once. Cancellation is checked between
// alerts; an alert already being processed is always finished.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "alerting.sweep")
	defer span.End()

	var res SweepResult
	defer func() {
		span.SetAttributes(
			attribute.Int("pams.sweep.scanned", res.Scanned),
			attribute.Int("pams.sweep.escalated", res.Escalated),
		)
		if h := m.engine.hooks.OnSweep; h != nil {
			h(time.Since(start).Seconds(), res.Scanned, res.Escalated)
		}
	}()

	active, err := m.engine.repo.ListActive(ctx)
	if err != nil {
		err = storageErr("list active alerts", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	for _, a := range active {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		m.process(ctx, a.ID, a.Fingerprint, &res)
	}
	return res, nil
}

func (m *Monitor) process(ctx context.Context, id, fingerprint string, res *SweepResult) {
	a, ok := m.escalate(ctx, id, fingerprint, res)
	if !ok || a.NotifiedLevel >= a.EscalationLevel {
		return
	}

	// the fingerprint lock is not held while notifying
	ctx = context.WithoutCancel(ctx)
	e := m.engine
	if err := e.notify(ctx, newNotification(a)); err != nil {
		res.NotifyFailed++
		m.logger.Warn(ctx, "escalation notification not confirmed, will retry next sweep",
			"alert_id", id,
			"escalation_level", a.EscalationLevel,
			"error", err.Error(),
		)
		return
	}
	res.Notified++

	if err := e.markNotified(ctx, id, fingerprint, a.EscalationLevel); err != nil {
		m.logger.Warn(ctx, "notified level not persisted", "alert_id", id, "error", err.Error())
	}
}

// escalate raises a breached alert by one level under the fingerprint lock.
// It returns the alert as stored, or false when there is nothing to act on.
func (m *Monitor) escalate(ctx context.Context, id, fingerprint string, res *SweepResult) (*Alert, bool) {
	e := m.engine
	L := m.logger.With("alert_id", id)

	unlock, err := e.locks.Lock(ctx, fingerprint)
	if err != nil {
		res.Skipped++
		if !errors.Is(err, context.Canceled) {
			L.Warn(ctx, "could not lock alert for escalation", "error", err.Error())
		}
		return nil, false
	}
	defer unlock()

	// past the lock the update runs to completion even if shutdown started
	ctx = context.WithoutCancel(ctx)

	a, ok, err := e.repo.Get(ctx, id)
	if err != nil {
		res.Skipped++
		L.Error(ctx, err, "failed to reload alert for escalation")
		return nil, false
	}
	if !ok || !a.Status.Active() {
		return nil, false
	}

	now := e.clock.Now()
	if !IsBreached(a, now) || a.EscalationLevel >= e.sla.policy.MaxEscalationLevel {
		return a, true
	}

	a.EscalationLevel++
	base := a.SLADeadline
	if now.After(base) {
		base = now
	}
	a.SLADeadline = base.Add(e.sla.policy.GraceFor(a.EscalationLevel))
	a.UpdatedAt = now

	if err := e.repo.Upsert(ctx, a); err != nil {
		res.Skipped++
		L.Warn(ctx, "escalation not persisted, will retry next sweep", "error", err.Error())
		return nil, false
	}
	res.Escalated++
	if e.hooks.OnEscalate != nil {
		e.hooks.OnEscalate(a.EscalationLevel)
	}
	L.Info(ctx, "alert escalated",
		"escalation_level", a.EscalationLevel,
		"sla_deadline", a.SLADeadline,
		"tier", a.Tier.String(),
	)
	return a, true
}
