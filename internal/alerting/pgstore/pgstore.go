// Package pgstore provides a PostgreSQL implementation of alerting.Repository
// and alerting.Catalog.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Mikeedozie/PAMS/internal/alerting"
)

var tracer = otel.Tracer("github.com/Mikeedozie/PAMS/internal/alerting/pgstore")

//go:embed schema.sql
var schema string

// maxListLimit caps List when no limit is given. Summarize does not go
// through List.
const maxListLimit = 10000

// Store persists alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `id, product_id, category, fingerprint, severity, score, confidence, likelihood,
	impact, description, source, status, priority_tier, sla_deadline, escalation_level, notified_level,
	occurrence_count, prior_alert_id, resolution_note, context, created_at, updated_at, last_seen_at,
	resolved_at, version`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get retrieves an alert by ID.
func (s *Store) Get(ctx context.Context, id string) (*alerting.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, err)
	}
	return a, true, nil
}

// Upsert inserts a new alert (Version 0) or updates an existing one if its
// stored version still matches. A lost race returns alerting.ErrConflict.
func (s *Store) Upsert(ctx context.Context, a *alerting.Alert) error {
	op := "UPDATE"
	if a.Version == 0 {
		op = "INSERT"
	}
	ctx, span := startSpan(ctx, "pgstore.Upsert", op)
	defer span.End()
	span.SetAttributes(attribute.String("pams.alert.id", a.ID))

	var contextJSON []byte
	if a.Context != nil {
		b, err := json.Marshal(a.Context)
		if err != nil {
			return fail(span, fmt.Errorf("marshal context: %w", err))
		}
		contextJSON = b
	}

	var prior *string
	if a.PriorAlertID != "" {
		prior = &a.PriorAlertID
	}

	args := []any{
		a.ID, a.ProductID, a.Category.String(), a.Fingerprint, a.Severity.String(), a.Score, a.Confidence,
		a.Likelihood, a.Impact, a.Description, a.Source, string(a.Status), a.Tier.String(), a.SLADeadline,
		a.EscalationLevel, a.NotifiedLevel, a.OccurrenceCount, prior, a.ResolutionNote, contextJSON,
		a.CreatedAt, a.UpdatedAt, a.LastSeenAt, a.ResolvedAt,
	}

	var query string
	if a.Version == 0 {
		query = `INSERT INTO alerts (
			id, product_id, category, fingerprint, severity, score, confidence, likelihood,
			impact, description, source, status, priority_tier, sla_deadline, escalation_level, notified_level,
			occurrence_count, prior_alert_id, resolution_note, context, created_at, updated_at, last_seen_at,
			resolved_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,1)
		ON CONFLICT (id) DO NOTHING
		RETURNING version`
	} else {
		query = `UPDATE alerts SET
			product_id       = $2,
			category         = $3,
			fingerprint      = $4,
			severity         = $5,
			score            = $6,
			confidence       = $7,
			likelihood       = $8,
			impact           = $9,
			description      = $10,
			source           = $11,
			status           = $12,
			priority_tier    = $13,
			sla_deadline     = $14,
			escalation_level = $15,
			notified_level   = $16,
			occurrence_count = $17,
			prior_alert_id   = $18,
			resolution_note  = $19,
			context          = $20,
			created_at       = $21,
			updated_at       = $22,
			last_seen_at     = $23,
			resolved_at      = $24,
			version          = version + 1
		WHERE id = $1 AND version = $25
		RETURNING version`
		args = append(args, a.Version)
	}

	var version int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fail(span, alerting.ErrConflict)
		}
		return fail(span, fmt.Errorf("upsert alert: %w", err))
	}
	a.Version = version
	return nil
}

// FindOpenByFingerprint returns active alerts with the fingerprint created at or after since.
func (s *Store) FindOpenByFingerprint(ctx context.Context, fp string, since time.Time) ([]*alerting.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.FindOpenByFingerprint", "SELECT")
	defer span.End()

	out, err := s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE fingerprint = $1 AND status IN ('open', 'in_progress') AND created_at >= $2
		ORDER BY updated_at DESC, id ASC`, fp, since)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// LatestByFingerprint returns the most recently created alert with the fingerprint.
func (s *Store) LatestByFingerprint(ctx context.Context, fp string) (*alerting.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.LatestByFingerprint", "SELECT")
	defer span.End()

	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE fingerprint = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, fp))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, err)
	}
	return a, true, nil
}

// ListByProduct returns a product's alerts created at or after since, newest first.
func (s *Store) ListByProduct(ctx context.Context, productID int64, since time.Time) ([]*alerting.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.ListByProduct", "SELECT")
	defer span.End()

	out, err := s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE product_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id ASC`, productID, since)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// ListActive returns all open and in_progress alerts, oldest deadline first.
func (s *Store) ListActive(ctx context.Context) ([]*alerting.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.ListActive", "SELECT")
	defer span.End()

	out, err := s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE status IN ('open', 'in_progress')
		ORDER BY sla_deadline ASC, id ASC`)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// List returns alerts matching f, highest score first.
func (s *Store) List(ctx context.Context, f alerting.Filter) ([]*alerting.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Severity != alerting.SeverityUnknown {
		add("severity = $%d", f.Severity.String())
	}
	if f.Category != alerting.CategoryUnknown {
		add("category = $%d", f.Category.String())
	}
	if f.ProductID != 0 {
		add("product_id = $%d", f.ProductID)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY score DESC, created_at DESC, id ASC LIMIT $%d`, len(args))

	out, err := s.queryAlerts(ctx, query, args...)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// Summarize aggregates the dashboard roll-up in the database, so it counts
// every row rather than the capped List result.
func (s *Store) Summarize(ctx context.Context, now time.Time) (*alerting.Summary, error) {
	ctx, span := startSpan(ctx, "pgstore.Summarize", "SELECT")
	defer span.End()

	active := []string{string(alerting.StatusOpen), string(alerting.StatusInProgress)}
	sum := &alerting.Summary{ByCategory: make(map[string]int)}
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE status = $1),
			count(*) FILTER (WHERE status = $2),
			count(*) FILTER (WHERE status = ANY($3) AND severity = $4),
			count(*) FILTER (WHERE status = ANY($3) AND sla_deadline < $5),
			count(*) FILTER (WHERE created_at >= $6)
		FROM alerts`,
		string(alerting.StatusOpen), string(alerting.StatusInProgress), active,
		alerting.SeverityCritical.String(), now, now.Add(-24*time.Hour),
	).Scan(&sum.Total, &sum.Open, &sum.InProgress, &sum.CriticalActive, &sum.Breached, &sum.Recent24h)
	if err != nil {
		return nil, fail(span, fmt.Errorf("count alerts: %w", err))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT category, count(*) FROM alerts WHERE status = ANY($1) GROUP BY category`, active)
	if err != nil {
		return nil, fail(span, fmt.Errorf("count by category: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fail(span, fmt.Errorf("scan category count: %w", err))
		}
		sum.ByCategory[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate category counts: %w", err))
	}
	return sum, nil
}

// Product returns the inventory snapshot for a product.
func (s *Store) Product(ctx context.Context, productID int64) (*alerting.ProductSnapshot, error) {
	ctx, span := startSpan(ctx, "pgstore.Product", "SELECT")
	defer span.End()

	p := alerting.ProductSnapshot{ProductID: productID}
	err := s.pool.QueryRow(ctx,
		`SELECT name, sku, category, supplier, current_stock, reorder_point FROM products WHERE id = $1`,
		productID,
	).Scan(&p.Name, &p.SKU, &p.Category, &p.Supplier, &p.CurrentStock, &p.ReorderPoint)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerting.ErrNotFound
		}
		return nil, fail(span, fmt.Errorf("query product: %w", err))
	}
	return &p, nil
}

// SupplierRisk returns the risk tier recorded for a supplier.
func (s *Store) SupplierRisk(ctx context.Context, supplier string) (string, error) {
	ctx, span := startSpan(ctx, "pgstore.SupplierRisk", "SELECT")
	defer span.End()

	var risk string
	err := s.pool.QueryRow(ctx, `SELECT risk_tier FROM suppliers WHERE name = $1`, supplier).Scan(&risk)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", alerting.ErrNotFound
		}
		return "", fail(span, fmt.Errorf("query supplier: %w", err))
	}
	return risk, nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]*alerting.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*alerting.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// scanAlert scans a single row. pgx.ErrNoRows is returned unwrapped.
func scanAlert(row pgx.Row) (*alerting.Alert, error) {
	var (
		a           alerting.Alert
		category    string
		severity    string
		status      string
		tier        string
		prior       *string
		contextJSON []byte
	)

	err := row.Scan(
		&a.ID, &a.ProductID, &category, &a.Fingerprint, &severity, &a.Score, &a.Confidence, &a.Likelihood,
		&a.Impact, &a.Description, &a.Source, &status, &tier, &a.SLADeadline, &a.EscalationLevel, &a.NotifiedLevel,
		&a.OccurrenceCount, &prior, &a.ResolutionNote, &contextJSON, &a.CreatedAt, &a.UpdatedAt, &a.LastSeenAt,
		&a.ResolvedAt, &a.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	a.Category = alerting.ParseCategory(category)
	a.Severity = alerting.ParseSeverity(severity)
	a.Status = alerting.Status(status)
	a.Tier = alerting.ParseTier(tier)
	if prior != nil {
		a.PriorAlertID = *prior
	}
	if len(contextJSON) > 0 {
		var c alerting.Context
		if err := json.Unmarshal(contextJSON, &c); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
		a.Context = &c
	}
	return &a, nil
}
