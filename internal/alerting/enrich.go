package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/errgroup"
)

// Stock health labels.
const (
	StockCritical = "critical"
	StockWarning  = "warning"
	StockHealthy  = "healthy"
)

// recurringThreshold is the number of similar past alerts above which an
// issue is considered recurring.
const recurringThreshold = 2

// Context is the non-authoritative enrichment attached to an alert. Any
// section may be missing when its source was unavailable.
type Context struct {
	Product         *ProductContext `json:"product,omitempty"`
	History         *HistoryContext `json:"history,omitempty"`
	SupplierRisk    string          `json:"supplier_risk,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// ProductContext is the stock picture at alert creation.
type ProductContext struct {
	Name         string `json:"name,omitempty"`
	SKU          string `json:"sku,omitempty"`
	Supplier     string `json:"supplier,omitempty"`
	CurrentStock int    `json:"current_stock"`
	ReorderPoint int    `json:"reorder_point"`
	StockHealth  string `json:"stock_health,omitempty"`
}

// HistoryContext aggregates earlier alerts for the same product.
type HistoryContext struct {
	WindowDays         int      `json:"window_days"`
	OpenAlerts         int      `json:"open_alerts"`
	SimilarAlerts      int      `json:"similar_alerts"`
	Recurring          bool     `json:"is_recurring"`
	AvgResolutionHours *float64 `json:"avg_resolution_hours,omitempty"`
}

func (c *Context) clone() *Context {
	cp := *c
	if c.Product != nil {
		p := *c.Product
		cp.Product = &p
	}
	if c.History != nil {
		h := *c.History
		if c.History.AvgResolutionHours != nil {
			v := *c.History.AvgResolutionHours
			h.AvgResolutionHours = &v
		}
		cp.History = &h
	}
	if c.Recommendations != nil {
		cp.Recommendations = append([]string(nil), c.Recommendations...)
	}
	return &cp
}

// Enrich aggregates already-fetched context for an alert. Nil inputs leave
// their section out. history must not include a itself.
func Enrich(a *Alert, product *ProductSnapshot, history []*Alert, window time.Duration, supplierRisk string) *Context {
	c := &Context{}

	if product != nil {
		c.Product = &ProductContext{
			Name:         product.Name,
			SKU:          product.SKU,
			Supplier:     product.Supplier,
			CurrentStock: product.CurrentStock,
			ReorderPoint: product.ReorderPoint,
			StockHealth:  StockHealth(product.CurrentStock, product.ReorderPoint),
		}
	}

	if history != nil {
		h := &HistoryContext{WindowDays: int(window / (24 * time.Hour))}
		var resolvedHours float64
		var resolvedN int
		for _, p := range history {
			if p.ID == a.ID {
				continue
			}
			if p.Status.Active() {
				h.OpenAlerts++
			}
			if p.Category == a.Category {
				h.SimilarAlerts++
			}
			if p.ResolvedAt != nil && !p.ResolvedAt.Before(p.CreatedAt) {
				resolvedHours += p.ResolvedAt.Sub(p.CreatedAt).Hours()
				resolvedN++
			}
		}
		h.Recurring = h.SimilarAlerts > recurringThreshold
		if resolvedN > 0 {
			avg := resolvedHours / float64(resolvedN)
			h.AvgResolutionHours = &avg
		}
		c.History = h
	}

	if a.Category.SupplyRelated() {
		c.SupplierRisk = supplierRisk
	}

	c.Recommendations = Recommend(a, c)
	return c
}

// StockHealth classifies stock against the reorder point. It returns "" when
// no reorder point is known.
func StockHealth(current, reorder int) string {
	if reorder <= 0 {
		return ""
	}
	ratio := float64(current) / float64(reorder)
	switch {
	case ratio < 0.5:
		return StockCritical
	case ratio < 1.0:
		return StockWarning
	default:
		return StockHealthy
	}
}

// Enricher fetches context sources for an alert within a bounded time and
// degrades to partial context when a source fails.
type Enricher struct {
	catalog Catalog
	history Repository
	window  time.Duration
	timeout time.Duration
	logger  log.Logger
	hooks   EngineHooks
}

// NewEnricher creates an enricher. catalog may be nil, in which case product
// and supplier sections are always omitted.
func NewEnricher(catalog Catalog, history Repository, window, timeout time.Duration, logger log.Logger, hooks EngineHooks) *Enricher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Enricher{
		catalog: catalog,
		history: history,
		window:  window,
		timeout: timeout,
		logger:  logger,
		hooks:   hooks,
	}
}

// Gather fetches product, supplier and history data concurrently, then
// aggregates it with Enrich. It never fails.
func (e *Enricher) Gather(ctx context.Context, a *Alert, now time.Time) *Context {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var (
		product      *ProductSnapshot
		supplierRisk string
		history      []*Alert
		g            errgroup.Group
	)

	if e.catalog != nil {
		g.Go(func() error {
			p, err := e.catalog.Product(ctx, a.ProductID)
			if err != nil {
				e.degraded(ctx, "product", a, err)
				return nil
			}
			product = p
			if !a.Category.SupplyRelated() || p == nil || p.Supplier == "" {
				return nil
			}
			risk, err := e.catalog.SupplierRisk(ctx, p.Supplier)
			if err != nil {
				e.degraded(ctx, "supplier", a, err)
				return nil
			}
			supplierRisk = risk
			return nil
		})
	}

	if e.history != nil {
		g.Go(func() error {
			h, err := e.history.ListByProduct(ctx, a.ProductID, now.Add(-e.window))
			if err != nil {
				e.degraded(ctx, "history", a, err)
				return nil
			}
			if h == nil {
				h = []*Alert{}
			}
			history = h
			return nil
		})
	}

	_ = g.Wait()
	return Enrich(a, product, history, e.window, supplierRisk)
}

func (e *Enricher) degraded(ctx context.Context, source string, a *Alert, err error) {
	if e.hooks.OnEnrichFailure != nil {
		e.hooks.OnEnrichFailure(source)
	}
	e.logger.Warn(ctx, "enrichment source unavailable",
		"source", source,
		"product_id", a.ProductID,
		"error", fmt.Errorf("%w: %w", ErrDependencyUnavailable, err).Error(),
	)
}
