package alerting

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestStockHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current, reorder int
		want             string
	}{
		{0, 10, StockCritical},
		{4, 10, StockCritical},
		{5, 10, StockWarning},
		{9, 10, StockWarning},
		{10, 10, StockHealthy},
		{50, 10, StockHealthy},
		{5, 0, ""},
	}
	for _, tt := range tests {
		if got := StockHealth(tt.current, tt.reorder); got != tt.want {
			t.Errorf("StockHealth(%d, %d) = %q, want %q", tt.current, tt.reorder, got, tt.want)
		}
	}
}

func TestEnrich_History(t *testing.T) {
	t.Parallel()

	resolved := func(h int) *time.Time {
		v := testNow.Add(time.Duration(h) * time.Hour)
		return &v
	}
	a := &Alert{ID: "new", ProductID: 1, Category: CategoryQuality, Tier: TierP3, Severity: SeverityMedium}
	history := []*Alert{
		a,
		{ID: "h1", Category: CategoryQuality, Status: StatusOpen, CreatedAt: testNow},
		{ID: "h2", Category: CategoryQuality, Status: StatusResolved, CreatedAt: testNow, ResolvedAt: resolved(4)},
		{ID: "h3", Category: CategoryQuality, Status: StatusClosed, CreatedAt: testNow, ResolvedAt: resolved(8)},
		{ID: "h4", Category: CategoryDemand, Status: StatusInProgress, CreatedAt: testNow},
	}

	c := Enrich(a, nil, history, 30*24*time.Hour, "high")

	h := c.History
	if h == nil {
		t.Fatal("history missing")
	}
	if h.WindowDays != 30 {
		t.Errorf("window_days = %d, want 30", h.WindowDays)
	}
	if h.OpenAlerts != 2 {
		t.Errorf("open_alerts = %d, want 2", h.OpenAlerts)
	}
	if h.SimilarAlerts != 3 || !h.Recurring {
		t.Errorf("similar = %d recurring = %v, want 3/true", h.SimilarAlerts, h.Recurring)
	}
	if h.AvgResolutionHours == nil || *h.AvgResolutionHours != 6 {
		t.Errorf("avg_resolution_hours = %v, want 6", h.AvgResolutionHours)
	}
	if c.Product != nil {
		t.Error("product section should be omitted without a snapshot")
	}
	if c.SupplierRisk != "" {
		t.Error("supplier risk is only kept for supply-related categories")
	}
	if !slices.Contains(c.Recommendations, "Investigate root cause (recurring issue)") {
		t.Errorf("recommendations = %v", c.Recommendations)
	}
}

func TestEnrich_NoHistoryIsNotEmptyHistory(t *testing.T) {
	t.Parallel()
	a := &Alert{ID: "a", Category: CategoryDemand}

	if c := Enrich(a, nil, nil, time.Hour, ""); c.History != nil {
		t.Error("nil history source should omit the section")
	}
	if c := Enrich(a, nil, []*Alert{}, time.Hour, ""); c.History == nil || c.History.Recurring {
		t.Errorf("empty history = %+v", c.History)
	}
}

func TestRecommend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a       *Alert
		c       *Context
		want    []string
		notWant []string
	}{
		{
			name: "urgent supply",
			a:    &Alert{Tier: TierP1, Category: CategorySupply, Severity: SeverityHigh},
			want: []string{"Immediate investigation required", "Contact supplier for status update"},
		},
		{
			name:    "routine demand",
			a:       &Alert{Tier: TierP4, Category: CategoryDemand, Severity: SeverityLow},
			want:    []string{"Adjust inventory orders"},
			notWant: []string{"Immediate investigation required"},
		},
		{
			name: "critical stock",
			a:    &Alert{Tier: TierP3, Category: CategoryQuality, Severity: SeverityMedium},
			c:    &Context{Product: &ProductContext{StockHealth: StockCritical}},
			want: []string{"Review recent quality inspection reports", "Expedite reorder or switch to backup supplier"},
		},
		{
			name: "critical severity below P1",
			a:    &Alert{Tier: TierP2, Category: CategoryDefect, Severity: SeverityCritical},
			want: []string{"Notify relevant stakeholders", "Quarantine affected units pending inspection"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Recommend(tt.a, tt.c)
			for _, w := range tt.want {
				if !slices.Contains(got, w) {
					t.Errorf("missing %q in %v", w, got)
				}
			}
			for _, w := range tt.notWant {
				if slices.Contains(got, w) {
					t.Errorf("unexpected %q in %v", w, got)
				}
			}
		})
	}
}

func TestEnricher_SupplierOnlyForSupplyCategories(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{
		products: map[int64]*ProductSnapshot{1: {ProductID: 1, Supplier: "Acme", CurrentStock: 20, ReorderPoint: 10}},
		risks:    map[string]string{"Acme": "medium"},
	}
	en := NewEnricher(cat, nil, time.Hour, time.Second, nil, EngineHooks{})

	c := en.Gather(context.Background(), &Alert{ProductID: 1, Category: CategoryDemand}, testNow)
	if c.SupplierRisk != "" || c.Product == nil || c.Product.StockHealth != StockHealthy {
		t.Errorf("demand context = %+v", c)
	}
	c = en.Gather(context.Background(), &Alert{ProductID: 1, Category: CategorySupplier}, testNow)
	if c.SupplierRisk != "medium" {
		t.Errorf("supplier risk = %q, want medium", c.SupplierRisk)
	}
}
