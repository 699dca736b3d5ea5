package alerting

import (
	"math"
	"strings"
	"time"
)

// Severity is the ordered severity of a signal or alert. The zero value is
// not a valid severity and is rejected at ingestion.
type Severity uint8

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	case SeverityUnknown:
		return ""
	}
	return ""
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// ParseSeverity maps a raw label to a Severity. Unknown labels map to
// SeverityUnknown.
func ParseSeverity(label string) Severity {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	}
	return SeverityUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Unknown labels decode to
// SeverityUnknown so validation can name the field.
func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}

// Category classifies what kind of risk a signal describes.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryQuality
	CategorySupply
	CategoryDemand
	CategoryExpiration
	CategoryDefect
	CategorySupplier
)

func (c Category) String() string {
	switch c {
	case CategoryQuality:
		return "quality"
	case CategorySupply:
		return "supply"
	case CategoryDemand:
		return "demand"
	case CategoryExpiration:
		return "expiration"
	case CategoryDefect:
		return "defect"
	case CategorySupplier:
		return "supplier"
	case CategoryUnknown:
		return ""
	}
	return ""
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c >= CategoryQuality && c <= CategorySupplier
}

// SupplyRelated reports whether supplier risk is relevant for c.
func (c Category) SupplyRelated() bool {
	switch c {
	case CategorySupply, CategorySupplier:
		return true
	case CategoryUnknown, CategoryQuality, CategoryDemand, CategoryExpiration, CategoryDefect:
		return false
	}
	return false
}

// ParseCategory maps a raw label to a Category.
func ParseCategory(label string) Category {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "quality":
		return CategoryQuality
	case "supply":
		return CategorySupply
	case "demand":
		return CategoryDemand
	case "expiration":
		return CategoryExpiration
	case "defect":
		return CategoryDefect
	case "supplier":
		return CategorySupplier
	}
	return CategoryUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	*c = ParseCategory(string(b))
	return nil
}

// Tier is the SLA priority class. P1 is the most urgent.
type Tier uint8

const (
	TierUnknown Tier = iota
	TierP1
	TierP2
	TierP3
	TierP4
)

func (t Tier) String() string {
	switch t {
	case TierP1:
		return "P1"
	case TierP2:
		return "P2"
	case TierP3:
		return "P3"
	case TierP4:
		return "P4"
	case TierUnknown:
		return ""
	}
	return ""
}

// MoreUrgent reports whether t is strictly more urgent than other.
func (t Tier) MoreUrgent(other Tier) bool {
	if other == TierUnknown {
		return t != TierUnknown
	}
	return t != TierUnknown && t < other
}

// ParseTier maps "P1".."P4" (case-insensitive) to a Tier.
func ParseTier(s string) Tier {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P1":
		return TierP1
	case "P2":
		return TierP2
	case "P3":
		return TierP3
	case "P4":
		return TierP4
	}
	return TierUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	*t = ParseTier(string(b))
	return nil
}

// Status tracks where an alert is in its lifecycle.
type Status string

const (
	// StatusOpen means created and not yet picked up
	StatusOpen Status = "open"

	// StatusInProgress means an operator is working on it
	StatusInProgress Status = "in_progress"

	// StatusResolved means the underlying issue is fixed
	StatusResolved Status = "resolved"

	// StatusClosed is terminal, kept for audit
	StatusClosed Status = "closed"
)

// Active reports whether alerts in this status still count against SLA.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusInProgress
}

// Candidate is an unpersisted raw signal from an ML producer or operator.
type Candidate struct {
	ProductID   int64     `json:"product_id"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Confidence  float64   `json:"confidence"`
	Likelihood  float64   `json:"likelihood"`
	Impact      float64   `json:"impact"`
	Description string    `json:"description"`
	Source      string    `json:"source,omitempty"`
	ObservedAt  time.Time `json:"observed_at,omitempty"`
}

// Validate rejects candidates that must never reach fingerprinting.
func (c *Candidate) Validate() error {
	if c.ProductID <= 0 {
		return &ValidationError{Field: "product_id", Reason: "is required"}
	}
	if !c.Category.Valid() {
		return &ValidationError{Field: "category", Reason: "must be one of quality, supply, demand, expiration, defect, supplier"}
	}
	if !c.Severity.Valid() {
		return &ValidationError{Field: "severity", Reason: "must be one of critical, high, medium, low"}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"confidence", c.Confidence},
		{"likelihood", c.Likelihood},
		{"impact", c.Impact},
	} {
		if !unitInterval(f.v) {
			return &ValidationError{Field: f.name, Reason: "must be within [0,1]"}
		}
	}
	return nil
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Alert is the durable decision produced by the engine.
type Alert struct {
	ID              string     `json:"id"`
	ProductID       int64      `json:"product_id"`
	Category        Category   `json:"category"`
	Fingerprint     string     `json:"fingerprint"`
	Severity        Severity   `json:"severity"`
	Score           float64    `json:"score"`
	Confidence      float64    `json:"confidence"`
	Likelihood      float64    `json:"likelihood"`
	Impact          float64    `json:"impact"`
	Description     string     `json:"description"`
	Source          string     `json:"source,omitempty"`
	Status          Status     `json:"status"`
	Tier            Tier       `json:"priority_tier"`
	SLADeadline     time.Time  `json:"sla_deadline"`
	EscalationLevel int        `json:"escalation_level"`
	NotifiedLevel   int        `json:"notified_level"`
	OccurrenceCount int        `json:"occurrence_count"`
	PriorAlertID    string     `json:"prior_alert_id,omitempty"`
	ResolutionNote  string     `json:"resolution_note,omitempty"`
	Context         *Context   `json:"context,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`

	// Version is the optimistic concurrency token. Zero means not yet stored.
	Version int64 `json:"-"`
}

// Clone returns a deep copy safe to mutate.
func (a *Alert) Clone() *Alert {
	cp := *a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	if a.Context != nil {
		cp.Context = a.Context.clone()
	}
	return &cp
}

// ProductSnapshot is the read-only inventory view used for enrichment.
type ProductSnapshot struct {
	ProductID    int64  `json:"product_id"`
	Name         string `json:"name,omitempty"`
	SKU          string `json:"sku,omitempty"`
	Category     string `json:"category,omitempty"`
	Supplier     string `json:"supplier,omitempty"`
	CurrentStock int    `json:"current_stock"`
	ReorderPoint int    `json:"reorder_point"`
}

// NotificationRequest asks the Notifier to tell someone about an alert.
type NotificationRequest struct {
	AlertID         string    `json:"alert_id"`
	ProductID       int64     `json:"product_id"`
	Category        Category  `json:"category"`
	Severity        Severity  `json:"severity"`
	Tier            Tier      `json:"priority_tier"`
	EscalationLevel int       `json:"escalation_level"`
	RecipientsHint  string    `json:"recipients_hint"`
	Description     string    `json:"description,omitempty"`
	SLADeadline     time.Time `json:"sla_deadline"`
}

// RecipientsHint names the responsibility tier for an escalation level.
func RecipientsHint(level int) string {
	switch {
	case level <= 0:
		return "on-call"
	case level == 1:
		return "manager"
	case level == 2:
		return "director"
	default:
		return "executive"
	}
}

func newNotification(a *Alert) *NotificationRequest {
	return &NotificationRequest{
		AlertID:         a.ID,
		ProductID:       a.ProductID,
		Category:        a.Category,
		Severity:        a.Severity,
		Tier:            a.Tier,
		EscalationLevel: a.EscalationLevel,
		RecipientsHint:  RecipientsHint(a.EscalationLevel),
		Description:     a.Description,
		SLADeadline:     a.SLADeadline,
	}
}
