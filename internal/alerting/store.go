package alerting

import (
	"context"
	"time"
)

// Repository is the persistence interface for alerts. Upsert is a
// compare-and-swap on Alert.Version: Version 0 inserts, any other value
// updates only if the stored version matches, returning ErrConflict
// otherwise. On success the stored version is written back to the alert.
type Repository interface {
	Get(ctx context.Context, id string) (*Alert, bool, error)
	Upsert(ctx context.Context, a *Alert) error

	// FindOpenByFingerprint returns open and in_progress alerts with the
	// fingerprint created at or after since.
	FindOpenByFingerprint(ctx context.Context, fingerprint string, since time.Time) ([]*Alert, error)

	// LatestByFingerprint returns the most recently created alert with the
	// fingerprint in any status.
	LatestByFingerprint(ctx context.Context, fingerprint string) (*Alert, bool, error)

	// ListByProduct returns alerts for a product created at or after since.
	ListByProduct(ctx context.Context, productID int64, since time.Time) ([]*Alert, error)

	// ListActive returns all open and in_progress alerts.
	ListActive(ctx context.Context) ([]*Alert, error)

	List(ctx context.Context, f Filter) ([]*Alert, error)
}

// Filter narrows List results. Zero fields do not filter.
type Filter struct {
	Status    Status
	Severity  Severity
	Category  Category
	ProductID int64
	Limit     int
}

// Catalog is the read-only product and supplier view used for enrichment.
type Catalog interface {
	Product(ctx context.Context, productID int64) (*ProductSnapshot, error)
	SupplierRisk(ctx context.Context, supplier string) (string, error)
}

// Notifier delivers notification requests. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, req *NotificationRequest) error
}

// Locker serializes work per key. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
