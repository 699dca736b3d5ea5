// Package memstore provides an in-memory implementation of alerting.Repository
// and alerting.Catalog.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mikeedozie/PAMS/internal/alerting"
)

// Store holds alerts and catalog data in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	alerts    map[string]*alerting.Alert          // alert ID -> alert
	byFP      map[string][]string                 // fingerprint -> alert IDs
	products  map[int64]*alerting.ProductSnapshot // product ID -> snapshot
	suppliers map[string]string                   // supplier -> risk tier
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts:    make(map[string]*alerting.Alert),
		byFP:      make(map[string][]string),
		products:  make(map[int64]*alerting.ProductSnapshot),
		suppliers: make(map[string]string),
	}
}

// Get retrieves an alert by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*alerting.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

// Upsert stores a copy of the alert, guarded by its version.
func (s *Store) Upsert(_ context.Context, a *alerting.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.alerts[a.ID]
	switch {
	case a.Version == 0 && exists:
		return alerting.ErrConflict
	case a.Version != 0 && (!exists || cur.Version != a.Version):
		return alerting.ErrConflict
	}

	a.Version++
	s.alerts[a.ID] = a.Clone()
	if !exists {
		s.byFP[a.Fingerprint] = append(s.byFP[a.Fingerprint], a.ID)
	}
	return nil
}

// FindOpenByFingerprint returns copies of active alerts with the fingerprint
// created at or after since.
func (s *Store) FindOpenByFingerprint(_ context.Context, fp string, since time.Time) ([]*alerting.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alerting.Alert
	for _, id := range s.byFP[fp] {
		a := s.alerts[id]
		if a.Status.Active() && !a.CreatedAt.Before(since) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// LatestByFingerprint returns the most recently created alert with the fingerprint.
func (s *Store) LatestByFingerprint(_ context.Context, fp string) (*alerting.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *alerting.Alert
	for _, id := range s.byFP[fp] {
		a := s.alerts[id]
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	return latest.Clone(), true, nil
}

// ListByProduct returns copies of a product's alerts created at or after since.
func (s *Store) ListByProduct(_ context.Context, productID int64, since time.Time) ([]*alerting.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alerting.Alert
	for _, a := range s.alerts {
		if a.ProductID == productID && !a.CreatedAt.Before(since) {
			out = append(out, a.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// ListActive returns copies of all open and in_progress alerts, oldest deadline first.
func (s *Store) ListActive(_ context.Context) ([]*alerting.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alerting.Alert
	for _, a := range s.alerts {
		if a.Status.Active() {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SLADeadline.Equal(out[j].SLADeadline) {
			return out[i].ID < out[j].ID
		}
		return out[i].SLADeadline.Before(out[j].SLADeadline)
	})
	return out, nil
}

// List returns copies of alerts matching f, highest score first.
func (s *Store) List(_ context.Context, f alerting.Filter) ([]*alerting.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alerting.Alert
	for _, a := range s.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Severity != alerting.SeverityUnknown && a.Severity != f.Severity {
			continue
		}
		if f.Category != alerting.CategoryUnknown && a.Category != f.Category {
			continue
		}
		if f.ProductID != 0 && a.ProductID != f.ProductID {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// PutProduct seeds a product snapshot.
func (s *Store) PutProduct(p *alerting.ProductSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ProductID] = &cp
}

// PutSupplierRisk seeds a supplier's risk tier.
func (s *Store) PutSupplierRisk(supplier, risk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppliers[supplier] = risk
}

// Product returns a copy of the product snapshot.
func (s *Store) Product(_ context.Context, productID int64) (*alerting.ProductSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, alerting.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// SupplierRisk returns the supplier's risk tier.
func (s *Store) SupplierRisk(_ context.Context, supplier string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.suppliers[supplier]
	if !ok {
		return "", alerting.ErrNotFound
	}
	return r, nil
}

func sortNewestFirst(out []*alerting.Alert) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}
