package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testNow} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRepo is a map-backed Repository with hooks for injecting failures.
type fakeRepo struct {
	mu     sync.Mutex
	alerts map[string]*Alert

	// conflicts makes the next N updates (not inserts) fail with ErrConflict.
	conflicts  int
	upsertErr  error
	listErr    error
	historyErr error
	upserts    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{alerts: make(map[string]*Alert)}
}

func (r *fakeRepo) put(a *Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.Version == 0 {
		a.Version = 1
	}
	r.alerts[a.ID] = a.Clone()
}

func (r *fakeRepo) Get(_ context.Context, id string) (*Alert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

func (r *fakeRepo) Upsert(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if r.upsertErr != nil {
		return r.upsertErr
	}
	cur, exists := r.alerts[a.ID]
	if a.Version != 0 && r.conflicts > 0 {
		r.conflicts--
		return ErrConflict
	}
	switch {
	case a.Version == 0 && exists:
		return ErrConflict
	case a.Version != 0 && (!exists || cur.Version != a.Version):
		return ErrConflict
	}
	a.Version++
	r.alerts[a.ID] = a.Clone()
	return nil
}

func (r *fakeRepo) FindOpenByFingerprint(_ context.Context, fp string, since time.Time) ([]*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Alert
	for _, a := range r.alerts {
		if a.Fingerprint == fp && a.Status.Active() && !a.CreatedAt.Before(since) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (r *fakeRepo) LatestByFingerprint(_ context.Context, fp string) (*Alert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Alert
	for _, a := range r.alerts {
		if a.Fingerprint == fp && (latest == nil || a.CreatedAt.After(latest.CreatedAt)) {
			latest = a
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	return latest.Clone(), true, nil
}

func (r *fakeRepo) ListByProduct(_ context.Context, productID int64, since time.Time) ([]*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.historyErr != nil {
		return nil, r.historyErr
	}
	var out []*Alert
	for _, a := range r.alerts {
		if a.ProductID == productID && !a.CreatedAt.Before(since) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (r *fakeRepo) ListActive(_ context.Context) ([]*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*Alert
	for _, a := range r.alerts {
		if a.Status.Active() {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) List(_ context.Context, f Filter) ([]*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*Alert
	for _, a := range r.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// fakeCatalog serves fixed products and supplier risks.
type fakeCatalog struct {
	products   map[int64]*ProductSnapshot
	risks      map[string]string
	productErr error
	delay      time.Duration
}

func (c *fakeCatalog) Product(ctx context.Context, id int64) (*ProductSnapshot, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.productErr != nil {
		return nil, c.productErr
	}
	p, ok := c.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *fakeCatalog) SupplierRisk(_ context.Context, supplier string) (string, error) {
	r, ok := c.risks[supplier]
	if !ok {
		return "", ErrNotFound
	}
	return r, nil
}

// recordingNotifier records requests and fails while err is set.
type recordingNotifier struct {
	mu   sync.Mutex
	reqs []*NotificationRequest
	err  error
	sent chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(chan struct{}, 16)}
}

func (n *recordingNotifier) Notify(_ context.Context, req *NotificationRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.reqs = append(n.reqs, req)
	select {
	case n.sent <- struct{}{}:
	default:
	}
	return nil
}

func (n *recordingNotifier) setErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *recordingNotifier) requests() []*NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*NotificationRequest(nil), n.reqs...)
}

// blockingNotifier holds every Notify until release is closed.
type blockingNotifier struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (n *blockingNotifier) Notify(ctx context.Context, _ *NotificationRequest) error {
	n.entered <- struct{}{}
	select {
	case <-n.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errBoom = errors.New("boom")

func seqIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("alert-%03d", n.Add(1))
	}
}

func candidate(productID int64, cat Category, sev Severity, desc string) *Candidate {
	return &Candidate{
		ProductID:   productID,
		Category:    cat,
		Severity:    sev,
		Confidence:  0.5,
		Likelihood:  0.5,
		Impact:      0.5,
		Description: desc,
	}
}
