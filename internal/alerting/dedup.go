package alerting

import (
	"context"
	"time"
)

// Decision is the Deduplicator's verdict for a candidate.
type Decision struct {
	// Merge is the open alert the candidate folds into, nil for a new alert.
	Merge *Alert

	// PriorID back-references the latest earlier alert with the same
	// fingerprint when a new alert is created.
	PriorID string
}

// Deduplicator decides whether a candidate merges into an existing open alert.
type Deduplicator struct {
	repo     Repository
	lookback time.Duration
}

// DefaultLookback is the dedup window when none is configured.
const DefaultLookback = 24 * time.Hour

// NewDeduplicator creates a deduplicator over repo with the given lookback.
func NewDeduplicator(repo Repository, lookback time.Duration) *Deduplicator {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Deduplicator{repo: repo, lookback: lookback}
}

// Resolve looks for an active alert with the fingerprint created within the
// lookback window. Among several, the most recently updated wins, ties going
// to the lowest id. Resolved and closed alerts never merge; the latest one is
// returned as PriorID instead.
func (d *Deduplicator) Resolve(ctx context.Context, fingerprint string, now time.Time) (Decision, error) {
	since := now.Add(-d.lookback)
	matches, err := d.repo.FindOpenByFingerprint(ctx, fingerprint, since)
	if err != nil {
		return Decision{}, storageErr("find open by fingerprint", err)
	}

	if best := pickMergeTarget(matches, since); best != nil {
		return Decision{Merge: best}, nil
	}

	prior, ok, err := d.repo.LatestByFingerprint(ctx, fingerprint)
	if err != nil {
		return Decision{}, storageErr("latest by fingerprint", err)
	}
	if ok {
		return Decision{PriorID: prior.ID}, nil
	}
	return Decision{}, nil
}

func pickMergeTarget(matches []*Alert, since time.Time) *Alert {
	var best *Alert
	for _, m := range matches {
		if !m.Status.Active() || m.CreatedAt.Before(since) {
			continue
		}
		if best == nil ||
			m.UpdatedAt.After(best.UpdatedAt) ||
			(m.UpdatedAt.Equal(best.UpdatedAt) && m.ID < best.ID) {
			best = m
		}
	}
	return best
}
