package alerting

import (
	"math"
	"time"
)

// SLAManager assigns priority tiers and response deadlines from a Policy.
type SLAManager struct {
	policy Policy
}

// NewSLAManager creates an SLA manager for the given policy.
func NewSLAManager(p Policy) *SLAManager {
	return &SLAManager{policy: p}
}

// Policy returns the table in use.
func (m *SLAManager) Policy() Policy { return m.policy }

// TierFor maps a score to the first tier whose threshold it meets.
func (m *SLAManager) TierFor(score float64) Tier {
	for _, r := range m.policy.Tiers {
		if score >= r.MinScore {
			return r.Tier
		}
	}
	return TierP4
}

// ResponseFor returns the response window for a tier.
func (m *SLAManager) ResponseFor(t Tier) time.Duration {
	for _, r := range m.policy.Tiers {
		if r.Tier == t {
			return r.Response
		}
	}
	return m.policy.Tiers[len(m.policy.Tiers)-1].Response
}

// Assign computes the tier and deadline for a freshly created alert.
func (m *SLAManager) Assign(a *Alert) (Tier, time.Time) {
	t := m.TierFor(a.Score)
	return t, a.CreatedAt.Add(m.ResponseFor(t))
}

// Reassess re-evaluates the tier after a merge at now. The tier only ever
// moves toward more urgent and the deadline only ever tightens. The new
// tier's window counts from creation, or from now when that window has
// already run out, so an upgrade never lands the alert in breach. It reports
// whether anything changed.
func (m *SLAManager) Reassess(a *Alert, now time.Time) bool {
	t := m.TierFor(a.Score)
	if !t.MoreUrgent(a.Tier) {
		return false
	}
	a.Tier = t
	resp := m.ResponseFor(t)
	d := a.CreatedAt.Add(resp)
	if d.Before(now) {
		d = now.Add(resp)
	}
	if d.Before(a.SLADeadline) {
		a.SLADeadline = d
	}
	return true
}

// Restart gives a reopened alert a fresh response window from now.
func (m *SLAManager) Restart(a *Alert, now time.Time) {
	d := now.Add(m.ResponseFor(a.Tier))
	if d.Before(a.CreatedAt) {
		d = a.CreatedAt
	}
	a.SLADeadline = d
}

// IsBreached reports whether an active alert is past its deadline.
func IsBreached(a *Alert, now time.Time) bool {
	return a.Status.Active() && now.After(a.SLADeadline)
}

// SLA status labels.
const (
	SLAOk       = "ok"
	SLAWarning  = "warning"
	SLACritical = "critical"
	SLABreached = "breached"
	SLAInactive = "inactive"
)

// SLAView is the read-side picture of how an alert stands against its deadline.
type SLAView struct {
	Status             string    `json:"status"`
	Deadline           time.Time `json:"deadline"`
	TimeRemainingHours float64   `json:"time_remaining_hours"`
}

// SLAStatusOf classifies remaining time: breached (<0), critical (<2h),
// warning (<12h), otherwise ok.
func SLAStatusOf(a *Alert, now time.Time) SLAView {
	remaining := a.SLADeadline.Sub(now)
	v := SLAView{
		Deadline:           a.SLADeadline,
		TimeRemainingHours: math.Round(remaining.Hours()*100) / 100,
	}
	switch {
	case !a.Status.Active():
		v.Status = SLAInactive
	case IsBreached(a, now):
		v.Status = SLABreached
	case remaining < 2*time.Hour:
		v.Status = SLACritical
	case remaining < 12*time.Hour:
		v.Status = SLAWarning
	default:
		v.Status = SLAOk
	}
	return v
}
