package alerting

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultPolicy_Valid(t *testing.T) {
	t.Parallel()
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
		check   func(t *testing.T, p Policy)
	}{
		{
			name: "escalation only keeps default tiers",
			yaml: "escalation:\n  max_level: 2\n  grace: [30m, 90m]\n",
			check: func(t *testing.T, p Policy) {
				if p.MaxEscalationLevel != 2 || p.Grace[1] != 90*time.Minute {
					t.Errorf("escalation = %d %v", p.MaxEscalationLevel, p.Grace)
				}
				if p.Tiers[0].Response != 4*time.Hour {
					t.Errorf("P1 response = %v, want default", p.Tiers[0].Response)
				}
			},
		},
		{
			name: "full table",
			yaml: `
tiers:
  - {tier: P1, min_score: 0.9, response: 1h}
  - {tier: P2, min_score: 0.7, response: 8h}
  - {tier: P3, min_score: 0.4, response: 48h}
  - {tier: P4, min_score: 0, response: 240h}
`,
			check: func(t *testing.T, p Policy) {
				m := NewSLAManager(p)
				if got := m.TierFor(0.85); got != TierP2 {
					t.Errorf("TierFor(0.85) = %s, want P2", got)
				}
				if got := m.ResponseFor(TierP4); got != 240*time.Hour {
					t.Errorf("P4 response = %v", got)
				}
			},
		},
		{
			name:    "thresholds out of order",
			yaml:    "tiers:\n  - {tier: P1, min_score: 0.5, response: 1h}\n  - {tier: P2, min_score: 0.7, response: 2h}\n  - {tier: P3, min_score: 0.1, response: 3h}\n  - {tier: P4, min_score: 0, response: 4h}\n",
			wantErr: "min_score must be below",
		},
		{
			name:    "missing tier",
			yaml:    "tiers:\n  - {tier: P1, min_score: 0.5, response: 1h}\n",
			wantErr: "must define 4 tiers",
		},
		{
			name:    "bad duration",
			yaml:    "escalation:\n  grace: [soon]\n",
			wantErr: "grace[0]",
		},
		{
			name:    "too few grace steps",
			yaml:    "escalation:\n  max_level: 5\n",
			wantErr: "need 5",
		},
		{
			name:    "not yaml",
			yaml:    "tiers: [",
			wantErr: "decode policy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := ParsePolicy([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePolicy: %v", err)
			}
			tt.check(t, p)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	t.Parallel()

	p, err := LoadPolicy("")
	if err != nil || p.MaxEscalationLevel != DefaultPolicy().MaxEscalationLevel {
		t.Errorf("LoadPolicy(\"\") = %+v, %v", p, err)
	}

	path := filepath.Join(t.TempDir(), "sla.yaml")
	if err := os.WriteFile(path, []byte("escalation:\n  max_level: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = LoadPolicy(path)
	if err != nil || p.MaxEscalationLevel != 1 {
		t.Errorf("LoadPolicy(file) = %d, %v", p.MaxEscalationLevel, err)
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPolicy_GraceFor(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	for level, want := range map[int]time.Duration{0: time.Hour, 1: time.Hour, 2: 2 * time.Hour, 3: 4 * time.Hour, 9: 4 * time.Hour} {
		if got := p.GraceFor(level); got != want {
			t.Errorf("GraceFor(%d) = %v, want %v", level, got, want)
		}
	}
	if got := (Policy{}).GraceFor(2); got != time.Hour {
		t.Errorf("empty grace = %v, want 1h", got)
	}
}

func TestSLAManager_TierFor(t *testing.T) {
	t.Parallel()
	m := NewSLAManager(DefaultPolicy())

	tests := []struct {
		score float64
		want  Tier
	}{
		{1, TierP1},
		{0.85, TierP1},
		{0.8499, TierP2},
		{0.60, TierP2},
		{0.5999, TierP3},
		{0.35, TierP3},
		{0.3499, TierP4},
		{0, TierP4},
	}
	for _, tt := range tests {
		if got := m.TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSLAManager_Reassess(t *testing.T) {
	t.Parallel()
	m := NewSLAManager(DefaultPolicy())

	a := &Alert{Score: 0.5, CreatedAt: testNow}
	a.Tier, a.SLADeadline = m.Assign(a)
	if a.Tier != TierP3 || !a.SLADeadline.Equal(testNow.Add(72*time.Hour)) {
		t.Fatalf("Assign = %s %v", a.Tier, a.SLADeadline)
	}

	a.Score = 0.1
	if m.Reassess(a, testNow) || a.Tier != TierP3 {
		t.Errorf("lower score downgraded tier to %s", a.Tier)
	}

	a.Score = 0.7
	if !m.Reassess(a, testNow) || a.Tier != TierP2 {
		t.Errorf("higher score did not upgrade, tier %s", a.Tier)
	}
	if !a.SLADeadline.Equal(testNow.Add(24 * time.Hour)) {
		t.Errorf("deadline = %v, want tightened to created+24h", a.SLADeadline)
	}

	// an escalation-extended deadline is never pushed out by a reassessment
	a.SLADeadline = testNow.Add(time.Hour)
	a.Score = 0.9
	m.Reassess(a, testNow)
	if !a.SLADeadline.Equal(testNow.Add(time.Hour)) {
		t.Errorf("deadline loosened to %v", a.SLADeadline)
	}
}

func TestSLAManager_ReassessLateUpgrade(t *testing.T) {
	t.Parallel()
	m := NewSLAManager(DefaultPolicy())

	a := &Alert{Score: 0.5, Status: StatusOpen, CreatedAt: testNow}
	a.Tier, a.SLADeadline = m.Assign(a)

	// created+4h is already gone, so the P1 window starts now
	now := testNow.Add(10 * time.Hour)
	a.Score = 1
	if !m.Reassess(a, now) || a.Tier != TierP1 {
		t.Fatalf("tier = %s, want P1", a.Tier)
	}
	if want := now.Add(4 * time.Hour); !a.SLADeadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", a.SLADeadline, want)
	}
	if IsBreached(a, now) {
		t.Error("alert breached immediately after upgrade")
	}
}

func TestSLAStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    Status
		remaining time.Duration
		want      string
	}{
		{"plenty of time", StatusOpen, 48 * time.Hour, SLAOk},
		{"under twelve hours", StatusInProgress, 11 * time.Hour, SLAWarning},
		{"under two hours", StatusOpen, 90 * time.Minute, SLACritical},
		{"past deadline", StatusOpen, -time.Minute, SLABreached},
		{"resolved past deadline", StatusResolved, -time.Hour, SLAInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &Alert{Status: tt.status, SLADeadline: testNow.Add(tt.remaining)}
			v := SLAStatusOf(a, testNow)
			if v.Status != tt.want {
				t.Errorf("status = %q, want %q", v.Status, tt.want)
			}
			if want := tt.remaining.Hours(); v.TimeRemainingHours-want > 0.01 || want-v.TimeRemainingHours > 0.01 {
				t.Errorf("remaining = %v, want %v", v.TimeRemainingHours, want)
			}
		})
	}
}

func TestTransitionLifecycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to    Status
		wantChanged bool
		wantErr     bool
	}{
		{StatusOpen, StatusInProgress, true, false},
		{StatusOpen, StatusResolved, true, false},
		{StatusOpen, StatusClosed, true, false},
		{StatusInProgress, StatusOpen, true, false},
		{StatusInProgress, StatusInProgress, false, false},
		{StatusResolved, StatusOpen, true, false},
		{StatusResolved, StatusClosed, true, false},
		{StatusResolved, StatusInProgress, false, true},
		{StatusClosed, StatusResolved, false, false},
		{StatusClosed, StatusClosed, false, false},
		{StatusClosed, StatusOpen, false, true},
		{StatusClosed, StatusInProgress, false, true},
		{StatusOpen, Status("archived"), false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			a := &Alert{Status: tt.from}
			changed, err := Transition(a, tt.to, testNow)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if tt.wantErr && a.Status != tt.from {
				t.Errorf("status moved to %q on error", a.Status)
			}
		})
	}
}

func TestTransition_ResolvedAt(t *testing.T) {
	t.Parallel()
	a := &Alert{Status: StatusOpen}

	if _, err := Transition(a, StatusResolved, testNow); err != nil {
		t.Fatal(err)
	}
	if a.ResolvedAt == nil || !a.ResolvedAt.Equal(testNow) {
		t.Fatalf("resolved_at = %v", a.ResolvedAt)
	}
	if _, err := Transition(a, StatusClosed, testNow.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if !a.ResolvedAt.Equal(testNow) {
		t.Errorf("closing moved resolved_at to %v", a.ResolvedAt)
	}
}
