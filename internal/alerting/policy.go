package alerting

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TierRule maps a minimum score to a tier and its response window.
type TierRule struct {
	Tier     Tier
	MinScore float64
	Response time.Duration
}

// Policy is the table that drives SLA assignment and escalation.
type Policy struct {
	// Tiers is ordered most urgent first; the last rule has MinScore 0.
	Tiers []TierRule

	// MaxEscalationLevel caps how far the monitor raises an alert.
	MaxEscalationLevel int

	// Grace[i] is the deadline extension granted on reaching level i+1.
	Grace []time.Duration
}

// DefaultPolicy returns the built-in SLA table.
func DefaultPolicy() Policy {
	return Policy{
		Tiers: []TierRule{
			{Tier: TierP1, MinScore: 0.85, Response: 4 * time.Hour},
			{Tier: TierP2, MinScore: 0.60, Response: 24 * time.Hour},
			{Tier: TierP3, MinScore: 0.35, Response: 72 * time.Hour},
			{Tier: TierP4, MinScore: 0, Response: 168 * time.Hour},
		},
		MaxEscalationLevel: 3,
		Grace:              []time.Duration{time.Hour, 2 * time.Hour, 4 * time.Hour},
	}
}

// GraceFor returns the deadline extension granted at level (1-based).
func (p Policy) GraceFor(level int) time.Duration {
	if len(p.Grace) == 0 {
		return time.Hour
	}
	i := level - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Grace) {
		i = len(p.Grace) - 1
	}
	return p.Grace[i]
}

// Validate checks the table is complete and monotonic.
func (p Policy) Validate() error {
	var errs []error
	if len(p.Tiers) != 4 {
		errs = append(errs, fmt.Errorf("policy must define 4 tiers, got %d", len(p.Tiers)))
	} else {
		for i, r := range p.Tiers {
			if r.Tier != Tier(i+1) {
				errs = append(errs, fmt.Errorf("tier %d must be %s, got %q", i, Tier(i+1), r.Tier))
			}
			if r.Response <= 0 {
				errs = append(errs, fmt.Errorf("tier %s response must be positive", r.Tier))
			}
			if r.MinScore < 0 || r.MinScore > 1 {
				errs = append(errs, fmt.Errorf("tier %s min_score %v out of [0,1]", r.Tier, r.MinScore))
			}
			if i > 0 && r.MinScore >= p.Tiers[i-1].MinScore {
				errs = append(errs, fmt.Errorf("tier %s min_score must be below %s", r.Tier, p.Tiers[i-1].Tier))
			}
		}
		if p.Tiers[3].MinScore != 0 {
			errs = append(errs, errors.New("tier P4 min_score must be 0"))
		}
	}
	if p.MaxEscalationLevel < 1 {
		errs = append(errs, fmt.Errorf("max escalation level %d must be >= 1", p.MaxEscalationLevel))
	}
	if len(p.Grace) < p.MaxEscalationLevel {
		errs = append(errs, fmt.Errorf("grace list has %d entries, need %d", len(p.Grace), p.MaxEscalationLevel))
	}
	for i, g := range p.Grace {
		if g <= 0 {
			errs = append(errs, fmt.Errorf("grace[%d] must be positive", i))
		}
	}
	return errors.Join(errs...)
}

type policyFile struct {
	Tiers []struct {
		Tier     string  `yaml:"tier"`
		MinScore float64 `yaml:"min_score"`
		Response string  `yaml:"response"`
	} `yaml:"tiers"`
	Escalation struct {
		MaxLevel int      `yaml:"max_level"`
		Grace    []string `yaml:"grace"`
	} `yaml:"escalation"`
}

// ParsePolicy decodes a YAML policy. Sections left out keep their defaults.
func ParsePolicy(data []byte) (Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}

	p := DefaultPolicy()
	if len(f.Tiers) > 0 {
		p.Tiers = make([]TierRule, 0, len(f.Tiers))
		for _, t := range f.Tiers {
			d, err := time.ParseDuration(t.Response)
			if err != nil {
				return Policy{}, fmt.Errorf("tier %s response: %w", t.Tier, err)
			}
			p.Tiers = append(p.Tiers, TierRule{Tier: ParseTier(t.Tier), MinScore: t.MinScore, Response: d})
		}
	}
	if f.Escalation.MaxLevel != 0 {
		p.MaxEscalationLevel = f.Escalation.MaxLevel
	}
	if len(f.Escalation.Grace) > 0 {
		p.Grace = make([]time.Duration, 0, len(f.Escalation.Grace))
		for i, g := range f.Escalation.Grace {
			d, err := time.ParseDuration(g)
			if err != nil {
				return Policy{}, fmt.Errorf("grace[%d]: %w", i, err)
			}
			p.Grace = append(p.Grace, d)
		}
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicy reads a YAML policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}
