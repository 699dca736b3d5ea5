package alerting

// Composite score weights. Severity dominates, the rest temper false urgency.
const (
	weightSeverity   = 0.35
	weightLikelihood = 0.25
	weightImpact     = 0.25
	weightConfidence = 0.15
)

// SeverityWeight maps a severity to its contribution before weighting.
func SeverityWeight(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.25
	case SeverityUnknown:
		return 0
	}
	return 0
}

// Score computes the composite priority of a candidate in [0,1].
func Score(c *Candidate) float64 {
	s := weightSeverity*SeverityWeight(c.Severity) +
		weightLikelihood*c.Likelihood +
		weightImpact*c.Impact +
		weightConfidence*c.Confidence
	return clamp01(s)
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
