package spam

// Severity grades a classification and drives the response strength.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Analysis is the immutable result of scoring one message. Confidence is
// an unclamped accumulator, only ever compared against thresholds.
type Analysis struct {
	IsSpam       bool
	IsSuspicious bool
	Confidence   int
	Severity     Severity
	Reasons      []string
}

func (a *Analysis) add(points int, reason string) {
	a.Confidence += points
	a.Reasons = append(a.Reasons, reason)
}

func (a *Analysis) raiseSeverity(min Severity) {
	if a.Severity < min {
		a.Severity = min
	}
}

func (a *Analysis) forceSpam() {
	a.IsSpam = true
	a.raiseSeverity(SeverityHigh)
}
