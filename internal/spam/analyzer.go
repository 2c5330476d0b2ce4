package spam

import (
	"fmt"
	"sync"
	"unicode"

	"chatwarden/internal/config"
	"chatwarden/internal/frequency"
)

// Analyzer scores message text with independent heuristics and keeps the
// per-sender warning counters. Warning counts never decay for the process
// lifetime.
type Analyzer struct {
	thresholds config.SpamConfig
	tracker    *frequency.Tracker

	mu       sync.Mutex
	warnings map[string]int
}

func NewAnalyzer(thresholds config.SpamConfig, tracker *frequency.Tracker) *Analyzer {
	return &Analyzer{
		thresholds: thresholds,
		tracker:    tracker,
		warnings:   make(map[string]int),
	}
}

// Analyze aggregates every signal in a fixed order. Confidence is never
// clamped, only compared against the configured thresholds.
func (a *Analyzer) Analyze(text, sender string) Analysis {
	analysis := Analysis{Severity: SeverityLow}
	folded := foldText(text)

	if a.tracker != nil && a.tracker.IsFlooding(sender) {
		analysis.add(30, "flood: message rate exceeded")
		analysis.forceSpam()
	}

	families := matchedCategoryFamilies(text)
	for _, name := range families {
		analysis.add(15, "category: "+name)
	}
	switch {
	case len(families) >= 3:
		analysis.forceSpam()
	case len(families) == 2:
		analysis.raiseSeverity(SeverityMedium)
	}

	keywords := matchedKeywords(folded)
	for _, keyword := range keywords {
		analysis.add(20, "keyword: "+keyword)
	}
	if len(keywords) >= 2 {
		analysis.forceSpam()
	}

	urlHits := 0
	for _, raw := range extractURLs(text) {
		host, err := normalizeHost(raw)
		if err != nil {
			continue
		}
		if label, ok := suspiciousHost(host); ok {
			urlHits++
			analysis.add(25, "suspicious url ("+label+"): "+host)
		}
	}
	if urlHits > 0 && analysis.Confidence > a.thresholds.URLForceConfidence {
		analysis.IsSpam = true
		analysis.raiseSeverity(SeverityMedium)
	}

	if ratio, length := uppercaseRatio(text); length > 10 && ratio > 0.7 {
		analysis.add(10, "excessive capitalization")
	}

	if specialRatio(text) > 0.3 {
		analysis.add(15, "excessive special characters")
	}

	abuse := matchedAbuseFamilies(folded)
	for _, name := range abuse {
		analysis.add(30, "abusive language: "+name)
	}
	switch {
	case len(abuse) >= 2:
		analysis.forceSpam()
	case len(abuse) == 1:
		analysis.raiseSeverity(SeverityMedium)
	}

	if hasRepeatedRun(text, 5) {
		analysis.add(10, "repeated character run")
	}

	if count := phoneTokenCount(text); count >= 2 {
		analysis.add(20, fmt.Sprintf("multiple phone numbers (%d)", count))
	}

	if analysis.Confidence > a.thresholds.SpamConfidence {
		analysis.IsSpam = true
		analysis.raiseSeverity(SeverityHigh)
	} else if analysis.Confidence > a.thresholds.SuspiciousConfidence {
		analysis.IsSuspicious = true
		analysis.raiseSeverity(SeverityMedium)
	}

	return analysis
}

// RecordWarning increments the sender's warning counter and returns the
// new count.
func (a *Analyzer) RecordWarning(sender string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warnings[sender]++
	return a.warnings[sender]
}

// RestoreWarnings seeds the counters from persisted state at startup.
// Existing counts are kept when higher.
func (a *Analyzer) RestoreWarnings(counts map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for sender, count := range counts {
		if count > a.warnings[sender] {
			a.warnings[sender] = count
		}
	}
}

// WarningCount returns the sender's current warning count.
func (a *Analyzer) WarningCount(sender string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.warnings[sender]
}

// ShouldAutoBlock reports whether the sender should be blocked for this
// classification. Evaluated against the counter as it stands before the
// current message's warning is recorded: block on the third strike.
func (a *Analyzer) ShouldAutoBlock(analysis Analysis, sender string) bool {
	if !analysis.IsSpam || analysis.Severity != SeverityHigh {
		return false
	}
	return a.WarningCount(sender) >= 2
}

func uppercaseRatio(text string) (float64, int) {
	upper := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(upper) / float64(total), total
}

func specialRatio(text string) float64 {
	special := 0
	total := 0
	for _, r := range text {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(special) / float64(total)
}
