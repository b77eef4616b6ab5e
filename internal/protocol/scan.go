package protocol

import "strings"

// Finding severity levels.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Scanner flags suspected prompt-injection content. Detection is heuristic
// and advisory: a scanner never fails a validation, it only reports.
type Scanner interface {
	Scan(content string) ScanReport
}

// ScanReport is the advisory result of an injection scan.
type ScanReport struct {
	Flagged  bool      `json:"flagged"`
	Findings []Finding `json:"findings,omitempty"`
}

// Finding is one matched injection indicator. Index is the byte offset of
// the match in the original content.
type Finding struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Index    int    `json:"index"`
}

type scanPattern struct {
	phrase   string
	severity string
}

// Built-in indicators: instruction override, role re-declaration, and
// protocol discriminators smuggled inside free text.
var defaultScanPatterns = []scanPattern{
	{"ignore previous instructions", SeverityHigh},
	{"ignore all previous instructions", SeverityHigh},
	{"disregard previous instructions", SeverityHigh},
	{"disregard all previous instructions", SeverityHigh},
	{"new instructions:", SeverityMedium},
	{"you are now", SeverityMedium},
	{"i am the system", SeverityMedium},
	{"system prompt:", SeverityLow},
	{`"tool_call":`, SeverityHigh},
	{`"message":`, SeverityMedium},
}

// HeuristicScanner matches a fixed phrase list case-insensitively. It makes
// no soundness claim against adversarial content; it exists to surface the
// obvious attempts cheaply.
type HeuristicScanner struct {
	patterns []scanPattern
}

// NewHeuristicScanner returns a scanner with the built-in phrase list plus
// any extra phrases, which are matched at medium severity.
func NewHeuristicScanner(extra ...string) *HeuristicScanner {
	patterns := make([]scanPattern, 0, len(defaultScanPatterns)+len(extra))
	patterns = append(patterns, defaultScanPatterns...)
	for _, phrase := range extra {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		patterns = append(patterns, scanPattern{phrase: phrase, severity: SeverityMedium})
	}
	return &HeuristicScanner{patterns: patterns}
}

func (s *HeuristicScanner) Scan(content string) ScanReport {
	lowered := strings.ToLower(content)
	var report ScanReport
	for _, p := range s.patterns {
		idx := strings.Index(lowered, p.phrase)
		if idx < 0 {
			continue
		}
		report.Flagged = true
		report.Findings = append(report.Findings, Finding{
			Pattern:  p.phrase,
			Severity: p.severity,
			Index:    idx,
		})
	}
	return report
}
