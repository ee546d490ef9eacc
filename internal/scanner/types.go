package scanner

import (
	"fmt"
	"time"
)

// Severity ranks how dangerous a detected threat is.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

// MarshalJSON encodes the severity as its lowercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a lowercase severity name.
func (s *Severity) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"low"`:
		*s = SeverityLow
	case `"medium"`:
		*s = SeverityMedium
	case `"high"`:
		*s = SeverityHigh
	case `"critical"`:
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %s", b)
	}
	return nil
}

// ThreatType classifies the kind of unsafe content a rule detects.
type ThreatType string

const (
	ThreatInstructionOverride   ThreatType = "INSTRUCTION_OVERRIDE"
	ThreatRoleManipulation      ThreatType = "ROLE_MANIPULATION"
	ThreatPromptLeakage         ThreatType = "PROMPT_LEAKAGE"
	ThreatDataExfiltration      ThreatType = "DATA_EXFILTRATION"
	ThreatCommandInjection      ThreatType = "COMMAND_INJECTION"
	ThreatContextManipulation   ThreatType = "CONTEXT_MANIPULATION"
	ThreatHiddenCharacters      ThreatType = "HIDDEN_CHARACTERS"
	ThreatSuspiciousURL         ThreatType = "SUSPICIOUS_URL"
	ThreatSuspiciousStructure   ThreatType = "SUSPICIOUS_STRUCTURE"
	ThreatToolDescriptionPoison ThreatType = "TOOL_DESCRIPTION_POISON"
	ThreatParameterPoison       ThreatType = "PARAMETER_POISON"
	ThreatExamplePoison         ThreatType = "EXAMPLE_POISON"
	ThreatMLDetectedPoison      ThreatType = "ML_DETECTED_POISON"
)

// Threat is one detected indicator of unsafe content. Transient — it lives
// only for the duration of a single scan.
type Threat struct {
	Type           ThreatType `json:"type"`
	Severity       Severity   `json:"severity"`
	Location       string     `json:"location,omitempty"`
	Content        string     `json:"content,omitempty"` // first 500 runes of the offending text
	Confidence     float32    `json:"confidence,omitempty"`
	PatternMatched string     `json:"pattern_matched,omitempty"`
}

// ScanResult is the aggregate outcome of scanning one piece of content.
//
// Diagnostics record sub-checks that failed internally (ML classifier
// unreachable, response not stringifiable). A failed sub-check contributes
// no threat and never fails the scan, but the failure stays distinguishable
// from "scanned clean".
type ScanResult struct {
	Threats       []Threat  `json:"threats"`
	Safe          bool      `json:"safe"`
	Sanitized     bool      `json:"sanitized"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
	Diagnostics   []string  `json:"diagnostics,omitempty"`
}

// newScanResult builds a result and maintains Safe == (len(Threats) == 0).
func newScanResult(threats []Threat, diagnostics []string) *ScanResult {
	if threats == nil {
		threats = []Threat{}
	}
	return &ScanResult{
		Threats:       threats,
		Safe:          len(threats) == 0,
		ScanTimestamp: time.Now().UTC(),
		Diagnostics:   diagnostics,
	}
}

// MaxThreatContent is the longest excerpt of offending content retained on a
// Threat (and in event previews).
const MaxThreatContent = 500

// truncateContent returns the first n runes of text without splitting a
// multi-byte UTF-8 character.
func truncateContent(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
