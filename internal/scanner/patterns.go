package scanner

import (
	"regexp"
	"strings"
	"unicode"
)

// Ordered injection rules — compiled once at startup, never during a request.
// First match wins, so more specific override patterns sit above the broader
// role-play ones. Go's regexp engine is linear-time, which matters here:
// every string this package sees is attacker-controlled by design.
var injectionRules = []struct {
	re  *regexp.Regexp
	typ ThreatType
}{
	// Instruction override
	{regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|rules|guidelines|context|prompts)`), ThreatInstructionOverride},
	{regexp.MustCompile(`(?i)new\s+instructions?\s*:`), ThreatInstructionOverride},
	{regexp.MustCompile(`(?i)override\s+(the\s+)?(system|safety|security)\s+(prompt|instructions|rules|policy)`), ThreatInstructionOverride},
	{regexp.MustCompile(`(?i)do\s+not\s+follow\s+(your|the|any)\s+(rules|guidelines|instructions)`), ThreatInstructionOverride},

	// Role manipulation
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s+`), ThreatRoleManipulation},
	{regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`), ThreatRoleManipulation},
	{regexp.MustCompile(`(?i)your\s+new\s+(role|identity|persona|instructions)\s+(is|are)`), ThreatRoleManipulation},
	{regexp.MustCompile(`(?i)(act|behave)\s+as\s+(if\s+you\s+(are|were)|an?\s+unrestricted)`), ThreatRoleManipulation},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)\s+`), ThreatRoleManipulation},

	// Prompt leakage
	{regexp.MustCompile(`(?i)(reveal|show|print|output|repeat)\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`), ThreatPromptLeakage},
	{regexp.MustCompile(`(?i)what\s+(are|is|were)\s+your\s+(system|initial|original|hidden)\s+(prompt|instructions|rules)`), ThreatPromptLeakage},

	// Data exfiltration
	{regexp.MustCompile(`(?i)(send|post|upload|forward|transmit)\s+(all\s+|the\s+|this\s+)?(conversation|chat|history|data|credentials|secrets?|api\s+keys?)\s+to\s+`), ThreatDataExfiltration},
	{regexp.MustCompile(`(?i)exfiltrat(e|ion)`), ThreatDataExfiltration},
	{regexp.MustCompile(`(?i)(include|embed|append)\s+.{0,40}(conversation|secrets?|credentials)\s+in\s+(your|the)\s+(response|url|link)`), ThreatDataExfiltration},

	// Command injection
	{regexp.MustCompile(`(?i)rm\s+-rf?\s+[/~]`), ThreatCommandInjection},
	{regexp.MustCompile(`[;&|]\s*(cat|curl|wget|nc|bash|sh|python|perl|chmod|chown)\b`), ThreatCommandInjection},
	{regexp.MustCompile("`[^`]+`"), ThreatCommandInjection},
	{regexp.MustCompile(`\$\([^)]+\)`), ThreatCommandInjection},
	{regexp.MustCompile(`(?i)\b(eval|exec|system|popen)\s*\(`), ThreatCommandInjection},

	// Context manipulation via fake delimiters
	{regexp.MustCompile(`(?i)\[(SYSTEM|ADMIN|ROOT)\]`), ThreatContextManipulation},
	{regexp.MustCompile(`(?i)<\|im_start\|>\s*system`), ThreatContextManipulation},
	{regexp.MustCompile(`(?i)###\s*(system|instruction|new instruction)`), ThreatContextManipulation},
	{regexp.MustCompile(`(?i)</?(system|assistant)_?(prompt|message)?>`), ThreatContextManipulation},
	{regexp.MustCompile(`(?i)BEGININSTRUCTION`), ThreatContextManipulation},

	// Hidden / zero-width characters and direction overrides
	{regexp.MustCompile("[\u200b\u200c\u200d\u2060\ufeff]"), ThreatHiddenCharacters},
	{regexp.MustCompile("[\u202a-\u202e\u2066-\u2069]"), ThreatHiddenCharacters},

	// Suspicious URLs
	{regexp.MustCompile(`(?i)javascript\s*:`), ThreatSuspiciousURL},
	{regexp.MustCompile(`(?i)data:text/html`), ThreatSuspiciousURL},
	{regexp.MustCompile(`(?i)https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`), ThreatSuspiciousURL},
	{regexp.MustCompile(`(?i)https?://(bit\.ly|tinyurl\.com|goo\.gl|t\.co|is\.gd)/`), ThreatSuspiciousURL},
}

// Markers used to hide injected instructions from human reviewers while
// keeping them visible to a model that reads raw HTML.
var hiddenStyleMarkers = []string{
	"display:none",
	"display: none",
	"visibility:hidden",
	"visibility: hidden",
	"font-size:0",
	"font-size: 0",
	"opacity:0",
	"opacity: 0",
	"aria-hidden=\"true\"",
}

// ContainsInjection classifies text against the ordered rule set, falling
// back to structural heuristics when no rule matches. It returns whether a
// threat was found, its type, and the matched pattern (or heuristic label).
//
// Safe on any input: empty strings, invalid UTF-8, multi-megabyte payloads.
func ContainsInjection(text string) (bool, ThreatType, string) {
	if text == "" {
		return false, "", ""
	}

	for _, rule := range injectionRules {
		if rule.re.MatchString(text) {
			return true, rule.typ, rule.re.String()
		}
	}

	return structuralHeuristics(text)
}

// structuralHeuristics flags text whose shape — rather than any specific
// phrase — suggests an obfuscated injection attempt.
func structuralHeuristics(text string) (bool, ThreatType, string) {
	lower := strings.ToLower(text)

	if strings.Count(lower, "ignore") > 2 {
		return true, ThreatSuspiciousStructure, "heuristic:ignore-repetition"
	}

	runes := []rune(text)
	if len(runes) > 20 {
		upper := 0
		for _, r := range runes {
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if float64(upper)/float64(len(runes)) > 0.5 {
			return true, ThreatSuspiciousStructure, "heuristic:uppercase-ratio"
		}
	}

	for _, marker := range hiddenStyleMarkers {
		if strings.Contains(lower, marker) {
			return true, ThreatSuspiciousStructure, "heuristic:hidden-styling"
		}
	}

	if len(runes) > 50 {
		special := 0
		for _, r := range runes {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
				special++
			}
		}
		if float64(special)/float64(len(runes)) > 0.3 {
			return true, ThreatSuspiciousStructure, "heuristic:special-char-ratio"
		}
	}

	return false, "", ""
}
