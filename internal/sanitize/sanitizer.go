// Package sanitize transforms tool output according to a configured policy
// once the scanner has flagged it.
package sanitize

import (
	"fmt"
	"strings"

	"github.com/bastion-ai/bastion/internal/scanner"
	"go.uber.org/zap"
)

// Mode is the policy for handling detected threats in outgoing content.
type Mode int

const (
	ModeRemove Mode = iota + 1
	ModeNeutralize
	ModeBlock
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModeRemove:
		return "remove"
	case ModeNeutralize:
		return "neutralize"
	case ModeBlock:
		return "block"
	default:
		return "unspecified"
	}
}

// ParseMode maps a configuration string to a Mode. An unknown mode is a
// configuration error — fatal at startup, never defaulted silently.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "remove":
		return ModeRemove, nil
	case "neutralize":
		return ModeNeutralize, nil
	case "block":
		return ModeBlock, nil
	default:
		return 0, fmt.Errorf("invalid sanitization mode %q (want remove, neutralize, or block)", s)
	}
}

// Fixed literals returned to callers in place of unsafe content. Raw threat
// content never appears in caller-visible output.
const (
	RemovedMessage = "[REMOVED: Potential security threat detected]"
	BlockedMessage = "[BLOCKED: Potential security threat detected. Content not displayed.]"
)

// Sanitizer rewrites content given a scan result. Stateless beyond its mode —
// freely shareable across concurrent invocations.
type Sanitizer struct {
	mode   Mode
	logger *zap.Logger
}

// NewSanitizer creates a Sanitizer with the given mode.
func NewSanitizer(mode Mode, logger *zap.Logger) *Sanitizer {
	return &Sanitizer{mode: mode, logger: logger}
}

// Mode returns the configured sanitization mode.
func (s *Sanitizer) Mode() Mode { return s.mode }

// Sanitize applies the configured policy to content. Threats are processed in
// list order:
//
//   - HIGH/CRITICAL follow the configured mode. Block short-circuits the
//     remaining threats and returns a fixed literal.
//   - MEDIUM is always neutralized, regardless of mode.
//   - LOW is left unmodified.
//
// A safe result returns content unchanged under every mode, which also makes
// re-sanitizing already-sanitized output a no-op. result.Sanitized is set
// whenever the output differs from the input.
//
// All replacement is literal string substitution; matched patterns are never
// re-executed against the content.
func (s *Sanitizer) Sanitize(content string, result *scanner.ScanResult) string {
	if result == nil || result.Safe {
		return content
	}

	out := content
	for _, threat := range result.Threats {
		switch {
		case threat.Severity >= scanner.SeverityHigh:
			switch s.mode {
			case ModeBlock:
				result.Sanitized = true
				return BlockedMessage
			case ModeRemove:
				out = removeThreat(out, threat)
			default:
				out = neutralizeThreat(out, threat)
			}
		case threat.Severity == scanner.SeverityMedium:
			out = neutralizeThreat(out, threat)
		}
	}

	if out != content {
		result.Sanitized = true
	}
	return out
}

// threatTarget picks the literal string to rewrite: the captured content
// excerpt when available, otherwise the matched pattern text taken verbatim.
func threatTarget(t scanner.Threat) string {
	if t.Content != "" {
		return t.Content
	}
	return t.PatternMatched
}

// removeThreat deletes every occurrence of the threat's matched content,
// substituting the fixed removal notice.
func removeThreat(content string, t scanner.Threat) string {
	target := threatTarget(t)
	if target == "" {
		return content
	}
	return strings.ReplaceAll(content, target, RemovedMessage)
}

// neutralizeThreat replaces the first occurrence of the threat's matched
// content with an inline comment naming the threat type.
func neutralizeThreat(content string, t scanner.Threat) string {
	target := threatTarget(t)
	if target == "" {
		return content
	}
	marker := fmt.Sprintf("<!-- Flagged as suspicious: %s -->", t.Type)
	return strings.Replace(content, target, marker, 1)
}
