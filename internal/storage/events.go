package storage

import "time"

// EventWriter is the interface for writing security events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *SecurityEvent)
	Close()
}

// SecurityEvent records one gateway decision: an argument scan, a response
// scan, a schema scan, or an ad-hoc scan from the query API.
type SecurityEvent struct {
	RequestID        string
	PrincipalID      string
	Timestamp        time.Time
	Stage            string // "arg_scan", "response_scan", "schema_scan", "ad_hoc"
	ToolName         string
	Decision         string // "allow", "block", "sanitize", "alert"
	ThreatTypes      []string
	ThreatSeverities []string
	PayloadPreview   string // first 500 chars
	PayloadHash      string // SHA256 of full payload
	PayloadSize      uint32
	Diagnostics      []string
	LatencyMs        float32
}

// PayloadPreviewLength is the max chars stored in payload_preview.
const PayloadPreviewLength = 500

// TruncatePayload returns the first N characters (runes) of a payload for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncatePayload(payload string, maxLen int) string {
	runes := []rune(payload)
	if len(runes) <= maxLen {
		return payload
	}
	return string(runes[:maxLen])
}
