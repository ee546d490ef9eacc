package monitor

import (
	"sync"
	"time"

	"github.com/bastion-ai/bastion/internal/scanner"
	"github.com/google/uuid"
)

// SecurityAlert is one behavioral or policy finding surfaced to the
// dashboard and, optionally, a webhook.
type SecurityAlert struct {
	ID          string           `json:"id"`
	Severity    scanner.Severity `json:"severity"`
	Message     string           `json:"message"`
	Details     map[string]any   `json:"details,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	PrincipalID string           `json:"principal_id,omitempty"`
	ToolName    string           `json:"tool_name,omitempty"`
}

// NewAlert builds an alert with a fresh ID and timestamp.
func NewAlert(severity scanner.Severity, message, principalID, toolName string, details map[string]any) SecurityAlert {
	return SecurityAlert{
		ID:          uuid.New().String(),
		Severity:    severity,
		Message:     message,
		Details:     details,
		Timestamp:   time.Now().UTC(),
		PrincipalID: principalID,
		ToolName:    toolName,
	}
}

// alertLog is a bounded, concurrency-safe ring of alerts with drop-oldest
// eviction. Reads are non-destructive: concurrent readers each see the last
// K alerts without racing a drain/refill cycle.
type alertLog struct {
	mu      sync.Mutex
	entries []SecurityAlert
	start   int // index of the oldest entry
	count   int
}

func newAlertLog(capacity int) *alertLog {
	if capacity < 1 {
		capacity = 1
	}
	return &alertLog{entries: make([]SecurityAlert, capacity)}
}

// append stores an alert, evicting the oldest when full.
func (l *alertLog) append(a SecurityAlert) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := (l.start + l.count) % len(l.entries)
	l.entries[idx] = a
	if l.count < len(l.entries) {
		l.count++
	} else {
		l.start = (l.start + 1) % len(l.entries)
	}
}

// recent returns up to limit alerts, most recent first.
func (l *alertLog) recent(limit int) []SecurityAlert {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]SecurityAlert, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.start + l.count - 1 - i) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

func (l *alertLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
