// Package monitor tracks per-principal tool usage and raises alerts on
// behavioral anomalies: unusual call frequency, oversized responses,
// repeated identical calls, unfamiliar tools.
package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bastion-ai/bastion/internal/scanner"
	"go.uber.org/zap"
)

// ToolUsageRecord captures one tool invocation for a principal. Immutable
// once created.
type ToolUsageRecord struct {
	PrincipalID  string
	ToolName     string
	Timestamp    time.Time
	ParamsHash   string
	ResponseSize int
}

// Config holds the anomaly thresholds and capacities.
type Config struct {
	HistoryCapacity    int           // per-principal usage records kept
	MinHistory         int           // records required before rules fire
	FrequencyWindow    time.Duration // trailing window for frequency and repetition
	FrequencyThreshold int           // calls in window above which to alert
	SizeThreshold      int           // response bytes above which to alert
	RepeatThreshold    int           // identical calls in window above which to alert
	AlertCapacity      int           // bounded alert log size
	WebhookTimeout     time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity:    1000,
		MinHistory:         10,
		FrequencyWindow:    60 * time.Second,
		FrequencyThreshold: 50,
		SizeThreshold:      100_000,
		RepeatThreshold:    10,
		AlertCapacity:      500,
		WebhookTimeout:     5 * time.Second,
	}
}

// principalHistory is a bounded, time-ordered ring of usage records for one
// principal. Oldest records are evicted on overflow. Guarded by its own
// mutex so principals never contend with each other.
type principalHistory struct {
	mu      sync.Mutex
	records []ToolUsageRecord
	start   int
	count   int
}

func newPrincipalHistory(capacity int) *principalHistory {
	return &principalHistory{records: make([]ToolUsageRecord, capacity)}
}

// append stores a record, evicting the oldest when full. Caller holds mu.
func (h *principalHistory) append(r ToolUsageRecord) {
	idx := (h.start + h.count) % len(h.records)
	h.records[idx] = r
	if h.count < len(h.records) {
		h.count++
	} else {
		h.start = (h.start + 1) % len(h.records)
	}
}

// at returns the i-th record, oldest first. Caller holds mu.
func (h *principalHistory) at(i int) ToolUsageRecord {
	return h.records[(h.start+i)%len(h.records)]
}

// BehaviorMonitor maintains bounded per-principal call history, evaluates
// anomaly rules after every tracked call, and holds alerts in a bounded log.
// Explicitly constructed and injected — no package-level singleton.
type BehaviorMonitor struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.RWMutex
	principals map[string]*principalHistory

	alerts  *alertLog
	webhook *webhookSender
}

// NewBehaviorMonitor creates a monitor with the given thresholds.
func NewBehaviorMonitor(cfg Config, logger *zap.Logger) *BehaviorMonitor {
	if cfg.HistoryCapacity < 1 {
		cfg.HistoryCapacity = DefaultConfig().HistoryCapacity
	}
	if cfg.AlertCapacity < 1 {
		cfg.AlertCapacity = DefaultConfig().AlertCapacity
	}
	return &BehaviorMonitor{
		cfg:        cfg,
		logger:     logger,
		principals: make(map[string]*principalHistory),
		alerts:     newAlertLog(cfg.AlertCapacity),
	}
}

// SetAlertWebhook configures best-effort alert delivery to url. Returns an
// error for malformed URLs; delivery itself is fire-and-forget and never
// affects the caller's request path.
func (m *BehaviorMonitor) SetAlertWebhook(url string) error {
	sender, err := newWebhookSender(url, m.cfg.WebhookTimeout, m.logger)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.webhook = sender
	m.mu.Unlock()
	return nil
}

// Track records one successful tool invocation for a principal and evaluates
// the anomaly rules against the updated history. At most one alert is
// produced per call; rule evaluation short-circuits on the first match.
func (m *BehaviorMonitor) Track(principalID, toolName string, params map[string]any, response any) {
	record := ToolUsageRecord{
		PrincipalID:  principalID,
		ToolName:     toolName,
		Timestamp:    time.Now().UTC(),
		ParamsHash:   HashParams(params),
		ResponseSize: responseSize(response),
	}

	h := m.historyFor(principalID)

	h.mu.Lock()
	h.append(record)
	anomaly := m.evaluateLocked(h, record)
	h.mu.Unlock()

	if anomaly == "" {
		return
	}

	m.Emit(NewAlert(scanner.SeverityHigh,
		fmt.Sprintf("behavioral anomaly (%s) for principal %s", anomaly, principalID),
		principalID, toolName,
		map[string]any{
			"rule":          anomaly,
			"tool_name":     toolName,
			"response_size": record.ResponseSize,
			"params_hash":   record.ParamsHash,
		},
	))
}

// Emit appends an alert to the bounded log and forwards it to the webhook
// when one is configured.
func (m *BehaviorMonitor) Emit(alert SecurityAlert) {
	m.alerts.append(alert)

	m.logger.Warn("security alert",
		zap.String("alert_id", alert.ID),
		zap.String("severity", alert.Severity.String()),
		zap.String("principal_id", alert.PrincipalID),
		zap.String("tool_name", alert.ToolName),
		zap.String("message", alert.Message),
	)

	m.mu.RLock()
	sender := m.webhook
	m.mu.RUnlock()
	if sender != nil {
		sender.deliver(alert)
	}
}

// RecentAlerts returns up to limit alerts, most recent first, without
// consuming them.
func (m *BehaviorMonitor) RecentAlerts(limit int) []SecurityAlert {
	return m.alerts.recent(limit)
}

// AlertCount returns the number of alerts currently held in the log.
func (m *BehaviorMonitor) AlertCount() int {
	return m.alerts.len()
}

func (m *BehaviorMonitor) historyFor(principalID string) *principalHistory {
	m.mu.RLock()
	h, ok := m.principals[principalID]
	m.mu.RUnlock()
	if ok {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.principals[principalID]; ok {
		return h
	}
	h = newPrincipalHistory(m.cfg.HistoryCapacity)
	m.principals[principalID] = h
	return h
}

// evaluateLocked runs the anomaly rules against the post-append history and
// returns the name of the first rule that fires, or "". Caller holds h.mu.
//
// Rules stay quiet until the principal has accumulated MinHistory records,
// avoiding cold-start false positives.
func (m *BehaviorMonitor) evaluateLocked(h *principalHistory, latest ToolUsageRecord) string {
	if h.count < m.cfg.MinHistory {
		return ""
	}

	windowStart := latest.Timestamp.Add(-m.cfg.FrequencyWindow)

	inWindow := 0
	repeats := 0
	toolSeenBefore := false
	for i := 0; i < h.count-1; i++ {
		r := h.at(i)
		if r.ToolName == latest.ToolName {
			toolSeenBefore = true
		}
		if r.Timestamp.Before(windowStart) {
			continue
		}
		inWindow++
		if r.ToolName == latest.ToolName && r.ParamsHash == latest.ParamsHash {
			repeats++
		}
	}
	// The latest record is part of the trailing window too.
	inWindow++
	repeats++

	if inWindow > m.cfg.FrequencyThreshold {
		return "frequency"
	}
	if !toolSeenBefore {
		return "novelty"
	}
	if latest.ResponseSize > m.cfg.SizeThreshold {
		return "size"
	}
	if repeats > m.cfg.RepeatThreshold {
		return "repetition"
	}
	return ""
}

// HashParams computes a stable SHA-256 hex digest of call arguments.
// json.Marshal sorts map keys, so equal argument maps always hash equal.
func HashParams(params map[string]any) string {
	b, err := json.Marshal(params)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// responseSize measures the stringified response in bytes.
func responseSize(response any) int {
	switch t := response.(type) {
	case nil:
		return 0
	case string:
		return len(t)
	case []byte:
		return len(t)
	}
	b, err := json.Marshal(response)
	if err != nil {
		return len(fmt.Sprintf("%v", response))
	}
	return len(b)
}
