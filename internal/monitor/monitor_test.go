package monitor

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bastion-ai/bastion/internal/scanner"
	"go.uber.org/zap"
)

func newTestMonitor(cfg Config) *BehaviorMonitor {
	return NewBehaviorMonitor(cfg, zap.NewNop())
}

// Individually anomalous records never alert before the principal has
// accumulated the minimum history.
func TestTrack_ColdStartNeverAlerts(t *testing.T) {
	m := newTestMonitor(DefaultConfig())

	for i := 0; i < 9; i++ {
		// New tool every call, oversized response — each would trip a rule
		// past the cold-start threshold.
		m.Track("agent-1", fmt.Sprintf("tool_%d", i), map[string]any{"i": i}, strings.Repeat("x", 200_000))
	}

	if got := m.AlertCount(); got != 0 {
		t.Errorf("got %d alerts during cold start, want 0", got)
	}
}

func TestTrack_RepetitionAlert(t *testing.T) {
	m := newTestMonitor(DefaultConfig())

	// Establish history: same tool, varied arguments.
	for i := 0; i < 10; i++ {
		m.Track("agent-1", "search", map[string]any{"q": fmt.Sprintf("query %d", i)}, "ok")
	}
	if got := m.AlertCount(); got != 0 {
		t.Fatalf("varied history produced %d alerts, want 0", got)
	}

	// Hammer the same tool with identical arguments.
	for i := 0; i < 11; i++ {
		m.Track("agent-1", "search", map[string]any{"q": "same query"}, "ok")
	}

	alerts := m.RecentAlerts(10)
	if len(alerts) == 0 {
		t.Fatal("expected a repetition alert")
	}
	alert := alerts[0]
	if alert.Details["rule"] != "repetition" {
		t.Errorf("got rule %v, want repetition", alert.Details["rule"])
	}
	if alert.Severity != scanner.SeverityHigh {
		t.Errorf("got severity %s, want high", alert.Severity)
	}
	if alert.PrincipalID != "agent-1" || alert.ToolName != "search" {
		t.Errorf("alert misattributed: %+v", alert)
	}
	if _, ok := alert.Details["params_hash"]; !ok {
		t.Error("alert details missing params_hash")
	}
	if _, ok := alert.Details["response_size"]; !ok {
		t.Error("alert details missing response_size")
	}
}

func TestTrack_NoveltyAlert(t *testing.T) {
	m := newTestMonitor(DefaultConfig())

	for i := 0; i < 10; i++ {
		m.Track("agent-1", "search", map[string]any{"q": fmt.Sprintf("query %d", i)}, "ok")
	}

	m.Track("agent-1", "drop_tables", map[string]any{"db": "prod"}, "ok")

	alerts := m.RecentAlerts(1)
	if len(alerts) != 1 {
		t.Fatal("expected a novelty alert")
	}
	if alerts[0].Details["rule"] != "novelty" {
		t.Errorf("got rule %v, want novelty", alerts[0].Details["rule"])
	}
	if alerts[0].ToolName != "drop_tables" {
		t.Errorf("got tool %s, want drop_tables", alerts[0].ToolName)
	}
}

func TestTrack_SizeAlert(t *testing.T) {
	m := newTestMonitor(DefaultConfig())

	for i := 0; i < 10; i++ {
		m.Track("agent-1", "fetch", map[string]any{"url": fmt.Sprintf("https://example.com/%d", i)}, "small")
	}

	m.Track("agent-1", "fetch", map[string]any{"url": "https://example.com/huge"}, strings.Repeat("x", 100_001))

	alerts := m.RecentAlerts(1)
	if len(alerts) != 1 {
		t.Fatal("expected a size alert")
	}
	if alerts[0].Details["rule"] != "size" {
		t.Errorf("got rule %v, want size", alerts[0].Details["rule"])
	}
}

func TestTrack_FrequencyAlert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrequencyThreshold = 5
	m := newTestMonitor(cfg)

	for i := 0; i < 11; i++ {
		m.Track("agent-1", "search", map[string]any{"q": fmt.Sprintf("query %d", i)}, "ok")
	}

	alerts := m.RecentAlerts(50)
	if len(alerts) == 0 {
		t.Fatal("expected frequency alerts")
	}
	for _, a := range alerts {
		if a.Details["rule"] != "frequency" {
			t.Errorf("got rule %v, want frequency", a.Details["rule"])
		}
	}
}

// Independent principals do not pollute each other's baselines.
func TestTrack_PrincipalsIsolated(t *testing.T) {
	m := newTestMonitor(DefaultConfig())

	for i := 0; i < 20; i++ {
		m.Track("agent-1", "search", map[string]any{"q": fmt.Sprintf("query %d", i)}, "ok")
	}
	// agent-2 uses a tool agent-1 knows well, but has no history itself.
	m.Track("agent-2", "search", map[string]any{"q": "hello"}, "ok")

	if got := m.AlertCount(); got != 0 {
		t.Errorf("got %d alerts across isolated principals, want 0", got)
	}
}

func TestTrack_HistoryEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCapacity = 5
	cfg.MinHistory = 100 // keep rules quiet
	m := newTestMonitor(cfg)

	for i := 0; i < 8; i++ {
		m.Track("agent-1", "search", map[string]any{"i": i}, "ok")
	}

	h := m.historyFor("agent-1")
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count != 5 {
		t.Errorf("history holds %d records, want capacity 5", h.count)
	}
	// Oldest three were evicted; the window starts at record 3.
	if got := h.at(0).ParamsHash; got != HashParams(map[string]any{"i": 3}) {
		t.Error("ring did not evict oldest records first")
	}
}

func TestTrack_Concurrent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCapacity = 50
	m := newTestMonitor(cfg)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			principal := fmt.Sprintf("agent-%d", g%4)
			for i := 0; i < 100; i++ {
				m.Track(principal, "search", map[string]any{"g": g, "i": i}, "ok")
			}
		}(g)
	}
	wg.Wait()

	for p := 0; p < 4; p++ {
		h := m.historyFor(fmt.Sprintf("agent-%d", p))
		h.mu.Lock()
		count := h.count
		h.mu.Unlock()
		if count != 50 {
			t.Errorf("principal %d history = %d, want bounded at 50", p, count)
		}
	}
}

func TestHashParams_Stable(t *testing.T) {
	a := HashParams(map[string]any{"b": 2, "a": 1, "c": "three"})
	b := HashParams(map[string]any{"c": "three", "a": 1, "b": 2})
	if a != b {
		t.Error("equal maps produced different hashes")
	}

	c := HashParams(map[string]any{"a": 1, "b": 2, "c": "four"})
	if a == c {
		t.Error("different maps produced identical hashes")
	}

	if HashParams(nil) != HashParams(nil) {
		t.Error("nil params must hash consistently")
	}
}

func TestRecentAlerts_NonDestructive(t *testing.T) {
	m := newTestMonitor(DefaultConfig())
	m.Emit(NewAlert(scanner.SeverityHigh, "first", "agent-1", "search", nil))
	m.Emit(NewAlert(scanner.SeverityHigh, "second", "agent-1", "search", nil))

	first := m.RecentAlerts(10)
	second := m.RecentAlerts(10)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("reads consumed alerts: %d then %d, want 2 and 2", len(first), len(second))
	}
	if first[0].Message != "second" {
		t.Errorf("got %q first, want most recent alert first", first[0].Message)
	}
}

func TestAlertLog_DropOldest(t *testing.T) {
	log := newAlertLog(3)
	for i := 1; i <= 5; i++ {
		log.append(NewAlert(scanner.SeverityHigh, fmt.Sprintf("alert-%d", i), "", "", nil))
	}

	got := log.recent(10)
	if len(got) != 3 {
		t.Fatalf("got %d alerts, want capacity 3", len(got))
	}
	if got[0].Message != "alert-5" || got[2].Message != "alert-3" {
		t.Errorf("wrong window retained: %q .. %q", got[0].Message, got[2].Message)
	}
}

func TestRecentAlerts_LimitClamped(t *testing.T) {
	m := newTestMonitor(DefaultConfig())
	for i := 0; i < 5; i++ {
		m.Emit(NewAlert(scanner.SeverityHigh, fmt.Sprintf("alert-%d", i), "", "", nil))
	}

	if got := m.RecentAlerts(2); len(got) != 2 {
		t.Errorf("limit 2 returned %d alerts", len(got))
	}
	if got := m.RecentAlerts(0); len(got) != 5 {
		t.Errorf("limit 0 returned %d alerts, want all", len(got))
	}
	if got := m.RecentAlerts(-1); len(got) != 5 {
		t.Errorf("negative limit returned %d alerts, want all", len(got))
	}
}
