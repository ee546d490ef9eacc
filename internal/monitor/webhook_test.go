package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bastion-ai/bastion/internal/scanner"
	"go.uber.org/zap"
)

func TestSetAlertWebhook_RejectsBadURLs(t *testing.T) {
	m := newTestMonitor(DefaultConfig())

	for _, raw := range []string{"://missing-scheme", "ftp://example.com/hook", "not a url at all"} {
		if err := m.SetAlertWebhook(raw); err == nil {
			t.Errorf("SetAlertWebhook(%q) accepted a bad URL", raw)
		}
	}

	if err := m.SetAlertWebhook("https://hooks.example.com/security"); err != nil {
		t.Errorf("SetAlertWebhook rejected a valid URL: %v", err)
	}
}

func TestWebhook_DeliversAlertJSON(t *testing.T) {
	received := make(chan SecurityAlert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("got Content-Type %q, want application/json", ct)
		}
		var alert SecurityAlert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			t.Errorf("decoding webhook body: %v", err)
		}
		received <- alert
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestMonitor(DefaultConfig())
	if err := m.SetAlertWebhook(srv.URL); err != nil {
		t.Fatal(err)
	}

	sent := NewAlert(scanner.SeverityHigh, "test delivery", "agent-1", "search", map[string]any{"rule": "novelty"})
	m.Emit(sent)

	select {
	case got := <-received:
		if got.ID != sent.ID {
			t.Errorf("got alert %s, want %s", got.ID, sent.ID)
		}
		if got.Severity != scanner.SeverityHigh {
			t.Errorf("got severity %s, want high", got.Severity)
		}
		if got.PrincipalID != "agent-1" || got.ToolName != "search" {
			t.Errorf("alert misattributed: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook delivery timed out")
	}
}

// A dead webhook endpoint must not disturb the alerting path.
func TestWebhook_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.WebhookTimeout = 200 * time.Millisecond
	m := NewBehaviorMonitor(cfg, zap.NewNop())
	if err := m.SetAlertWebhook(url); err != nil {
		t.Fatal(err)
	}

	m.Emit(NewAlert(scanner.SeverityHigh, "doomed delivery", "agent-1", "search", nil))

	if got := m.AlertCount(); got != 1 {
		t.Errorf("got %d logged alerts, want 1", got)
	}
	// Give the detached goroutine time to fail and log.
	time.Sleep(300 * time.Millisecond)
}
