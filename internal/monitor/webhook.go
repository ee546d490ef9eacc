package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// webhookSender posts alerts to an external endpoint, best-effort and
// at-most-once. Delivery runs detached from the tracking path; the only
// caller-visible cost is the goroutine spawn.
type webhookSender struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

func newWebhookSender(rawURL string, timeout time.Duration, logger *zap.Logger) (*webhookSender, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid alert webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid alert webhook url %q: scheme must be http or https", rawURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &webhookSender{
		url:     rawURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// deliver posts the alert JSON in a detached goroutine. Failures are logged
// and dropped — no retries, never raised to the caller.
func (s *webhookSender) deliver(alert SecurityAlert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		body, err := json.Marshal(alert)
		if err != nil {
			s.logger.Warn("alert webhook marshal failed", zap.Error(err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			s.logger.Warn("alert webhook request failed", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Warn("alert webhook delivery failed",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 300 {
			s.logger.Warn("alert webhook rejected",
				zap.String("alert_id", alert.ID),
				zap.Int("status", resp.StatusCode),
			)
		}
	}()
}
