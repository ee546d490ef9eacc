package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Classifier is the optional ML capability the scanner invokes on tool
// responses. Implementations must return quickly; callers treat any error as
// "sub-check unavailable" and continue.
type Classifier interface {
	Classify(ctx context.Context, text string) (flagged bool, confidence float32, err error)
}

// classifyTextLimit caps the excerpt sent to the classifier service. Pattern
// scanning already covers the full payload; the model only needs a window.
const classifyTextLimit = 8000

// HTTPClassifier calls an external classifier service over HTTP JSON.
//
// The capability is conditional — only wired up when BASTION_ML_CLASSIFIER_URL
// is set. Transport errors and non-200 responses surface as errors, which the
// scanner downgrades to diagnostics.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPClassifier creates a classifier client for the given endpoint.
func NewHTTPClassifier(endpoint string, logger *zap.Logger) *HTTPClassifier {
	logger.Info("ml classifier configured", zap.String("endpoint", endpoint))
	return &HTTPClassifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Classify posts the text to the classifier service and interprets the label.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (bool, float32, error) {
	body, err := json.Marshal(classifyRequest{Text: truncateContent(text, classifyTextLimit)})
	if err != nil {
		return false, 0, fmt.Errorf("classify marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, 0, fmt.Errorf("classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("classify call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, 0, fmt.Errorf("classify call: unexpected status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, 0, fmt.Errorf("classify decode: %w", err)
	}

	flagged := strings.EqualFold(out.Label, "INJECTION") ||
		strings.EqualFold(out.Label, "POISON") ||
		strings.EqualFold(out.Label, "MALICIOUS")

	return flagged, out.Confidence, nil
}
