package api

import (
	"crypto/sha256"
	"net/http"
	"strconv"
	"time"

	"github.com/bastion-ai/bastion/internal/scanner"
	"github.com/bastion-ai/bastion/internal/storage"
	"github.com/google/uuid"
)

func threatTypes(res *scanner.ScanResult) []string {
	out := make([]string, len(res.Threats))
	for i, t := range res.Threats {
		out[i] = string(t.Type)
	}
	return out
}

// handleScan implements POST /api/bastion/scan: ad-hoc text scanning for the
// dashboard. Auth middleware has already validated the Bearer token.
func (d *Dependencies) handleScan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ScanRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "text is required"})
		return
	}

	contextLabel := req.Context
	if contextLabel == "" {
		contextLabel = "ad_hoc"
	}

	result := d.Scanner.ScanText(req.Text, contextLabel)

	principal := principalFromContext(r.Context())
	principalID := ""
	if principal != nil {
		principalID = principal.ID
	}

	decision := "allow"
	if !result.Safe {
		decision = "alert"
	}

	hash := sha256.Sum256([]byte(req.Text))
	d.Writer.Write(&storage.SecurityEvent{
		RequestID:      uuid.New().String(),
		PrincipalID:    principalID,
		Timestamp:      time.Now().UTC(),
		Stage:          "ad_hoc",
		Decision:       decision,
		ThreatTypes:    threatTypes(result),
		PayloadPreview: storage.TruncatePayload(req.Text, storage.PayloadPreviewLength),
		PayloadHash:    string(hash[:]),
		PayloadSize:    uint32(len(req.Text)),
		LatencyMs:      float32(float64(time.Since(start)) / float64(time.Millisecond)),
	})

	writeJSON(w, http.StatusOK, result)
}

// handleCheckSchema implements POST /api/bastion/schemas/check: the tool
// registry submits a tool definition before listing it to agents.
func (d *Dependencies) handleCheckSchema(w http.ResponseWriter, r *http.Request) {
	var schema scanner.ToolSchema
	if err := readJSON(r, &schema); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if schema.Name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name is required"})
		return
	}

	result, err := d.Gateway.CheckSchema(&schema)

	resp := SchemaCheckResponse{Allowed: err == nil, Safe: true}
	if result != nil {
		resp.Safe = result.Safe
		resp.Threats = len(result.Threats)
	}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListAlerts implements GET /api/bastion/alerts. Reads are
// non-destructive: concurrent dashboard pollers never race each other.
func (d *Dependencies) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "limit must be an integer between 1 and 500"})
			return
		}
		limit = n
	}

	alerts := d.Monitor.RecentAlerts(limit)
	writeJSON(w, http.StatusOK, AlertsResponse{Alerts: alerts, Count: len(alerts)})
}
