package api

import "github.com/bastion-ai/bastion/internal/monitor"

// ErrorResp is the uniform error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// ScanRequest is the body for POST /api/bastion/scan.
type ScanRequest struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// SchemaCheckResponse is the body for POST /api/bastion/schemas/check.
// Allowed=false means the registry should withhold the tool.
type SchemaCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Safe    bool   `json:"safe"`
	Threats int    `json:"threats"`
	Detail  string `json:"detail,omitempty"`
}

// AlertsResponse is the body for GET /api/bastion/alerts.
type AlertsResponse struct {
	Alerts []monitor.SecurityAlert `json:"alerts"`
	Count  int                     `json:"count"`
}
