package api

import (
	"net/http"
	"time"

	"github.com/bastion-ai/bastion/internal/auth"
	"github.com/bastion-ai/bastion/internal/gateway"
	"github.com/bastion-ai/bastion/internal/monitor"
	"github.com/bastion-ai/bastion/internal/scanner"
	"github.com/bastion-ai/bastion/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Scanner  *scanner.Scanner
	Gateway  *gateway.Gateway
	Monitor  *monitor.BehaviorMonitor
	Writer   storage.EventWriter
	Auth     auth.Authenticator
	Logger   *zap.Logger
	CacheTTL time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Ad-hoc scanning (auth required via Bearer bsk_ token)
	mux.HandleFunc("POST /api/bastion/scan", deps.authMiddleware(deps.handleScan))

	// Schema vetting at tool-listing time
	mux.HandleFunc("POST /api/bastion/schemas/check", deps.authMiddleware(deps.handleCheckSchema))

	// Recent alerts for the dashboard
	mux.HandleFunc("GET /api/bastion/alerts", deps.authMiddleware(deps.handleListAlerts))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
