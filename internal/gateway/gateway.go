// Package gateway composes the scanner, sanitizer, and behavior monitor
// around a single tool invocation:
//
//	scan arguments → block or proceed → execute → scan/sanitize response →
//	record usage → deliver
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bastion-ai/bastion/internal/monitor"
	"github.com/bastion-ai/bastion/internal/sanitize"
	"github.com/bastion-ai/bastion/internal/scanner"
	"github.com/bastion-ai/bastion/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the gateway's policy switches. Owned by the composition root.
type Config struct {
	SecurityEnabled   bool
	ScanToolSchemas   bool
	ScanToolResponses bool
}

// Caller-visible literals. Raw threat content never appears in either.
const (
	RefusalMessage       = "Tool call blocked: the arguments contain content flagged by security policy."
	InternalErrorMessage = "Tool execution failed due to an internal error."
)

// ErrSchemaRejected is returned by CheckSchema for poisoned tool definitions.
var ErrSchemaRejected = fmt.Errorf("tool schema rejected by security scan")

// Gateway gates tool invocations. Stateless beyond configuration and its
// injected collaborators — safe for concurrent dispatch.
type Gateway struct {
	cfg       Config
	scanner   *scanner.Scanner
	sanitizer *sanitize.Sanitizer
	monitor   *monitor.BehaviorMonitor
	events    storage.EventWriter
	logger    *zap.Logger
}

// NewGateway wires the gateway from explicitly constructed parts.
func NewGateway(
	cfg Config,
	sc *scanner.Scanner,
	sz *sanitize.Sanitizer,
	mon *monitor.BehaviorMonitor,
	events storage.EventWriter,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		cfg:       cfg,
		scanner:   sc,
		sanitizer: sz,
		monitor:   mon,
		events:    events,
		logger:    logger,
	}
}

// Dispatch runs one tool invocation through the security state machine and
// returns the (possibly sanitized) result.
//
// Only the explicit argument-scan block path refuses a call. Every internal
// scan or sanitize failure fails open: the legitimate result passes through
// unmodified rather than being dropped or corrupted.
func (g *Gateway) Dispatch(ctx context.Context, inv *ToolInvocation, next Invoker) (*ToolInvocationResult, error) {
	if !g.cfg.SecurityEnabled {
		return g.execute(ctx, inv, next)
	}

	requestID := uuid.New().String()

	// ARG_SCANNED. Arguments are scanned but never sanitized: a HIGH or
	// CRITICAL finding blocks the call, anything weaker proceeds unmodified.
	argsText := stringifyArguments(inv.Arguments)
	argScan := g.safeScanText(argsText, "tool."+inv.ToolName+".arguments")

	if blocking, threat := highestThreat(argScan); blocking {
		g.monitor.Emit(monitor.NewAlert(scanner.SeverityHigh,
			fmt.Sprintf("blocked tool call: %s in arguments", threat.Type),
			inv.PrincipalID, inv.ToolName,
			map[string]any{
				"threat_type": string(threat.Type),
				"location":    threat.Location,
				"request_id":  requestID,
			},
		))
		g.writeEvent(requestID, inv, "arg_scan", "block", argsText, argScan)
		blockedCallsTotal.Inc()
		return &ToolInvocationResult{
			Content:         []TextUnit{{Type: "text", Text: RefusalMessage}},
			IsError:         true,
			SecurityBlocked: true,
		}, nil
	}

	if !argScan.Safe {
		g.logger.Info("low-severity argument findings, proceeding",
			zap.String("tool_name", inv.ToolName),
			zap.String("principal_id", inv.PrincipalID),
			zap.Int("threats", len(argScan.Threats)),
		)
	}
	g.writeEvent(requestID, inv, "arg_scan", "allow", argsText, argScan)

	// EXECUTING.
	result, err := next.Invoke(ctx, inv)
	if err != nil {
		g.logger.Error("tool invocation failed",
			zap.String("tool_name", inv.ToolName),
			zap.String("principal_id", inv.PrincipalID),
			zap.Error(err),
		)
		return &ToolInvocationResult{
			Content: []TextUnit{{Type: "text", Text: InternalErrorMessage}},
			IsError: true,
		}, nil
	}
	if result == nil {
		result = &ToolInvocationResult{}
	}

	g.monitor.Track(inv.PrincipalID, inv.ToolName, inv.Arguments, result)

	// RESPONSE_SCANNED.
	if g.cfg.ScanToolResponses {
		g.scanAndSanitizeResponse(ctx, requestID, inv, result)
	}

	// DELIVERED.
	return result, nil
}

// execute runs the wrapped tool with security disabled. Invocation errors
// still map to the generic internal-error result.
func (g *Gateway) execute(ctx context.Context, inv *ToolInvocation, next Invoker) (*ToolInvocationResult, error) {
	result, err := next.Invoke(ctx, inv)
	if err != nil {
		g.logger.Error("tool invocation failed",
			zap.String("tool_name", inv.ToolName),
			zap.Error(err),
		)
		return &ToolInvocationResult{
			Content: []TextUnit{{Type: "text", Text: InternalErrorMessage}},
			IsError: true,
		}, nil
	}
	if result == nil {
		result = &ToolInvocationResult{}
	}
	return result, nil
}

// scanAndSanitizeResponse checks each textual unit of the result and rewrites
// unsafe ones in place under the configured sanitization mode.
func (g *Gateway) scanAndSanitizeResponse(ctx context.Context, requestID string, inv *ToolInvocation, result *ToolInvocationResult) {
	for i := range result.Content {
		unit := &result.Content[i]
		if unit.Text == "" {
			continue
		}

		scanRes := g.safeScanResponse(ctx, unit.Text)
		if scanRes.Safe {
			g.writeEvent(requestID, inv, "response_scan", "allow", unit.Text, scanRes)
			continue
		}

		_, threat := highestThreat(scanRes)
		g.monitor.Emit(monitor.NewAlert(scanner.SeverityHigh,
			fmt.Sprintf("unsafe tool response: %s", threat.Type),
			inv.PrincipalID, inv.ToolName,
			map[string]any{
				"threat_type": string(threat.Type),
				"request_id":  requestID,
			},
		))

		unit.Text = g.safeSanitize(unit.Text, scanRes)
		if scanRes.Sanitized {
			sanitizedUnitsTotal.Inc()
		}
		g.writeEvent(requestID, inv, "response_scan", "sanitize", unit.Text, scanRes)
	}
}

// CheckSchema scans a tool definition at listing time. A poisoned schema
// produces an alert and an error the registry can use to withhold the tool.
// Returns the scan result (nil when schema scanning is disabled) alongside
// the verdict.
func (g *Gateway) CheckSchema(schema *scanner.ToolSchema) (*scanner.ScanResult, error) {
	if !g.cfg.SecurityEnabled || !g.cfg.ScanToolSchemas {
		return nil, nil
	}

	res := g.scanner.ScanToolSchema(schema)
	scansTotal.WithLabelValues("schema_scan", decisionFor(res)).Inc()
	if res.Safe {
		return res, nil
	}

	_, threat := highestThreat(res)
	g.monitor.Emit(monitor.NewAlert(scanner.SeverityHigh,
		fmt.Sprintf("poisoned tool schema: %s", threat.Type),
		"", schema.Name,
		map[string]any{
			"threat_type": string(threat.Type),
			"location":    threat.Location,
			"threats":     len(res.Threats),
		},
	))

	g.events.Write(&storage.SecurityEvent{
		RequestID:        uuid.New().String(),
		Timestamp:        time.Now().UTC(),
		Stage:            "schema_scan",
		ToolName:         schema.Name,
		Decision:         "block",
		ThreatTypes:      threatTypes(res),
		ThreatSeverities: threatSeverities(res),
		PayloadPreview:   storage.TruncatePayload(schema.Description, storage.PayloadPreviewLength),
		Diagnostics:      res.Diagnostics,
	})

	return res, fmt.Errorf("%w: tool %q", ErrSchemaRejected, schema.Name)
}

// safeScanText never lets a scanner failure escape: a panic degrades to an
// empty (safe) result so the call proceeds.
func (g *Gateway) safeScanText(text, contextLabel string) (res *scanner.ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("argument scan panicked, failing open", zap.Any("panic", r))
			res = &scanner.ScanResult{
				Safe:          true,
				Threats:       []scanner.Threat{},
				ScanTimestamp: time.Now().UTC(),
				Diagnostics:   []string{fmt.Sprintf("scan panic: %v", r)},
			}
		}
	}()
	start := time.Now()
	res = g.scanner.ScanText(text, contextLabel)
	scanDuration.Observe(time.Since(start).Seconds())
	return res
}

func (g *Gateway) safeScanResponse(ctx context.Context, text string) (res *scanner.ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("response scan panicked, failing open", zap.Any("panic", r))
			res = &scanner.ScanResult{
				Safe:          true,
				Threats:       []scanner.Threat{},
				ScanTimestamp: time.Now().UTC(),
				Diagnostics:   []string{fmt.Sprintf("scan panic: %v", r)},
			}
		}
	}()
	start := time.Now()
	res = g.scanner.ScanToolResponse(ctx, text)
	scanDuration.Observe(time.Since(start).Seconds())
	return res
}

// safeSanitize fails open: if the sanitizer panics, the original content is
// returned unmodified and the failure is logged.
func (g *Gateway) safeSanitize(content string, scanRes *scanner.ScanResult) (out string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("sanitizer panicked, passing content through", zap.Any("panic", r))
			out = content
		}
	}()
	return g.sanitizer.Sanitize(content, scanRes)
}

func (g *Gateway) writeEvent(requestID string, inv *ToolInvocation, stage, decision, payload string, res *scanner.ScanResult) {
	hash := sha256.Sum256([]byte(payload))
	g.events.Write(&storage.SecurityEvent{
		RequestID:        requestID,
		PrincipalID:      inv.PrincipalID,
		Timestamp:        time.Now().UTC(),
		Stage:            stage,
		ToolName:         inv.ToolName,
		Decision:         decision,
		ThreatTypes:      threatTypes(res),
		ThreatSeverities: threatSeverities(res),
		PayloadPreview:   storage.TruncatePayload(payload, storage.PayloadPreviewLength),
		PayloadHash:      string(hash[:]),
		PayloadSize:      uint32(len(payload)),
		Diagnostics:      res.Diagnostics,
	})
	scansTotal.WithLabelValues(stage, decision).Inc()
}

// decisionFor maps a scan result to an event decision label.
func decisionFor(res *scanner.ScanResult) string {
	if res.Safe {
		return "allow"
	}
	return "block"
}

// highestThreat reports whether the result carries a HIGH or CRITICAL threat
// and returns the strongest one found.
func highestThreat(res *scanner.ScanResult) (bool, scanner.Threat) {
	var best scanner.Threat
	for _, t := range res.Threats {
		if t.Severity > best.Severity {
			best = t
		}
	}
	return best.Severity >= scanner.SeverityHigh, best
}

func threatTypes(res *scanner.ScanResult) []string {
	out := make([]string, len(res.Threats))
	for i, t := range res.Threats {
		out[i] = string(t.Type)
	}
	return out
}

func threatSeverities(res *scanner.ScanResult) []string {
	out := make([]string, len(res.Threats))
	for i, t := range res.Threats {
		out[i] = t.Severity.String()
	}
	return out
}

// stringifyArguments renders the argument map as canonical JSON. json.Marshal
// sorts map keys, so equal argument maps always stringify identically.
func stringifyArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
