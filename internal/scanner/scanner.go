package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ToolSchema is the inbound tool definition scanned at listing time.
type ToolSchema struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  ToolSchemaParameters `json:"parameters"`
}

// ToolSchemaParameters holds the schema's parameter properties.
type ToolSchemaParameters struct {
	Properties map[string]Property `json:"properties"`
}

// Property describes one tool parameter.
type Property struct {
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"`
}

// Scanner orchestrates the pattern matcher (and an optional ML classifier)
// over text, tool schemas, and tool responses. Stateless beyond its static
// configuration — safe to share across concurrent invocations.
type Scanner struct {
	classifier Classifier // nil when no ML capability is configured
	logger     *zap.Logger
}

// NewScanner creates a Scanner. classifier may be nil; its absence is a
// no-op, never an error.
func NewScanner(classifier Classifier, logger *zap.Logger) *Scanner {
	return &Scanner{
		classifier: classifier,
		logger:     logger,
	}
}

// ScanText runs a single pattern pass over text. Any finding is reported at
// HIGH severity with the given context string as its location.
func (s *Scanner) ScanText(text, contextLabel string) *ScanResult {
	var threats []Threat
	if found, typ, pattern := ContainsInjection(text); found {
		threats = append(threats, Threat{
			Type:           typ,
			Severity:       SeverityHigh,
			Location:       contextLabel,
			Content:        truncateContent(text, MaxThreatContent),
			PatternMatched: pattern,
		})
	}
	return newScanResult(threats, nil)
}

// ScanToolSchema scans a tool definition for poisoned descriptions. The
// top-level description is scanned at HIGH severity; parameter descriptions
// and examples at MEDIUM. All findings are aggregated into one result.
func (s *Scanner) ScanToolSchema(schema *ToolSchema) *ScanResult {
	if schema == nil {
		return newScanResult(nil, nil)
	}

	var threats []Threat

	if found, _, pattern := ContainsInjection(schema.Description); found {
		threats = append(threats, Threat{
			Type:           ThreatToolDescriptionPoison,
			Severity:       SeverityHigh,
			Location:       "tool." + schema.Name + ".description",
			Content:        truncateContent(schema.Description, MaxThreatContent),
			PatternMatched: pattern,
		})
	}

	// Sorted parameter order keeps threat lists stable across scans of the
	// same schema.
	names := make([]string, 0, len(schema.Parameters.Properties))
	for name := range schema.Parameters.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop := schema.Parameters.Properties[name]
		if found, _, pattern := ContainsInjection(prop.Description); found {
			threats = append(threats, Threat{
				Type:           ThreatParameterPoison,
				Severity:       SeverityMedium,
				Location:       fmt.Sprintf("tool.%s.parameters.%s.description", schema.Name, name),
				Content:        truncateContent(prop.Description, MaxThreatContent),
				PatternMatched: pattern,
			})
		}
		for i, example := range prop.Examples {
			if found, _, pattern := ContainsInjection(example); found {
				threats = append(threats, Threat{
					Type:           ThreatExamplePoison,
					Severity:       SeverityMedium,
					Location:       fmt.Sprintf("tool.%s.parameters.%s.examples[%d]", schema.Name, name, i),
					Content:        truncateContent(example, MaxThreatContent),
					PatternMatched: pattern,
				})
			}
		}
	}

	return newScanResult(threats, nil)
}

// ScanToolResponse stringifies arbitrary response data and scans it at HIGH
// severity. When an ML classifier is configured, it runs as an additional
// sub-check; classifier failure degrades to a diagnostic, never an aborted
// scan.
func (s *Scanner) ScanToolResponse(ctx context.Context, response any) *ScanResult {
	var diagnostics []string

	text, marshalErr := stringifyResponse(response)
	if marshalErr != nil {
		diagnostics = append(diagnostics, "response stringify fallback: "+marshalErr.Error())
	}

	var threats []Threat
	if found, typ, pattern := ContainsInjection(text); found {
		threats = append(threats, Threat{
			Type:           typ,
			Severity:       SeverityHigh,
			Location:       "tool_response",
			Content:        truncateContent(text, MaxThreatContent),
			PatternMatched: pattern,
		})
	}

	if s.classifier != nil {
		flagged, confidence, err := s.classifier.Classify(ctx, text)
		switch {
		case err != nil:
			s.logger.Warn("ml classifier failed, skipping sub-check", zap.Error(err))
			diagnostics = append(diagnostics, "ml classifier unavailable: "+err.Error())
		case flagged:
			threats = append(threats, Threat{
				Type:       ThreatMLDetectedPoison,
				Severity:   SeverityHigh,
				Location:   "tool_response",
				Content:    truncateContent(text, MaxThreatContent),
				Confidence: confidence,
			})
		}
	}

	return newScanResult(threats, diagnostics)
}

// stringifyResponse renders arbitrary response data as text. Strings pass
// through unchanged; everything else is JSON-encoded, with a fmt fallback for
// values the encoder rejects.
func stringifyResponse(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v), err
	}
	return string(b), nil
}
