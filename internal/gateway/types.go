package gateway

import "context"

// ToolInvocation is one inbound tool call, gated at dispatch time.
type ToolInvocation struct {
	ToolName    string         `json:"tool_name"`
	Arguments   map[string]any `json:"arguments"`
	PrincipalID string         `json:"principal_id"`
}

// TextUnit is one textual chunk of a tool result.
type TextUnit struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolInvocationResult is returned to the owning tool registry/transport.
// SecurityBlocked distinguishes a policy refusal from a tool failure: a
// blocked call is an intentional outcome, not an error condition.
type ToolInvocationResult struct {
	Content         []TextUnit `json:"content"`
	IsError         bool       `json:"is_error,omitempty"`
	SecurityBlocked bool       `json:"security_blocked,omitempty"`
}

// Invoker executes the wrapped tool. Implemented by the host dispatcher.
type Invoker interface {
	Invoke(ctx context.Context, inv *ToolInvocation) (*ToolInvocationResult, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, inv *ToolInvocation) (*ToolInvocationResult, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, inv *ToolInvocation) (*ToolInvocationResult, error) {
	return f(ctx, inv)
}
