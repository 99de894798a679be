// Package llm defines the LLM provider contract the Agent Runner
// consumes. Vendor protocol details are out of scope here, so this
// package is deliberately thin: one interface plus a deterministic stub
// usable in tests and as a default until a real vendor client is wired
// by the process that constructs internal/runner.Runner. The contract
// is messages-in, tool-calls-or-final-text-out, as a single call the
// runner can drive from its loop.
package llm

import (
	"context"

	"github.com/opencode-ai/agentcore/pkg/core"
)

// ToolSchema describes one callable tool to the model, mirroring the
// id/parameters shape internal/toolkit.Definition exposes.
type ToolSchema struct {
	ID          string
	Name        string
	Description string
	Parameters  []byte // JSON schema, opaque to this package
}

// ToolCall is one invocation the model asked the runner to perform.
type ToolCall struct {
	ToolUseID string
	ToolID    string
	Args      map[string]any
}

// Request bundles everything one model call needs.
type Request struct {
	Messages []core.ConversationEntry
	Tools    []ToolSchema
	Model    string
	Caching  bool
}

// Response is the model's reply: exactly one of ToolCalls or FinalText
// is populated.
type Response struct {
	ToolCalls []ToolCall
	FinalText string
	// Usage, when the provider reports it, feeds the runner's context
	// compaction threshold check.
	Usage Usage
}

// Usage is token accounting for one model call, used only for the
// compaction threshold — the runner does not otherwise interpret it.
type Usage struct {
	InputTokens  int
	OutputTokens int
	ContextLimit int
}

// Provider is the contract the Agent Runner calls against.
// ctx carries the turn's abort token; implementations must return
// promptly once it is cancelled.
type Provider interface {
	CallModel(ctx context.Context, req Request) (Response, error)
}

// Stub is a deterministic Provider for tests and for running the core
// without a configured vendor client: it always returns FinalText with
// no tool calls. Production wiring replaces this with a real client
// satisfying Provider.
type Stub struct {
	Text string
}

// CallModel implements Provider.
func (s Stub) CallModel(ctx context.Context, req Request) (Response, error) {
	text := s.Text
	if text == "" {
		text = "ok"
	}
	return Response{FinalText: text}, nil
}
