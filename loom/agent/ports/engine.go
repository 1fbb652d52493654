package agentports

import (
	"context"
	"encoding/json"
)

// ChatMessage is a single role-tagged message sent to the reasoning engine.
type ChatMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// GenerateRequest aggregates everything the engine needs for one decision.
type GenerateRequest struct {
	System   string            // system preamble (instructions, not history)
	Messages []ChatMessage     // reconstructed conversation, already windowed
	Tools    []ToolSpec        // tool manifest exposed to the engine
	Options  Options           // sampling and limits
	Meta     map[string]string // lightweight metadata for tracing keys
}

// Options controls sampling and limits for a single engine call.
type Options struct {
	MaxTokens   int
	Temperature float32
	Stop        []string
	// ToolChoice: "auto" | "none" | specific tool name (if supported)
	ToolChoice string
}

// Usage captures token accounting when the engine reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCallProposal is a structured intent emitted by the engine: a request
// to run a named tool with JSON arguments. It is never executed as-is; the
// validation gate decides. Raw preserves the originating payload for
// server-side diagnostics only.
type ToolCallProposal struct {
	Name string
	Args json.RawMessage
	Raw  string
}

// EngineReply is the engine's decision: free text, tool proposals, or both.
type EngineReply struct {
	Text      string
	Proposals []ToolCallProposal
	Usage     *Usage
}

// ReasoningEngine is the boundary to the external reasoning engine. It
// performs no validation and no side effects.
type ReasoningEngine interface {
	Generate(ctx context.Context, req GenerateRequest) (EngineReply, error)
}
