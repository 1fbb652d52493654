package agent

import (
	"strings"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// systemPersona is the assistant's standing instruction set. Engine
// adapters that cannot pass tools natively append their own inline
// format instructions to it.
const systemPersona = `You are a personal task assistant. You manage the user's to-do list through the provided tools: create, list, update, complete, and delete tasks.

Rules:
- Act only on the user's own tasks.
- When the user asks for an action, call the matching tool with exact arguments. Never invent task ids.
- When the user asks a question or just chats, answer in plain text without calling a tool.
- Be concise and friendly.`

// PromptBuilder assembles engine-ready requests from reconstructed turns
// and the tool manifest.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Build flattens the reconstructed turns into a GenerateRequest.
func (b *PromptBuilder) Build(turns []ports.Turn, manifest *Manifest, opts ports.Options, meta map[string]string) ports.GenerateRequest {
	// Normalize newlines and trim whitespace to reduce prompt diffs for caching
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	messages := make([]ports.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, ports.ChatMessage{Role: turn.Role, Content: norm(turn.Content)})
	}

	return ports.GenerateRequest{
		System:   norm(systemPersona),
		Messages: messages,
		Tools:    manifest.Specs(),
		Options:  opts,
		Meta:     meta,
	}
}
