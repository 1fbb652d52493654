package adapters

import (
	"fmt"
	"strings"
	"time"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// LlamaConfig holds the settings for local GGUF inference.
type LlamaConfig struct {
	ModelPath   string
	ContextSize int
	Threads     int
	Timeout     time.Duration
}

func (c LlamaConfig) withDefaults() LlamaConfig {
	if c.ContextSize <= 0 {
		c.ContextSize = 4096
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

const chatMLStop = "<|im_end|>"

// chatMLPrompt renders a request in ChatML, the template most current
// GGUF chat models are tuned on. Local models have no native tool-call
// channel, so the tool manifest is folded into the system text and the
// reply parser extracts any fenced tool_call envelope from the output.
func chatMLPrompt(req ports.GenerateRequest) string {
	var b strings.Builder

	system := req.System
	if guide := toolGuide(req.Tools); guide != "" {
		system = strings.TrimSpace(system + "\n\n" + guide)
	}
	if system != "" {
		fmt.Fprintf(&b, "<|im_start|>system\n%s%s\n", system, chatMLStop)
	}

	for _, msg := range req.Messages {
		role := msg.Role
		if role != "user" && role != "assistant" {
			role = "user"
		}
		fmt.Fprintf(&b, "<|im_start|>%s\n%s%s\n", role, msg.Content, chatMLStop)
	}

	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

func toolGuide(tools []ports.ToolSpec) string {
	if len(tools) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You can call these tools. To call one, reply with only a fenced JSON block:\n")
	b.WriteString("```json\n{\"tool_call\": {\"name\": \"<tool>\", \"arguments\": {...}}}\n```\n")
	b.WriteString("Available tools:\n")
	for _, spec := range tools {
		fmt.Fprintf(&b, "- %s: %s\n  arguments schema: %s\n", spec.Name, spec.Description, string(spec.JSONSchema))
	}
	return b.String()
}
