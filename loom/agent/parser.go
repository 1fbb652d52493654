package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// ReplyParser extracts tool-call proposals from free-form engine text.
// Engines with native tool-call support never need it; the text path
// exists for local models that can only signal intent inline.
type ReplyParser struct {
	fenced  *regexp.Regexp
	legacy  *regexp.Regexp
	cleanup []*regexp.Regexp
}

// callEnvelope is the inline format the system prompt asks text-mode
// engines to emit: {"tool_call": {"name": ..., "arguments": {...}}}.
type callEnvelope struct {
	ToolCall *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tool_call"`
}

// NewReplyParser creates a parser for the supported inline formats.
func NewReplyParser() *ReplyParser {
	return &ReplyParser{
		// ```json { ... }``` fenced blocks
		fenced: regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```"),
		// [{"name": "tool", "arguments": {...}}]
		legacy: regexp.MustCompile(`\[\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*(\{.*?\})\s*\}\s*\]`),
		cleanup: []*regexp.Regexp{
			regexp.MustCompile(`,\s*([}\]])`),
		},
	}
}

// Parse returns the proposals found in text and the text with the
// matched blocks removed, so replies never echo the raw call syntax.
func (p *ReplyParser) Parse(text string) (string, []ports.ToolCallProposal) {
	var proposals []ports.ToolCallProposal

	remaining := p.fenced.ReplaceAllStringFunc(text, func(block string) string {
		inner := p.fenced.FindStringSubmatch(block)
		if len(inner) < 2 {
			return block
		}
		proposal, ok := p.parseEnvelope(inner[1])
		if !ok {
			return block
		}
		proposals = append(proposals, proposal)
		return ""
	})

	if len(proposals) == 0 {
		if proposal, ok := p.parseEnvelope(strings.TrimSpace(remaining)); ok {
			return "", []ports.ToolCallProposal{proposal}
		}
		remaining = p.legacy.ReplaceAllStringFunc(remaining, func(block string) string {
			m := p.legacy.FindStringSubmatch(block)
			if len(m) < 3 {
				return block
			}
			args := p.fixJSON(m[2])
			if !json.Valid([]byte(args)) {
				return block
			}
			proposals = append(proposals, ports.ToolCallProposal{
				Name: strings.TrimSpace(m[1]),
				Args: json.RawMessage(args),
				Raw:  block,
			})
			return ""
		})
	}

	return strings.TrimSpace(remaining), proposals
}

// parseEnvelope decodes one tool_call object, tolerating the trailing
// commas small models like to emit.
func (p *ReplyParser) parseEnvelope(raw string) (ports.ToolCallProposal, bool) {
	if raw == "" || !strings.Contains(raw, "tool_call") {
		return ports.ToolCallProposal{}, false
	}
	candidate := raw
	if !json.Valid([]byte(candidate)) {
		candidate = p.fixJSON(candidate)
		if !json.Valid([]byte(candidate)) {
			return ports.ToolCallProposal{}, false
		}
	}
	var envelope callEnvelope
	if err := json.Unmarshal([]byte(candidate), &envelope); err != nil || envelope.ToolCall == nil {
		return ports.ToolCallProposal{}, false
	}
	if strings.TrimSpace(envelope.ToolCall.Name) == "" {
		return ports.ToolCallProposal{}, false
	}
	args := envelope.ToolCall.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return ports.ToolCallProposal{
		Name: strings.TrimSpace(envelope.ToolCall.Name),
		Args: args,
		Raw:  raw,
	}, true
}

func (p *ReplyParser) fixJSON(s string) string {
	for _, re := range p.cleanup {
		s = re.ReplaceAllString(s, "$1")
	}
	return s
}
