package adapters

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// StaticEngine is a deterministic, model-free engine for development and
// tests. It understands a small set of literal commands and never calls
// the network; the same message always yields the same decision.
type StaticEngine struct{}

// NewStaticEngine creates the rule-based engine used when no provider is
// configured.
func NewStaticEngine() *StaticEngine {
	return &StaticEngine{}
}

var (
	staticCreate   = regexp.MustCompile(`(?i)^(?:add|create)\s+(?:a\s+)?(?:new\s+)?task(?:\s+(?:called|named|to))?[:\s]\s*(.+)$`)
	staticComplete = regexp.MustCompile(`(?i)^(?:complete|finish)\s+(?:task\s+)?#?(\d+)$`)
	staticDelete   = regexp.MustCompile(`(?i)^(?:delete|remove)\s+(?:task\s+)?#?(\d+)$`)
	staticUpdate   = regexp.MustCompile(`(?i)^(?:rename|update)\s+(?:task\s+)?#?(\d+)\s+(?:to\s+)?(.+)$`)
	staticList     = regexp.MustCompile(`(?i)\b(?:show|list)\b.*\btasks?\b`)
)

// Generate maps the latest user message onto a tool proposal or a short
// help text.
func (e *StaticEngine) Generate(ctx context.Context, req ports.GenerateRequest) (ports.EngineReply, error) {
	if err := ctx.Err(); err != nil {
		return ports.EngineReply{}, err
	}

	message := lastUserMessage(req.Messages)

	if m := staticCreate.FindStringSubmatch(message); m != nil {
		return proposalReply("create_task", map[string]any{"title": strings.TrimSpace(m[1])}), nil
	}
	if m := staticComplete.FindStringSubmatch(message); m != nil {
		return proposalReply("complete_task", map[string]any{"task_id": mustInt(m[1])}), nil
	}
	if m := staticDelete.FindStringSubmatch(message); m != nil {
		return proposalReply("delete_task", map[string]any{"task_id": mustInt(m[1])}), nil
	}
	if m := staticUpdate.FindStringSubmatch(message); m != nil {
		return proposalReply("update_task", map[string]any{
			"task_id": mustInt(m[1]),
			"title":   strings.TrimSpace(m[2]),
		}), nil
	}
	if staticList.MatchString(message) {
		return proposalReply("list_tasks", map[string]any{"filter": listFilter(message)}), nil
	}

	return ports.EngineReply{
		Text: `I can add, list, complete, update, and delete tasks. Try "add task: buy milk" or "show my tasks".`,
	}, nil
}

func lastUserMessage(messages []ports.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

func listFilter(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "pending"), strings.Contains(lower, "open"):
		return "pending"
	case strings.Contains(lower, "completed"), strings.Contains(lower, "done"):
		return "completed"
	default:
		return "all"
	}
}

func proposalReply(name string, args map[string]any) ports.EngineReply {
	raw, _ := json.Marshal(args)
	return ports.EngineReply{
		Proposals: []ports.ToolCallProposal{{Name: name, Args: raw, Raw: string(raw)}},
	}
}

func mustInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Ensure StaticEngine implements the ReasoningEngine interface.
var _ ports.ReasoningEngine = (*StaticEngine)(nil)
