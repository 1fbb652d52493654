package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyParserFencedEnvelope(t *testing.T) {
	parser := NewReplyParser()

	text := "On it!\n```json\n{\"tool_call\": {\"name\": \"create_task\", \"arguments\": {\"title\": \"buy milk\"}}}\n```"
	remaining, proposals := parser.Parse(text)

	require.Len(t, proposals, 1)
	assert.Equal(t, "create_task", proposals[0].Name)
	assert.JSONEq(t, `{"title": "buy milk"}`, string(proposals[0].Args))
	assert.Equal(t, "On it!", remaining, "the call syntax must not leak into the reply")
}

func TestReplyParserBareEnvelope(t *testing.T) {
	parser := NewReplyParser()

	remaining, proposals := parser.Parse(`{"tool_call": {"name": "delete_task", "arguments": {"task_id": 7}}}`)

	require.Len(t, proposals, 1)
	assert.Equal(t, "delete_task", proposals[0].Name)
	assert.JSONEq(t, `{"task_id": 7}`, string(proposals[0].Args))
	assert.Empty(t, remaining)
}

func TestReplyParserUnfencedBlock(t *testing.T) {
	parser := NewReplyParser()

	// Fence omitted but the envelope fills the whole reply.
	remaining, proposals := parser.Parse("  {\"tool_call\": {\"name\": \"list_tasks\"}}  ")

	require.Len(t, proposals, 1)
	assert.Equal(t, "list_tasks", proposals[0].Name)
	assert.JSONEq(t, `{}`, string(proposals[0].Args), "missing arguments default to an empty object")
	assert.Empty(t, remaining)
}

func TestReplyParserLegacyArray(t *testing.T) {
	parser := NewReplyParser()

	remaining, proposals := parser.Parse(`[{"name": "complete_task", "arguments": {"task_id": 3}}]`)

	require.Len(t, proposals, 1)
	assert.Equal(t, "complete_task", proposals[0].Name)
	assert.JSONEq(t, `{"task_id": 3}`, string(proposals[0].Args))
	assert.Empty(t, remaining)
}

func TestReplyParserTrailingComma(t *testing.T) {
	parser := NewReplyParser()

	text := "```json\n{\"tool_call\": {\"name\": \"create_task\", \"arguments\": {\"title\": \"buy milk\",}}}\n```"
	_, proposals := parser.Parse(text)

	require.Len(t, proposals, 1)
	assert.JSONEq(t, `{"title": "buy milk"}`, string(proposals[0].Args))
}

func TestReplyParserPlainText(t *testing.T) {
	parser := NewReplyParser()

	remaining, proposals := parser.Parse("You have 3 tasks: milk, plants, email.")

	assert.Empty(t, proposals)
	assert.Equal(t, "You have 3 tasks: milk, plants, email.", remaining)
}

func TestReplyParserIgnoresNonCallJSON(t *testing.T) {
	parser := NewReplyParser()

	// A fenced block without a tool_call key is just content.
	text := "Here is the data:\n```json\n{\"tasks\": [1, 2, 3]}\n```"
	remaining, proposals := parser.Parse(text)

	assert.Empty(t, proposals)
	assert.Contains(t, remaining, `"tasks"`)
}

func TestReplyParserRejectsEmptyName(t *testing.T) {
	parser := NewReplyParser()

	_, proposals := parser.Parse(`{"tool_call": {"name": "  ", "arguments": {}}}`)
	assert.Empty(t, proposals)
}

func TestReplyParserMultipleFencedBlocks(t *testing.T) {
	parser := NewReplyParser()

	text := "```json\n{\"tool_call\": {\"name\": \"create_task\", \"arguments\": {\"title\": \"a\"}}}\n```\n" +
		"```json\n{\"tool_call\": {\"name\": \"create_task\", \"arguments\": {\"title\": \"b\"}}}\n```"
	remaining, proposals := parser.Parse(text)

	require.Len(t, proposals, 2)
	assert.Empty(t, remaining)
	assert.JSONEq(t, `{"title": "a"}`, string(proposals[0].Args))
	assert.JSONEq(t, `{"title": "b"}`, string(proposals[1].Args))
}

func TestReplyParserKeepsRawPayload(t *testing.T) {
	parser := NewReplyParser()

	inner := `{"tool_call": {"name": "delete_task", "arguments": {"task_id": 9}}}`
	_, proposals := parser.Parse(inner)

	require.Len(t, proposals, 1)
	assert.Equal(t, inner, proposals[0].Raw)
}
