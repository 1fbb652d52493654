package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

type fixtureTool struct {
	spec ports.ToolSpec
}

func (t *fixtureTool) Spec() ports.ToolSpec { return t.spec }

func (t *fixtureTool) Invoke(_ context.Context, _ int64, _ json.RawMessage) (any, error) {
	panic("validator fixtures must never execute")
}

func fixtureManifest(t *testing.T) *Manifest {
	t.Helper()
	m := NewManifest()
	require.NoError(t, m.Register(&fixtureTool{spec: ports.ToolSpec{
		Name:        "create_task",
		Description: "Create a task",
		JSONSchema: []byte(`{
			"type": "object",
			"properties": {
				"title":       {"type": "string", "minLength": 1, "maxLength": 500},
				"description": {"type": "string", "maxLength": 1000},
				"user_id":     {"type": "integer", "minimum": 1}
			},
			"required": ["title"],
			"additionalProperties": false
		}`),
		Destructive: false,
		Retryable:   false,
	}}))
	require.NoError(t, m.Register(&fixtureTool{spec: ports.ToolSpec{
		Name:        "delete_task",
		Description: "Delete a task",
		JSONSchema: []byte(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "integer", "minimum": 1},
				"user_id": {"type": "integer", "minimum": 1}
			},
			"required": ["task_id"],
			"additionalProperties": false
		}`),
		Destructive: true,
		Retryable:   true,
	}}))
	return m
}

func fixtureValidator(t *testing.T) *Validator {
	t.Helper()
	return NewValidator(fixtureManifest(t), NewScanner())
}

func proposal(name, args string) ports.ToolCallProposal {
	return ports.ToolCallProposal{Name: name, Args: json.RawMessage(args), Raw: args}
}

func TestValidateApprovesWellFormedCall(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("create_task", `{"title":"buy milk"}`), Identity{UserID: 7}, nil)

	assert.True(t, verdict.Approved)
	assert.Empty(t, verdict.Violations)
}

func TestValidateUnknownTool(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("drop_database", `{}`), Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "name", verdict.Violations[0].Field)
	assert.Equal(t, "unknown_tool", verdict.Violations[0].Rule)
}

func TestValidateMalformedArguments(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("create_task", `{"title":`), Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "arguments", verdict.Violations[0].Field)
	assert.Equal(t, "invalid_json", verdict.Violations[0].Rule)
}

func TestValidateNonObjectArguments(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("create_task", `"just a string"`), Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "invalid_json", verdict.Violations[0].Rule)
}

// A destructive call without its target id yields exactly one violation:
// the schema stage and the mutation stage both flag task_id as required,
// and the verdict reports the pair once.
func TestValidateDeleteWithoutID(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("delete_task", `{}`), Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "task_id", verdict.Violations[0].Field)
	assert.Equal(t, "required", verdict.Violations[0].Rule)
}

func TestValidateDeleteWithEmptyArgs(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(ports.ToolCallProposal{Name: "delete_task"}, Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "task_id", verdict.Violations[0].Field)
	assert.Equal(t, "required", verdict.Violations[0].Rule)
}

// Referencing another user's task is rejected as an ownership violation,
// not a missing-task error.
func TestValidateForeignTask(t *testing.T) {
	v := fixtureValidator(t)
	facts := OwnerFacts{42: 99}

	verdict := v.Validate(proposal("delete_task", `{"task_id":42}`), Identity{UserID: 7}, facts)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "task_id", verdict.Violations[0].Field)
	assert.Equal(t, "ownership", verdict.Violations[0].Rule)
}

func TestValidateOwnedTask(t *testing.T) {
	v := fixtureValidator(t)
	facts := OwnerFacts{42: 7}

	verdict := v.Validate(proposal("delete_task", `{"task_id":42}`), Identity{UserID: 7}, facts)

	assert.True(t, verdict.Approved)
}

// An id with no ownership fact passes the gate; the dispatcher reports
// not-found without revealing whether the task exists for someone else.
func TestValidateUntrackedTaskPasses(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("delete_task", `{"task_id":42}`), Identity{UserID: 7}, OwnerFacts{})

	assert.True(t, verdict.Approved)
}

func TestValidateIdentityMismatch(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("create_task", `{"title":"x","user_id":99}`), Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "user_id", verdict.Violations[0].Field)
	assert.Equal(t, "identity", verdict.Violations[0].Rule)
}

func TestValidateIdentityMatchPasses(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("create_task", `{"title":"x","user_id":7}`), Identity{UserID: 7}, nil)

	assert.True(t, verdict.Approved)
}

func TestValidateBlankTitle(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("create_task", `{"title":"   "}`), Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "title", verdict.Violations[0].Field)
	assert.Equal(t, "blank", verdict.Violations[0].Rule)
}

func TestValidateInjectionContent(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(
		proposal("create_task", `{"title":"drop table users"}`),
		Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "title", verdict.Violations[0].Field)
	assert.Equal(t, "unsafe_content", verdict.Violations[0].Rule)
}

func TestValidateUnknownField(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("delete_task", `{"task_id":5,"force":true}`), Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "force", verdict.Violations[0].Field)
	assert.Equal(t, "unknown_field", verdict.Violations[0].Rule)
}

// A wrongly typed id trips both the schema and the mutation stage; the
// verdict still carries a single coherent violation for the field.
func TestValidateNonIntegerTaskID(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("delete_task", `{"task_id":"abc"}`), Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "task_id", verdict.Violations[0].Field)
	assert.Equal(t, "invalid_type", verdict.Violations[0].Rule)
}

// Every failing stage contributes to one verdict; nothing short-circuits.
func TestValidateAccumulatesAcrossStages(t *testing.T) {
	v := fixtureValidator(t)

	verdict := v.Validate(proposal("create_task",
		`{"title":"  ","description":"delete from tasks","user_id":99}`),
		Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	rules := make(map[string]string, len(verdict.Violations))
	for _, violation := range verdict.Violations {
		rules[violation.Field] = violation.Rule
	}
	assert.Equal(t, "blank", rules["title"])
	assert.Equal(t, "unsafe_content", rules["description"])
	assert.Equal(t, "identity", rules["user_id"])
	assert.GreaterOrEqual(t, len(verdict.Violations), 3)
}

func TestValidateTitleTooLong(t *testing.T) {
	v := fixtureValidator(t)
	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	args, err := json.Marshal(map[string]any{"title": string(long)})
	require.NoError(t, err)

	verdict := v.Validate(ports.ToolCallProposal{Name: "create_task", Args: args}, Identity{UserID: 7}, nil)

	assert.False(t, verdict.Approved)
	require.Len(t, verdict.Violations, 1)
	assert.Equal(t, "title", verdict.Violations[0].Field)
	assert.Equal(t, "length", verdict.Violations[0].Rule)
}
