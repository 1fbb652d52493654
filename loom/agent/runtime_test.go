package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/taskloom/taskloom/loom/agent/adapters"
	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/agent/tools"
	loomdb "github.com/taskloom/taskloom/loom/db"
	"github.com/taskloom/taskloom/loom/tasks"
)

// stubEngine replays scripted replies in order, repeating the last one.
type stubEngine struct {
	replies []ports.EngineReply
	calls   int
}

func (e *stubEngine) Generate(ctx context.Context, _ ports.GenerateRequest) (ports.EngineReply, error) {
	if err := ctx.Err(); err != nil {
		return ports.EngineReply{}, err
	}
	reply := e.replies[min(e.calls, len(e.replies)-1)]
	e.calls++
	return reply, nil
}

func engineProposal(t *testing.T, name string, args map[string]any) ports.EngineReply {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return ports.EngineReply{Proposals: []ports.ToolCallProposal{{Name: name, Args: raw, Raw: string(raw)}}}
}

type runtimeHarness struct {
	runtime *Runtime
	store   *tasks.Store
	conv    *adapters.LibSQLConversationStore
	db      *sql.DB
}

// newRuntimeHarness builds a runtime over a fresh database, the full tool
// manifest, and the given engine, with retry delays short enough to test.
func newRuntimeHarness(t *testing.T, engine ports.ReasoningEngine, opts ...func(*RuntimeConfig, *Deps, *Manifest)) *runtimeHarness {
	t.Helper()

	handle, err := sql.Open("libsql", "file:"+filepath.Join(t.TempDir(), "runtime.db"))
	require.NoError(t, err)
	t.Cleanup(func() { handle.Close() })
	require.NoError(t, loomdb.Migrate(handle))

	store := tasks.NewStore(handle)
	conv := adapters.NewLibSQLConversationStore(handle)

	manifest := NewManifest()
	for _, tool := range tools.All(store) {
		require.NoError(t, manifest.Register(tool))
	}

	cfg := RuntimeConfig{
		Dispatch: DispatchConfig{
			Timeout:    time.Second,
			RetryCount: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		},
	}
	deps := Deps{
		Engine: engine,
		Store:  conv,
		Tasks:  store,
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg, &deps, manifest)
	}

	runtime := NewRuntime(cfg, deps, manifest)
	t.Cleanup(func() { runtime.Shutdown(context.Background()) })

	return &runtimeHarness{runtime: runtime, store: store, conv: conv, db: handle}
}

func (h *runtimeHarness) turnCount(t *testing.T, conversationID string) int {
	t.Helper()
	turns, err := h.conv.LoadTurns(context.Background(), conversationID, 100)
	require.NoError(t, err)
	return len(turns)
}

// A first message creates the task, persists the exchange, and reports
// the created task back.
func TestHandleCreateTaskExchange(t *testing.T) {
	h := newRuntimeHarness(t, adapters.NewStaticEngine())

	reply, err := h.runtime.Handle(context.Background(), ChatRequest{
		UserID:  1,
		Message: "add task: buy milk",
	})
	require.NoError(t, err)
	require.Nil(t, reply.Error)
	assert.NotEmpty(t, reply.ConversationID)
	assert.NotEmpty(t, reply.Message)

	created, ok := reply.ToolResult.(tools.CreatedTask)
	require.True(t, ok, "tool result should be the created task, got %T", reply.ToolResult)
	assert.Equal(t, int64(1), created.TaskID)
	assert.Equal(t, "buy milk", created.Title)

	// Exactly one user turn and one assistant turn were written.
	assert.Equal(t, 2, h.turnCount(t, reply.ConversationID))

	stored, err := h.store.Get(context.Background(), 1, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", stored.Title)
}

// Completing a task and then listing reflects the committed change.
func TestHandleRoundTripCompleteThenList(t *testing.T) {
	h := newRuntimeHarness(t, adapters.NewStaticEngine())
	ctx := context.Background()

	task := &tasks.Task{UserID: 1, Title: "water the plants"}
	require.NoError(t, h.store.Create(ctx, task))

	reply, err := h.runtime.Handle(ctx, ChatRequest{UserID: 1, Message: "complete task #1"})
	require.NoError(t, err)
	require.Nil(t, reply.Error)
	completed, ok := reply.ToolResult.(tools.CompletedTask)
	require.True(t, ok)
	assert.True(t, completed.Completed)

	reply, err = h.runtime.Handle(ctx, ChatRequest{
		ConversationID: reply.ConversationID,
		UserID:         1,
		Message:        "show my completed tasks",
	})
	require.NoError(t, err)
	require.Nil(t, reply.Error)
	listing, ok := reply.ToolResult.(tools.TaskListing)
	require.True(t, ok)
	require.Equal(t, 1, listing.Count)
	assert.True(t, listing.Tasks[0].Completed)
}

// A proposal missing its required task_id is rejected before any
// dispatch, and the rejection is still persisted as an exchange.
func TestHandleRejectsProposalMissingID(t *testing.T) {
	engine := &stubEngine{replies: []ports.EngineReply{engineProposal(t, "delete_task", map[string]any{})}}
	h := newRuntimeHarness(t, engine)

	reply, err := h.runtime.Handle(context.Background(), ChatRequest{UserID: 1, Message: "delete it"})
	require.NoError(t, err)
	require.NotNil(t, reply.Error)
	assert.Equal(t, CategoryValidation, reply.Error.Category)
	require.NotEmpty(t, reply.Error.Violations)
	assert.Equal(t, "task_id", reply.Error.Violations[0].Field)
	assert.Equal(t, "required", reply.Error.Violations[0].Rule)

	assert.Equal(t, 2, h.turnCount(t, reply.ConversationID))
}

// A proposal against another user's task is rejected on ownership, and
// the task survives.
func TestHandleRejectsForeignTask(t *testing.T) {
	engine := &stubEngine{replies: []ports.EngineReply{engineProposal(t, "delete_task", map[string]any{"task_id": 1})}}
	h := newRuntimeHarness(t, engine)
	ctx := context.Background()

	task := &tasks.Task{UserID: 1, Title: "private"}
	require.NoError(t, h.store.Create(ctx, task))

	reply, err := h.runtime.Handle(ctx, ChatRequest{UserID: 2, Message: "delete task 1"})
	require.NoError(t, err)
	require.NotNil(t, reply.Error)
	assert.Equal(t, CategoryValidation, reply.Error.Category)
	require.Len(t, reply.Error.Violations, 1)
	assert.Equal(t, "ownership", reply.Error.Violations[0].Rule)

	_, err = h.store.Get(ctx, 1, task.ID)
	assert.NoError(t, err, "the foreign task must survive")
}

// Plain-text engine replies skip the tool path entirely and still
// persist both turns.
func TestHandleTextReply(t *testing.T) {
	engine := &stubEngine{replies: []ports.EngineReply{{Text: "You have no deadlines today."}}}
	h := newRuntimeHarness(t, engine)

	reply, err := h.runtime.Handle(context.Background(), ChatRequest{UserID: 1, Message: "anything urgent?"})
	require.NoError(t, err)
	require.Nil(t, reply.Error)
	assert.Equal(t, "You have no deadlines today.", reply.Message)
	assert.Nil(t, reply.ToolResult)
	assert.Equal(t, 2, h.turnCount(t, reply.ConversationID))
}

// Follow-up messages rebuild their context from storage: the second
// exchange sees the first one's turns.
func TestHandleStatelessAcrossCalls(t *testing.T) {
	h := newRuntimeHarness(t, adapters.NewStaticEngine())
	ctx := context.Background()

	first, err := h.runtime.Handle(ctx, ChatRequest{UserID: 1, Message: "add task: buy milk"})
	require.NoError(t, err)

	second, err := h.runtime.Handle(ctx, ChatRequest{
		ConversationID: first.ConversationID,
		UserID:         1,
		Message:        "show my tasks",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, 4, h.turnCount(t, first.ConversationID))
}

// Referencing a conversation owned by someone else fails the request
// outright; no turn is written anywhere.
func TestHandleForeignConversation(t *testing.T) {
	h := newRuntimeHarness(t, adapters.NewStaticEngine())
	ctx := context.Background()

	first, err := h.runtime.Handle(ctx, ChatRequest{UserID: 1, Message: "add task: buy milk"})
	require.NoError(t, err)

	_, err = h.runtime.Handle(ctx, ChatRequest{
		ConversationID: first.ConversationID,
		UserID:         2,
		Message:        "show my tasks",
	})
	require.ErrorIs(t, err, ports.ErrNotOwned)
	assert.Equal(t, 2, h.turnCount(t, first.ConversationID))
}

// An idempotency key replays the recorded reply instead of re-running
// the create.
func TestHandleIdempotentCreateReplay(t *testing.T) {
	h := newRuntimeHarness(t, adapters.NewStaticEngine(), func(_ *RuntimeConfig, deps *Deps, _ *Manifest) {
		deps.Cache = adapters.NewLRUCache(16)
	})
	ctx := context.Background()

	req := ChatRequest{UserID: 1, Message: "add task: buy milk", IdempotencyKey: "retry-1"}

	first, err := h.runtime.Handle(ctx, req)
	require.NoError(t, err)
	require.Nil(t, first.Error)

	second, err := h.runtime.Handle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	list, err := h.store.List(ctx, 1, tasks.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1, "the replayed request must not create a second task")
}

// An empty message is rejected locally without consulting the engine.
func TestHandleEmptyMessage(t *testing.T) {
	engine := &stubEngine{replies: []ports.EngineReply{{Text: "unused"}}}
	h := newRuntimeHarness(t, engine)

	reply, err := h.runtime.Handle(context.Background(), ChatRequest{UserID: 1, Message: "   "})
	require.NoError(t, err)
	require.NotNil(t, reply.Error)
	assert.Equal(t, CategoryValidation, reply.Error.Category)
	assert.Zero(t, engine.calls)
}

// faultyTool panics on invocation.
type faultyTool struct{}

func (faultyTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{Name: "faulty_op", JSONSchema: []byte(`{"type":"object"}`)}
}

func (faultyTool) Invoke(context.Context, int64, json.RawMessage) (any, error) {
	panic("wiring fault")
}

// A tool panic surfaces as internal_error and the exchange is still
// written: one user turn, one assistant turn.
func TestHandlePersistsExchangeWhenToolPanics(t *testing.T) {
	engine := &stubEngine{replies: []ports.EngineReply{engineProposal(t, "faulty_op", map[string]any{})}}
	h := newRuntimeHarness(t, engine, func(_ *RuntimeConfig, _ *Deps, manifest *Manifest) {
		require.NoError(t, manifest.Register(faultyTool{}))
	})

	reply, err := h.runtime.Handle(context.Background(), ChatRequest{UserID: 1, Message: "run the faulty thing"})
	require.NoError(t, err)
	require.NotNil(t, reply.Error)
	assert.Equal(t, CategoryInternal, reply.Error.Category)

	assert.Equal(t, 2, h.turnCount(t, reply.ConversationID))
}

// slowTool blocks long enough for the request to be cancelled mid-dispatch.
type slowTool struct {
	started chan struct{}
	done    chan struct{}
}

func (s *slowTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{Name: "slow_op", JSONSchema: []byte(`{"type":"object"}`)}
}

func (s *slowTool) Invoke(ctx context.Context, _ int64, _ json.RawMessage) (any, error) {
	close(s.started)
	time.Sleep(30 * time.Millisecond)
	close(s.done)
	return map[string]any{"ok": true}, nil
}

// Cancelling the request after validation does not abandon the dispatch:
// the mutation and its exchange still commit (at-least-once).
func TestHandleDispatchSurvivesCancellation(t *testing.T) {
	tool := &slowTool{started: make(chan struct{}), done: make(chan struct{})}
	engine := &stubEngine{replies: []ports.EngineReply{engineProposal(t, "slow_op", map[string]any{})}}
	h := newRuntimeHarness(t, engine, func(_ *RuntimeConfig, _ *Deps, manifest *Manifest) {
		require.NoError(t, manifest.Register(tool))
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-tool.started
		cancel()
	}()

	_, err := h.runtime.Handle(ctx, ChatRequest{UserID: 1, Message: "run the slow thing"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, h.runtime.Shutdown(context.Background()))
	select {
	case <-tool.done:
	default:
		t.Fatal("dispatch did not run to completion")
	}
}
