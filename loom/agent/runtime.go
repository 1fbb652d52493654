package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/metrics"
	"github.com/taskloom/taskloom/loom/tasks"
)

// ErrThrottled is returned when the caller exceeded their request budget.
var ErrThrottled = errors.New("rate limited")

// RuntimeConfig tunes one runtime instance. Zero values fall back to
// conservative defaults.
type RuntimeConfig struct {
	HistoryLimit    int           // stored turns fetched per exchange
	Budget          Budget        // reconstruction window
	Options         ports.Options // engine sampling defaults
	Dispatch        DispatchConfig
	ComposeReplies  bool     // second engine pass over tool outcomes
	IdempotencyTTL  int      // seconds a keyed reply is replayable
	BlockedPatterns []string // extra content-safety phrases
}

func (c RuntimeConfig) withDefaults() RuntimeConfig {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.Budget.MaxContextTokens <= 0 {
		c.Budget.MaxContextTokens = 4000
	}
	if c.Budget.MinRecentTurns <= 0 {
		c.Budget.MinRecentTurns = 4
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 600
	}
	return c
}

// Deps are the runtime's collaborators. Cache, Limiter, and Tracer may be
// nil; no-op stand-ins are substituted so call sites never branch.
type Deps struct {
	Engine  ports.ReasoningEngine
	Store   ports.ConversationStore
	Tasks   *tasks.Store
	Cache   ports.Cache
	Limiter ports.RateLimiter
	Tracer  ports.Tracer
	Logger  zerolog.Logger
}

// ChatRequest is one inbound message from an authenticated user.
type ChatRequest struct {
	ConversationID string
	UserID         int64
	Message        string
	IdempotencyKey string
}

// Runtime handles chat exchanges statelessly: every call reconstructs its
// context from the conversation store, runs the engine, gates any tool
// proposal, dispatches at most one approved operation, and persists the
// finished exchange. No state survives between calls except through the
// store.
type Runtime struct {
	cfg        RuntimeConfig
	deps       Deps
	manifest   *Manifest
	rebuild    *Reconstructor
	validator  *Validator
	dispatcher *Dispatcher
	normalizer *Normalizer
	prompts    *PromptBuilder
	parser     *ReplyParser
	detached   *conc.WaitGroup
}

// NewRuntime wires a runtime over the given tool manifest.
func NewRuntime(cfg RuntimeConfig, deps Deps, manifest *Manifest) *Runtime {
	cfg = cfg.withDefaults()
	if deps.Cache == nil {
		deps.Cache = noOpCache{}
	}
	if deps.Limiter == nil {
		deps.Limiter = noOpLimiter{}
	}
	if deps.Tracer == nil {
		deps.Tracer = noOpTracer{}
	}
	return &Runtime{
		cfg:        cfg,
		deps:       deps,
		manifest:   manifest,
		rebuild:    NewReconstructor(cfg.Budget),
		validator:  NewValidator(manifest, NewScanner(cfg.BlockedPatterns...)),
		dispatcher: NewDispatcher(cfg.Dispatch, deps.Logger),
		normalizer: NewNormalizer(deps.Logger),
		prompts:    NewPromptBuilder(),
		parser:     NewReplyParser(),
		detached:   conc.NewWaitGroup(),
	}
}

// Handle runs one exchange to completion. Replies carry agent-level
// outcomes, including the closed error categories; a non-nil error means
// the request itself could not be served (throttled, foreign
// conversation, cancelled).
func (r *Runtime) Handle(ctx context.Context, req ChatRequest) (Reply, error) {
	if req.UserID <= 0 {
		return Reply{}, errors.New("authenticated user id required")
	}
	if strings.TrimSpace(req.Message) == "" {
		reply := r.normalizer.Rejection(Verdict{Violations: []Violation{
			{Field: "message", Rule: "required", Message: "message must not be empty"},
		}})
		return r.respond(reply, req.ConversationID, "empty_message"), nil
	}

	release, err := r.deps.Limiter.Acquire(ctx, fmt.Sprintf("user:%d", req.UserID))
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	defer release()

	ctx, end := r.deps.Tracer.StartSpan(ctx, "chat.exchange", map[string]any{
		"user_id":      req.UserID,
		"conversation": req.ConversationID,
	})
	var retErr error
	defer func() { end(retErr) }()

	idemKey := ""
	if req.IdempotencyKey != "" {
		idemKey = fmt.Sprintf("idem:%d:%s", req.UserID, req.IdempotencyKey)
		if cached, ok := r.deps.Cache.Get(ctx, idemKey); ok {
			var reply Reply
			if err := json.Unmarshal(cached, &reply); err == nil {
				r.deps.Logger.Info().Str("key", req.IdempotencyKey).Msg("replayed idempotent exchange")
				return r.respond(reply, reply.ConversationID, "replay"), nil
			}
		}
	}

	conv, err := r.deps.Store.GetOrCreate(ctx, req.ConversationID, req.UserID)
	if err != nil {
		if errors.Is(err, ports.ErrNotOwned) {
			retErr = err
			return Reply{}, err
		}
		return r.respond(r.normalizer.StoreFailure(err), req.ConversationID, "store_failed"), nil
	}

	stored, err := r.deps.Store.LoadTurns(ctx, conv.ID, r.cfg.HistoryLimit)
	if err != nil {
		return r.respond(r.normalizer.StoreFailure(err), conv.ID, "store_failed"), nil
	}

	turns, stats := r.rebuild.Rebuild(stored, ports.Turn{Role: "user", Content: req.Message})
	for _, warning := range stats.Warnings {
		r.deps.Logger.Warn().Str("conversation", conv.ID).Str("detail", warning).Msg("history warning")
	}
	metrics.HistoryDuplicates.Add(float64(stats.DuplicatesRemoved))
	if stats.Truncated {
		metrics.HistoryTruncations.Inc()
	}

	engineReq := r.prompts.Build(turns, r.manifest, r.cfg.Options, map[string]string{
		"conversation": conv.ID,
	})
	engineStart := time.Now()
	engineReply, err := r.deps.Engine.Generate(ctx, engineReq)
	metrics.EngineLatency.Observe(time.Since(engineStart).Seconds())
	if err != nil {
		reply := r.normalizer.EngineFailure(err)
		reply, _ = r.persistOrFail(ctx, conv.ID, req.Message, reply)
		return r.respond(reply, conv.ID, "engine_failed"), nil
	}
	r.deps.Tracer.Event(ctx, "engine.reply", map[string]any{
		"proposals": len(engineReply.Proposals),
		"text_len":  len(engineReply.Text),
	})

	text := engineReply.Text
	proposals := engineReply.Proposals
	if len(proposals) == 0 {
		text, proposals = r.parser.Parse(text)
	}

	if len(proposals) == 0 {
		reply, ok := r.persistOrFail(ctx, conv.ID, req.Message, r.normalizer.Text(text))
		if !ok {
			return r.respond(reply, conv.ID, "store_failed"), nil
		}
		return r.respond(reply, conv.ID, "text"), nil
	}

	proposal := proposals[0]
	if len(proposals) > 1 {
		r.deps.Logger.Warn().
			Str("conversation", conv.ID).
			Int("dropped", len(proposals)-1).
			Msg("multiple tool proposals; dispatching the first only")
	}

	verdict := r.validator.Validate(proposal, Identity{UserID: req.UserID}, r.ownerFacts(ctx, proposal))
	if !verdict.Approved {
		for _, violation := range verdict.Violations {
			metrics.ValidationRejections.WithLabelValues(violation.Rule).Inc()
		}
		reply, ok := r.persistOrFail(ctx, conv.ID, req.Message, r.normalizer.Rejection(verdict))
		if !ok {
			return r.respond(reply, conv.ID, "store_failed"), nil
		}
		return r.respond(reply, conv.ID, "validation_rejected"), nil
	}

	tool, _ := r.manifest.Get(proposal.Name)
	reply, err := r.dispatchAndPersist(ctx, conv.ID, req, tool, proposal, engineReq.Messages, text)
	if err != nil {
		retErr = err
		return Reply{}, err
	}
	outcome := "tool_success"
	if reply.Error != nil {
		outcome = "tool_failed"
	} else if idemKey != "" {
		if encoded, encErr := json.Marshal(reply); encErr == nil {
			if cacheErr := r.deps.Cache.Set(ctx, idemKey, encoded, r.cfg.IdempotencyTTL); cacheErr != nil {
				r.deps.Logger.Warn().Err(cacheErr).Msg("idempotency record not stored")
			}
		}
	}
	return r.respond(reply, conv.ID, outcome), nil
}

// dispatchAndPersist runs the approved call in a detached goroutine so
// that cancellation of the originating request cannot abandon a mutation
// mid-flight: once validation approves, the dispatch and its persistence
// run to completion regardless.
func (r *Runtime) dispatchAndPersist(ctx context.Context, conversationID string, req ChatRequest, tool ports.Tool, proposal ports.ToolCallProposal, messages []ports.ChatMessage, initialText string) (Reply, error) {
	outcome := make(chan Reply, 1)
	dctx := context.WithoutCancel(ctx)

	r.detached.Go(func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.deps.Logger.Error().Interface("panic", rec).Str("tool", proposal.Name).Msg("dispatch panicked")
				reply := r.normalizer.Internal(fmt.Errorf("dispatch panic: %v", rec))
				// The exchange still happened; record it like any other failure.
				if err := r.normalizer.PersistExchange(dctx, r.deps.Store, conversationID, req.Message, reply.Message); err != nil {
					r.deps.Logger.Error().Err(err).Str("conversation", conversationID).Msg("exchange not persisted after dispatch")
				}
				outcome <- reply
			}
		}()

		start := time.Now()
		result := r.dispatcher.Dispatch(dctx, tool, req.UserID, proposal.Args)
		metrics.DispatchLatency.WithLabelValues(proposal.Name).Observe(time.Since(start).Seconds())
		metrics.DispatchAttempts.Observe(float64(result.Attempts))

		var reply Reply
		if result.OK {
			metrics.ToolDispatches.WithLabelValues(proposal.Name, "success").Inc()
			composed := r.composeReply(dctx, messages, initialText, proposal.Name, result)
			reply = r.normalizer.Success(result, composed)
		} else {
			metrics.ToolDispatches.WithLabelValues(proposal.Name, result.Kind.String()).Inc()
			reply = r.normalizer.Failure(result)
		}

		// The tool already ran; a lost history write must not turn a
		// committed mutation into a retry prompt.
		if err := r.normalizer.PersistExchange(dctx, r.deps.Store, conversationID, req.Message, reply.Message); err != nil {
			r.deps.Logger.Error().Err(err).Str("conversation", conversationID).Msg("exchange not persisted after dispatch")
		}
		outcome <- reply
	})

	select {
	case reply := <-outcome:
		return reply, nil
	case <-ctx.Done():
		metrics.DetachedDispatches.Inc()
		r.detached.Go(func() {
			defer metrics.DetachedDispatches.Dec()
			reply := <-outcome
			r.deps.Logger.Info().
				Str("conversation", conversationID).
				Str("tool", proposal.Name).
				Bool("errored", reply.Error != nil).
				Msg("dispatch completed after request cancellation")
		})
		return Reply{}, fmt.Errorf("request cancelled, dispatch continues: %w", context.Cause(ctx))
	}
}

// composeReply asks the engine to phrase the tool outcome as a natural
// reply. Failures fall back to the tool's own confirmation line.
func (r *Runtime) composeReply(ctx context.Context, messages []ports.ChatMessage, initialText, toolName string, result ports.ToolResult) string {
	if !r.cfg.ComposeReplies {
		return ""
	}
	summary := result.Message
	if summary == "" {
		summary = "Executed"
	}
	followUp := make([]ports.ChatMessage, 0, len(messages)+2)
	followUp = append(followUp, messages...)
	if strings.TrimSpace(initialText) != "" {
		followUp = append(followUp, ports.ChatMessage{Role: "assistant", Content: initialText})
	}
	followUp = append(followUp, ports.ChatMessage{
		Role: "user",
		Content: fmt.Sprintf("Tool execution results:\nTool %s: %s\n\nProvide a natural language response to the user based on these results.",
			toolName, summary),
	})

	reply, err := r.deps.Engine.Generate(ctx, ports.GenerateRequest{
		System:   systemPersona,
		Messages: followUp,
		Options:  r.cfg.Options,
	})
	if err != nil {
		r.deps.Logger.Warn().Err(err).Msg("reply composition failed, using tool confirmation")
		return ""
	}
	if len(reply.Proposals) > 0 {
		// The compose pass answers, it does not act.
		return ""
	}
	return strings.TrimSpace(reply.Text)
}

// ownerFacts pre-fetches ownership for any task the proposal names, so
// the validator can stay free of I/O. The task store enforces scoping on
// every query regardless; these facts only sharpen the verdict.
func (r *Runtime) ownerFacts(ctx context.Context, proposal ports.ToolCallProposal) OwnerFacts {
	if r.deps.Tasks == nil || len(proposal.Args) == 0 {
		return nil
	}
	var args struct {
		TaskID *int64 `json:"task_id"`
	}
	if err := json.Unmarshal(proposal.Args, &args); err != nil || args.TaskID == nil || *args.TaskID <= 0 {
		return nil
	}
	owner, err := r.deps.Tasks.Owner(ctx, *args.TaskID)
	if err != nil {
		if !errors.Is(err, tasks.ErrNotFound) {
			r.deps.Logger.Warn().Err(err).Int64("task_id", *args.TaskID).Msg("owner lookup failed")
		}
		return nil
	}
	return OwnerFacts{*args.TaskID: owner}
}

// persistOrFail commits the exchange before the reply is released. Used
// on paths where no mutation has happened yet, so a failed write can
// safely ask the caller to retry.
func (r *Runtime) persistOrFail(ctx context.Context, conversationID, userMessage string, reply Reply) (Reply, bool) {
	if err := r.normalizer.PersistExchange(ctx, r.deps.Store, conversationID, userMessage, reply.Message); err != nil {
		return r.normalizer.StoreFailure(err), false
	}
	return reply, true
}

func (r *Runtime) respond(reply Reply, conversationID, outcome string) Reply {
	reply.ConversationID = conversationID
	metrics.ExchangesTotal.WithLabelValues(outcome).Inc()
	return reply
}

// Shutdown waits for detached dispatches to finish persisting.
func (r *Runtime) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		if rec := r.detached.WaitAndRecover(); rec != nil {
			r.deps.Logger.Error().Interface("panic", rec.Value).Msg("detached dispatch panicked")
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain detached dispatches: %w", ctx.Err())
	}
}
