package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/agent/tools"
	"github.com/taskloom/taskloom/loom/tasks"
)

// DispatchConfig bounds one tool execution, retries included.
type DispatchConfig struct {
	Timeout    time.Duration // wall clock for the whole dispatch
	RetryCount int           // additional attempts after the first
	BaseDelay  time.Duration // first backoff delay, doubles per attempt
	MaxDelay   time.Duration // per-wait ceiling
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// Dispatcher executes exactly one approved tool call per invocation.
// Transient backend failures are retried with capped exponential backoff,
// and only for tools whose spec marks them safe to re-run; everything
// else fails on the first attempt.
type Dispatcher struct {
	cfg    DispatchConfig
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher with the given bounds.
func NewDispatcher(cfg DispatchConfig, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{cfg: cfg.withDefaults(), logger: logger}
}

// Dispatch runs the tool to completion and reports the classified result.
// It never re-runs a non-retryable tool: a create that failed may still
// have landed, and re-running it risks a duplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, tool ports.Tool, userID int64, args json.RawMessage) ports.ToolResult {
	spec := tool.Spec()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	backoff := retry.WithCappedDuration(d.cfg.MaxDelay, retry.NewExponential(d.cfg.BaseDelay))
	backoff = retry.WithMaxRetries(uint64(d.cfg.RetryCount), backoff)

	attempts := 0
	var payload any
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		out, invokeErr := tool.Invoke(ctx, userID, args)
		if invokeErr != nil {
			if spec.Retryable && classifyToolError(invokeErr) == ports.ErrorTransient {
				d.logger.Warn().
					Str("tool", spec.Name).
					Int("attempt", attempts).
					Err(invokeErr).
					Msg("transient tool failure")
				return retry.RetryableError(invokeErr)
			}
			return invokeErr
		}
		payload = out
		return nil
	})
	if err != nil {
		kind := classifyToolError(err)
		d.logger.Error().
			Str("tool", spec.Name).
			Str("kind", kind.String()).
			Int("attempts", attempts).
			Err(err).
			Msg("tool dispatch failed")
		return ports.ToolResult{
			OK:       false,
			Message:  failureSummary(kind),
			Kind:     kind,
			Err:      err,
			Attempts: attempts,
		}
	}
	result := ports.ToolResult{OK: true, Payload: payload, Attempts: attempts}
	if s, ok := payload.(ports.Summarizer); ok {
		result.Message = s.Summary()
	}
	return result
}

// classifyToolError maps a tool failure onto the closed error kinds. A
// dispatch that ran out of time counts as transient: the backend may
// well be healthy again on the next turn.
func classifyToolError(err error) ports.ErrorKind {
	switch {
	case err == nil:
		return ports.ErrorNone
	case errors.Is(err, tools.ErrInvalidArgument):
		return ports.ErrorInvalid
	case errors.Is(err, tasks.ErrNotFound):
		return ports.ErrorNotFound
	case errors.Is(err, tasks.ErrConflict):
		return ports.ErrorConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ports.ErrorTransient
	case tasks.IsTransient(err):
		return ports.ErrorTransient
	default:
		return ports.ErrorInternal
	}
}

func failureSummary(kind ports.ErrorKind) string {
	switch kind {
	case ports.ErrorInvalid:
		return "the arguments are invalid"
	case ports.ErrorNotFound:
		return "the task does not exist"
	case ports.ErrorConflict:
		return "the task changed concurrently"
	case ports.ErrorUnauthorized:
		return "the task belongs to a different user"
	case ports.ErrorTransient:
		return "the backend is temporarily unavailable"
	default:
		return "the operation failed"
	}
}
