package agentports

import (
	"context"
	"encoding/json"
)

// ErrorKind classifies a tool failure for the normalizer. The zero value
// means no failure.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorInvalid
	ErrorNotFound
	ErrorConflict
	ErrorUnauthorized
	ErrorTransient
	ErrorInternal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorInvalid:
		return "invalid"
	case ErrorNotFound:
		return "not_found"
	case ErrorConflict:
		return "conflict"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorTransient:
		return "transient"
	case ErrorInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ToolSpec describes one callable tool in the static manifest.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for engine selection
	JSONSchema  []byte // JSON schema for args
	Destructive bool   // mutates or removes an existing resource
	Retryable   bool   // safe to re-run on transient failure
}

// ToolResult is the outcome of dispatching one approved operation. Err
// holds internal detail and never crosses the normalizer boundary
// unmodified; Message is a short summary safe to build replies from.
type ToolResult struct {
	OK       bool
	Payload  any
	Message  string
	Kind     ErrorKind
	Err      error
	Attempts int
}

// Tool executes one operation against the task-store collaborator.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, userID int64, args json.RawMessage) (any, error)
}

// Summarizer is implemented by tool payloads that carry a one-line,
// user-safe confirmation of what happened.
type Summarizer interface {
	Summary() string
}
