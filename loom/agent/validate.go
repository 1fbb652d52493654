package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	ports "github.com/taskloom/taskloom/loom/agent/ports"
)

// Violation is one reason a proposal was rejected.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Verdict is the pure decision value gating whether a tool call may
// execute. The dispatcher runs if and only if Approved is true.
type Verdict struct {
	Approved   bool
	Violations []Violation
}

// Identity is the authenticated caller.
type Identity struct {
	UserID int64
}

// OwnerFacts maps task id → owning user id, pre-fetched by the runtime for
// any identifier the proposal names. The validator consumes facts instead
// of querying, which keeps it free of I/O and deterministic.
type OwnerFacts map[int64]int64

// Validator is the safety gate between engine output and any side effect.
// Every stage runs to completion and accumulates violations; a single
// rejection reports every problem at once.
type Validator struct {
	manifest *Manifest
	scanner  *Scanner
}

// NewValidator creates a validator over the closed tool manifest.
func NewValidator(manifest *Manifest, scanner *Scanner) *Validator {
	if scanner == nil {
		scanner = NewScanner()
	}
	return &Validator{manifest: manifest, scanner: scanner}
}

// Validate inspects one proposal against schema, identity, content-safety,
// and mutation-safety rules. It performs no I/O and never short-circuits.
func (v *Validator) Validate(proposal ports.ToolCallProposal, caller Identity, facts OwnerFacts) Verdict {
	var violations []Violation

	tool, known := v.manifest.Get(proposal.Name)
	if !known {
		violations = append(violations, Violation{
			Field:   "name",
			Rule:    "unknown_tool",
			Message: "the requested operation does not exist",
		})
	}

	args, argViolation := decodeArgs(proposal.Args)
	if argViolation != nil {
		violations = append(violations, *argViolation)
	}

	if known && argViolation == nil {
		violations = append(violations, v.checkSchema(tool.Spec(), proposal.Args, args)...)
	}
	if argViolation == nil {
		violations = append(violations, v.checkIdentity(args, caller)...)
		violations = append(violations, v.checkContent(args)...)
	}
	if known && argViolation == nil && tool.Spec().Destructive {
		violations = append(violations, v.checkMutation(args, caller, facts)...)
	}

	violations = dedupeViolations(violations)
	return Verdict{Approved: len(violations) == 0, Violations: violations}
}

// decodeArgs parses the argument object; empty args mean no arguments.
func decodeArgs(raw json.RawMessage) (map[string]any, *Violation) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &Violation{
			Field:   "arguments",
			Rule:    "invalid_json",
			Message: "arguments must be a JSON object",
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// checkSchema validates the raw arguments against the tool's JSON schema
// and adds a blank check for required text fields that trim to nothing.
func (v *Validator) checkSchema(spec ports.ToolSpec, raw json.RawMessage, args map[string]any) []Violation {
	var violations []Violation

	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(spec.JSONSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		violations = append(violations, Violation{
			Field:   "arguments",
			Rule:    "invalid_json",
			Message: "arguments could not be checked against the schema",
		})
		return violations
	}
	for _, schemaErr := range result.Errors() {
		violations = append(violations, schemaViolation(schemaErr))
	}

	for _, field := range requiredFields(spec.JSONSchema) {
		value, present := args[field]
		if !present {
			continue // the schema already reported it
		}
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			violations = append(violations, Violation{
				Field:   field,
				Rule:    "blank",
				Message: fmt.Sprintf("%s must not be blank", field),
			})
		}
	}
	return violations
}

// checkIdentity rejects any explicit owner argument that differs from the
// authenticated caller. Unconditional.
func (v *Validator) checkIdentity(args map[string]any, caller Identity) []Violation {
	raw, present := args["user_id"]
	if !present {
		return nil
	}
	id, ok := asInt64(raw)
	if !ok || id != caller.UserID {
		return []Violation{{
			Field:   "user_id",
			Rule:    "identity",
			Message: "operation owner must match the authenticated user",
		}}
	}
	return nil
}

// checkContent scans every string argument for injection-style patterns.
func (v *Validator) checkContent(args map[string]any) []Violation {
	var violations []Violation
	for _, field := range sortedKeys(args) {
		s, isString := args[field].(string)
		if !isString {
			continue
		}
		if _, found := v.scanner.Scan(s); found {
			violations = append(violations, Violation{
				Field:   field,
				Rule:    "unsafe_content",
				Message: fmt.Sprintf("%s contains a blocked pattern", field),
			})
		}
	}
	return violations
}

// checkMutation enforces that destructive operations name an explicit,
// single, owned resource identifier.
func (v *Validator) checkMutation(args map[string]any, caller Identity, facts OwnerFacts) []Violation {
	raw, present := args["task_id"]
	if !present || raw == nil {
		return []Violation{{
			Field:   "task_id",
			Rule:    "required",
			Message: "destructive operations require an explicit task_id",
		}}
	}
	id, ok := asInt64(raw)
	if !ok || id <= 0 {
		return []Violation{{
			Field:   "task_id",
			Rule:    "invalid_type",
			Message: "task_id must be a positive integer",
		}}
	}
	if owner, tracked := facts[id]; tracked && owner != caller.UserID {
		return []Violation{{
			Field:   "task_id",
			Rule:    "ownership",
			Message: "the task belongs to a different user",
		}}
	}
	// An untracked id may simply not exist; the dispatcher reports
	// not-found without leaking whose task it is.
	return nil
}

// schemaViolation maps a gojsonschema error onto the closed violation
// shape. Required and additional-property errors report at the object
// root, so the offending property name comes from the error details.
func schemaViolation(err gojsonschema.ResultError) Violation {
	field := err.Field()
	rule := err.Type()
	if rule == "required" || rule == "additional_property_not_allowed" {
		if prop, ok := err.Details()["property"].(string); ok {
			field = prop
		}
	}
	switch rule {
	case "string_gte", "string_lte":
		rule = "length"
	case "number_gte", "number_lte", "number_gt", "number_lt":
		rule = "range"
	case "additional_property_not_allowed":
		rule = "unknown_field"
	}
	return Violation{
		Field:   field,
		Rule:    rule,
		Message: fmt.Sprintf("%s is invalid", field),
	}
}

// requiredFields extracts the schema's required list.
func requiredFields(schema []byte) []string {
	var doc struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil
	}
	return doc.Required
}

func dedupeViolations(violations []Violation) []Violation {
	type key struct{ field, rule string }
	seen := make(map[key]bool, len(violations))
	out := violations[:0]
	for _, violation := range violations {
		k := key{violation.Field, violation.Rule}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, violation)
	}
	return out
}

func asInt64(value any) (int64, bool) {
	switch n := value.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// sortedKeys keeps verdicts deterministic across map iteration order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
