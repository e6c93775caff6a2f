// Package tools provides the tool action registry: the catalogue of callable
// external actions, their input schemas, argument validation, and invocation
// through a pluggable [Invoker].
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SideEffect classifies what an action does to the outside world. The
// orchestrator uses it when deciding retry and rollback behaviour.
type SideEffect string

const (
	// SideEffectRead has no observable effect (queries, lookups).
	SideEffectRead SideEffect = "read"

	// SideEffectWrite mutates assistant-controlled state (lights, alarms).
	SideEffectWrite SideEffect = "write"

	// SideEffectExternal mutates third-party systems (issue trackers).
	SideEffectExternal SideEffect = "external"
)

// Action declares one callable external operation.
type Action struct {
	// ID uniquely identifies the action (e.g., "programar_alarma").
	ID string

	// Description is a short summary used in decomposition prompts.
	Description string

	// Endpoint is the HTTP endpoint serving the action. May be empty when the
	// deployment has not wired this action; Invoke then fails.
	Endpoint string

	// InputSchema is a JSON Schema document describing the action's arguments.
	InputSchema json.RawMessage

	// OutputKeys are the keys a successful result must contain. Used by the
	// progress tracker's completion validation.
	OutputKeys []string

	// SideEffect classifies the action's effect on the outside world.
	SideEffect SideEffect

	// Idempotent actions may be retried on any failure; non-idempotent ones
	// only on explicitly transient errors.
	Idempotent bool

	// SupportsRollback marks actions with a compensating operation.
	SupportsRollback bool
}

// Sentinel failure classes for action invocation. HTTP adapters wrap their
// errors with one of these so the orchestrator can pick a retry policy with
// [errors.Is].
var (
	// ErrPermanent marks failures that will not succeed on retry (4xx,
	// validation rejections, authentication).
	ErrPermanent = errors.New("permanent failure")

	// ErrTransient marks failures worth retrying (5xx, timeouts, connection
	// resets).
	ErrTransient = errors.New("transient failure")
)

// ErrUnknownAction is returned when an action ID is not registered.
var ErrUnknownAction = errors.New("tools: unknown action")

// ValidationError reports arguments that do not satisfy an action's input
// schema. Validation failures are never retried.
type ValidationError struct {
	ActionID string

	// Missing lists required argument names that were absent.
	Missing []string

	// Extra lists argument names the schema does not allow.
	Extra []string

	// IllTyped lists argument locations whose values have the wrong type.
	IllTyped []string

	// Err is the underlying schema validation error.
	Err error
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "extra: "+strings.Join(e.Extra, ", "))
	}
	if len(e.IllTyped) > 0 {
		parts = append(parts, "ill-typed: "+strings.Join(e.IllTyped, ", "))
	}
	if len(parts) == 0 {
		parts = append(parts, e.Err.Error())
	}
	return fmt.Sprintf("tools: invalid arguments for %s (%s)", e.ActionID, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Err }
