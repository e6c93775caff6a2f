package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
)

// Invoker executes actions against their backing endpoints. Implementations
// must be safe for concurrent use.
type Invoker interface {
	// Invoke calls the action with the given arguments and returns the JSON
	// result object. Failures are wrapped with [ErrPermanent] or
	// [ErrTransient].
	Invoke(ctx context.Context, action Action, args map[string]any) (map[string]any, error)

	// Rollback invokes the action's compensating operation. result is the
	// output of the original successful invocation.
	Rollback(ctx context.Context, action Action, args, result map[string]any) error
}

// compiledAction pairs an action with its compiled input schema.
type compiledAction struct {
	action Action
	schema *jsonschema.Schema
}

// Registry holds the registered actions and validates, invokes, and rolls
// back against them. Schemas are compiled once at registration. Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*compiledAction
	invoker Invoker
}

// NewRegistry creates an empty registry dispatching through invoker.
func NewRegistry(invoker Invoker) *Registry {
	return &Registry{
		actions: make(map[string]*compiledAction),
		invoker: invoker,
	}
}

// Register adds or replaces an action, compiling its input schema.
func (r *Registry) Register(action Action) error {
	if action.ID == "" {
		return errors.New("tools: action ID is required")
	}

	var schema *jsonschema.Schema
	if len(action.InputSchema) > 0 {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(action.InputSchema))
		if err != nil {
			return fmt.Errorf("tools: parse schema for %s: %w", action.ID, err)
		}
		c := jsonschema.NewCompiler()
		resource := action.ID + ".schema.json"
		if err := c.AddResource(resource, doc); err != nil {
			return fmt.Errorf("tools: add schema resource for %s: %w", action.ID, err)
		}
		schema, err = c.Compile(resource)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %s: %w", action.ID, err)
		}
	}

	r.mu.Lock()
	r.actions[action.ID] = &compiledAction{action: action, schema: schema}
	r.mu.Unlock()
	return nil
}

// RegisterAll registers every action, stopping at the first error.
func (r *Registry) RegisterAll(actions []Action) error {
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the action with the given ID.
func (r *Registry) Get(actionID string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ca, ok := r.actions[actionID]
	if !ok {
		return Action{}, false
	}
	return ca.action, true
}

// Has reports whether an action with the given ID is registered.
func (r *Registry) Has(actionID string) bool {
	_, ok := r.Get(actionID)
	return ok
}

// IDs returns all registered action IDs in unspecified order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	return ids
}

// Validate checks args against the action's input schema. Returns
// [ErrUnknownAction] for unregistered IDs and a [*ValidationError] describing
// missing, extra, and ill-typed arguments on schema violations.
func (r *Registry) Validate(actionID string, args map[string]any) error {
	r.mu.RLock()
	ca, ok := r.actions[actionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	if ca.schema == nil {
		return nil
	}

	// The schema validator expects plain decoded JSON values.
	instance := make(map[string]any, len(args))
	for k, v := range args {
		instance[k] = v
	}

	err := ca.schema.Validate(instance)
	if err == nil {
		return nil
	}

	verr := &ValidationError{ActionID: actionID, Err: err}
	var sve *jsonschema.ValidationError
	if errors.As(err, &sve) {
		collectSchemaCauses(sve, verr)
	}
	return verr
}

// collectSchemaCauses walks the schema error tree, sorting leaf causes into
// the missing/extra/ill-typed buckets.
func collectSchemaCauses(ve *jsonschema.ValidationError, out *ValidationError) {
	switch k := ve.ErrorKind.(type) {
	case *kind.Required:
		out.Missing = append(out.Missing, k.Missing...)
	case *kind.AdditionalProperties:
		out.Extra = append(out.Extra, k.Properties...)
	case *kind.Type:
		loc := "(root)"
		if n := len(ve.InstanceLocation); n > 0 {
			loc = ve.InstanceLocation[n-1]
		}
		out.IllTyped = append(out.IllTyped, loc)
	}
	for _, cause := range ve.Causes {
		collectSchemaCauses(cause, out)
	}
}

// Invoke validates args and dispatches the action through the registered
// [Invoker].
func (r *Registry) Invoke(ctx context.Context, actionID string, args map[string]any) (map[string]any, error) {
	if err := r.Validate(actionID, args); err != nil {
		return nil, err
	}
	action, _ := r.Get(actionID)
	return r.invoker.Invoke(ctx, action, args)
}

// Rollback invokes the action's compensating operation. Returns an error for
// actions that do not declare rollback capability.
func (r *Registry) Rollback(ctx context.Context, actionID string, args, result map[string]any) error {
	action, ok := r.Get(actionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	if !action.SupportsRollback {
		return fmt.Errorf("tools: action %s does not support rollback", actionID)
	}
	return r.invoker.Rollback(ctx, action, args, result)
}
