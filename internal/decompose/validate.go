package decompose

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuertOcho/puertocho-intent/internal/task"
	"github.com/PuertOcho/puertocho-intent/internal/tools"
)

const maxDescriptionLen = 500

var hourMinuteRe = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// Validator checks candidate subtasks against the tool registry and the
// shared value constraints. Subtasks failing a check are dropped; the only
// automatic corrections are id uniquification and confidence clamping.
type Validator struct {
	registry *tools.Registry
}

// NewValidator creates a validator over the registry.
func NewValidator(registry *tools.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate filters the batch down to executable subtasks. Duplicate ids are
// uniquified with a numeric suffix before checking. Because a dropped subtask
// invalidates anything depending on it, dependency checking repeats until the
// batch is stable.
func (v *Validator) Validate(batch []*task.Subtask) []*task.Subtask {
	uniquifyIDs(batch)

	kept := make([]*task.Subtask, 0, len(batch))
	for _, st := range batch {
		if reason := v.check(st); reason != "" {
			slog.Debug("subtask dropped", "id", st.ID, "action", st.ActionID, "reason", reason)
			continue
		}
		st.Confidence = clamp01(st.Confidence)
		kept = append(kept, st)
	}

	for {
		ids := make(map[string]bool, len(kept))
		for _, st := range kept {
			ids[st.ID] = true
		}
		next := kept[:0]
		for _, st := range kept {
			if dep, ok := danglingDep(st, ids); ok {
				slog.Debug("subtask dropped", "id", st.ID, "action", st.ActionID,
					"reason", "dependency outside batch: "+dep)
				continue
			}
			next = append(next, st)
		}
		if len(next) == len(kept) {
			return next
		}
		kept = next
	}
}

// check returns a non-empty drop reason when the subtask fails validation.
func (v *Validator) check(st *task.Subtask) string {
	if !v.registry.Has(st.ActionID) {
		return "unknown action"
	}
	desc := strings.TrimSpace(st.Description)
	if desc == "" {
		return "empty description"
	}
	if len(desc) > maxDescriptionLen {
		return "description too long"
	}
	if st.ID == "" {
		return "missing id"
	}
	for _, dep := range st.Dependencies {
		if dep == st.ID {
			return "self dependency"
		}
	}

	args := make(map[string]any, len(st.Entities))
	for k, val := range st.Entities {
		args[k] = val
	}
	if err := v.registry.Validate(st.ActionID, args); err != nil {
		return err.Error()
	}

	for k, val := range st.Entities {
		if reason := checkEntityValue(k, val); reason != "" {
			return reason
		}
	}
	return ""
}

// checkEntityValue enforces the per-type value ranges shared with the entity
// validator.
func checkEntityValue(name, value string) string {
	switch name {
	case "hora":
		if !hourMinuteRe.MatchString(value) {
			return fmt.Sprintf("hora %q is not HH:MM", value)
		}
	case "temperatura":
		raw := strings.TrimSuffix(strings.TrimSpace(value), "°C")
		deg, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || deg < -50 || deg > 60 {
			return fmt.Sprintf("temperatura %q out of range", value)
		}
	}
	return ""
}

// danglingDep returns the first dependency not present in the batch.
func danglingDep(st *task.Subtask, ids map[string]bool) (string, bool) {
	for _, dep := range st.Dependencies {
		if !ids[dep] {
			return dep, true
		}
	}
	return "", false
}

// uniquifyIDs appends a numeric suffix to repeated subtask ids, keeping the
// first occurrence intact. Dependency references always resolve to the first
// occurrence, so they need no rewriting.
func uniquifyIDs(batch []*task.Subtask) {
	seen := make(map[string]int, len(batch))
	for _, st := range batch {
		n := seen[st.ID]
		seen[st.ID] = n + 1
		if n > 0 {
			st.ID = fmt.Sprintf("%s-%d", st.ID, n+1)
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
