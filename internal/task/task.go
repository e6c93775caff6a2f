// Package task defines the shared subtask and execution-plan types used by
// the decomposer, the dependency resolver, the orchestrator, and the
// progress tracker. Cross-component references are by subtask id, never by
// shared mutable handle.
package task

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is a subtask's execution state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// Priority orders subtasks within a dependency level.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank: high before medium before low. Unknown
// priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium, "":
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Subtask is one concrete invocation of a tool action derived from a
// request.
type Subtask struct {
	ID           string            `json:"id"`
	ActionID     string            `json:"action_id"`
	Description  string            `json:"description"`
	Entities     map[string]string `json:"entities,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Priority     Priority          `json:"priority,omitempty"`
	MaxRetries   int               `json:"max_retries"`
	Confidence   float64           `json:"confidence"`
	Status       Status            `json:"status"`
	RetryCount   int               `json:"retry_count"`
	Result       map[string]any    `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at,omitempty"`
	FinishedAt   time.Time         `json:"finished_at,omitempty"`
}

// Clone returns a deep copy.
func (s *Subtask) Clone() *Subtask {
	out := *s
	if s.Entities != nil {
		out.Entities = make(map[string]string, len(s.Entities))
		for k, v := range s.Entities {
			out.Entities[k] = v
		}
	}
	out.Dependencies = append([]string(nil), s.Dependencies...)
	if s.Result != nil {
		out.Result = make(map[string]any, len(s.Result))
		for k, v := range s.Result {
			out.Result[k] = v
		}
	}
	return &out
}

// DedupKey canonicalizes the subtask for deduplication: same action plus
// same normalized entities means same subtask.
func (s *Subtask) DedupKey() string {
	keys := make([]string, 0, len(s.Entities))
	for k := range s.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(s.ActionID)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%s", k, strings.ToLower(strings.TrimSpace(s.Entities[k])))
	}
	return sb.String()
}

// Plan is the dependency-ordered execution plan: a topological level
// decomposition of the subtask DAG.
//
// Invariants: the graph is acyclic, every dependency references a subtask in
// the plan, and no subtask appears in two levels.
type Plan struct {
	// Levels holds subtask ids per dependency level. Level 0 subtasks have no
	// dependencies; level i subtasks depend only on earlier levels.
	Levels [][]string `json:"levels"`

	// Subtasks indexes every planned subtask by id.
	Subtasks map[string]*Subtask `json:"subtasks"`
}

// Get returns the planned subtask or nil.
func (p *Plan) Get(id string) *Subtask { return p.Subtasks[id] }

// Size returns the number of planned subtasks.
func (p *Plan) Size() int { return len(p.Subtasks) }

// All returns the subtasks in level order.
func (p *Plan) All() []*Subtask {
	out := make([]*Subtask, 0, len(p.Subtasks))
	for _, level := range p.Levels {
		for _, id := range level {
			out = append(out, p.Subtasks[id])
		}
	}
	return out
}

// Validate checks the plan invariants.
func (p *Plan) Validate() error {
	seen := make(map[string]int)
	for levelIdx, level := range p.Levels {
		for _, id := range level {
			if prior, dup := seen[id]; dup {
				return fmt.Errorf("task: subtask %s appears in levels %d and %d", id, prior, levelIdx)
			}
			seen[id] = levelIdx
			st := p.Subtasks[id]
			if st == nil {
				return fmt.Errorf("task: level %d references unknown subtask %s", levelIdx, id)
			}
			for _, dep := range st.Dependencies {
				depLevel, ok := seen[dep]
				if !ok {
					if _, planned := p.Subtasks[dep]; !planned {
						return fmt.Errorf("task: subtask %s depends on %s, which is not in the plan", id, dep)
					}
					return fmt.Errorf("task: subtask %s depends on %s in a later level", id, dep)
				}
				if depLevel >= levelIdx {
					return fmt.Errorf("task: subtask %s depends on %s in the same level", id, dep)
				}
			}
		}
	}
	if len(seen) != len(p.Subtasks) {
		return fmt.Errorf("task: %d subtasks indexed but %d placed in levels", len(p.Subtasks), len(seen))
	}
	return nil
}
