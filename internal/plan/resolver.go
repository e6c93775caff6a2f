// Package plan builds the dependency-ordered execution plan for a validated
// subtask batch. Three detectors propose edges on top of the explicit
// dependencies: a known action-pair table, semantic ordering markers in the
// subtask descriptions, and shared critical entities ordered by action
// category. Cycles are broken by dropping the weakest edge, then the graph is
// levelled topologically.
package plan

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuertOcho/puertocho-intent/internal/task"
	"github.com/PuertOcho/puertocho-intent/internal/tools"
)

// Edge records that From must run after To.
type Edge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Edge sources.
const (
	SourceExplicit   = "explicit"
	SourceActionPair = "action_pair"
	SourceSemantic   = "semantic"
	SourceEntity     = "shared_entity"
)

// actionPairs lists action combinations with a known execution order: the
// key action depends on the value action whenever both appear in a batch.
var actionPairs = map[string]map[string]float64{
	"asignar_issue": {
		"crear_github_issue": 0.9,
	},
	"programar_alarma_condicional": {
		"consultar_tiempo": 0.85,
	},
}

// orderingMarkers signal that a subtask was phrased as following another.
var orderingMarkers = regexp.MustCompile(`(?i)\bdespués de\b|\bdespues de\b|\buna vez que\b|\bcuando (haya|esté|este|termine)\b`)

// criticalEntities are the entity names whose shared values imply a data
// dependency between subtasks.
var criticalEntities = map[string]bool{
	"issue_id":    true,
	"repositorio": true,
	"lugar":       true,
	"ubicacion":   true,
}

// Category precedence for shared-entity ordering. Lower runs first.
const (
	categoryAuthenticate = iota
	categoryRead
	categoryCreate
	categoryModify
	categoryNotify
)

// Resolver turns subtask batches into execution plans. Safe for concurrent
// use.
type Resolver struct {
	registry *tools.Registry
}

// NewResolver creates a resolver over the action registry.
func NewResolver(registry *tools.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve detects dependencies, eliminates cycles, and levels the batch.
// Subtask Dependencies are rewritten to the surviving edge set.
func (r *Resolver) Resolve(batch []*task.Subtask) (*task.Plan, error) {
	if len(batch) == 0 {
		return &task.Plan{Subtasks: map[string]*task.Subtask{}}, nil
	}

	edges := r.detect(batch)
	edges = breakCycles(batch, edges)
	applyEdges(batch, edges)

	levels, err := levelize(batch)
	if err != nil {
		return nil, err
	}

	subtasks := make(map[string]*task.Subtask, len(batch))
	for _, st := range batch {
		subtasks[st.ID] = st
	}
	p := &task.Plan{Levels: levels, Subtasks: subtasks}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return p, nil
}

// detect runs every detector and deduplicates edges, keeping the highest
// confidence per (from, to) pair.
func (r *Resolver) detect(batch []*task.Subtask) []Edge {
	var edges []Edge

	for _, st := range batch {
		for _, dep := range st.Dependencies {
			edges = append(edges, Edge{From: st.ID, To: dep, Confidence: 1.0, Source: SourceExplicit})
		}
	}
	edges = append(edges, detectActionPairs(batch)...)
	edges = append(edges, detectSemanticMarkers(batch)...)
	edges = append(edges, r.detectSharedEntities(batch)...)

	best := make(map[string]Edge)
	var order []string
	for _, e := range edges {
		key := e.From + "\x00" + e.To
		prev, seen := best[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || e.Confidence > prev.Confidence {
			best[key] = e
		}
	}
	out := make([]Edge, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// detectActionPairs applies the known-combination table. When the parent
// action appears more than once, every instance becomes a prerequisite.
func detectActionPairs(batch []*task.Subtask) []Edge {
	byAction := make(map[string][]*task.Subtask)
	for _, st := range batch {
		byAction[st.ActionID] = append(byAction[st.ActionID], st)
	}

	var edges []Edge
	for _, st := range batch {
		for parentAction, conf := range actionPairs[st.ActionID] {
			for _, parent := range byAction[parentAction] {
				if parent.ID == st.ID {
					continue
				}
				edges = append(edges, Edge{From: st.ID, To: parent.ID, Confidence: conf, Source: SourceActionPair})
			}
		}
	}
	return edges
}

// detectSemanticMarkers orders a subtask after its predecessor in batch order
// when its description is phrased as a follow-up.
func detectSemanticMarkers(batch []*task.Subtask) []Edge {
	var edges []Edge
	for i := 1; i < len(batch); i++ {
		if orderingMarkers.MatchString(batch[i].Description) {
			edges = append(edges, Edge{
				From:       batch[i].ID,
				To:         batch[i-1].ID,
				Confidence: 0.7,
				Source:     SourceSemantic,
			})
		}
	}
	return edges
}

// detectSharedEntities orders subtasks that touch the same critical entity
// value by their action category.
func (r *Resolver) detectSharedEntities(batch []*task.Subtask) []Edge {
	var edges []Edge
	for i, a := range batch {
		for _, b := range batch[i+1:] {
			entity, shared := sharedCriticalEntity(a, b)
			if !shared {
				continue
			}
			rankA, rankB := r.categoryRank(a), r.categoryRank(b)
			if rankA == rankB {
				continue
			}
			first, second := a, b
			if rankA > rankB {
				first, second = b, a
			}
			edges = append(edges, Edge{
				From:       second.ID,
				To:         first.ID,
				Confidence: 0.6,
				Source:     SourceEntity + ":" + entity,
			})
		}
	}
	return edges
}

// sharedCriticalEntity reports the first critical entity both subtasks carry
// with the same value.
func sharedCriticalEntity(a, b *task.Subtask) (string, bool) {
	names := make([]string, 0, len(a.Entities))
	for name := range a.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !criticalEntities[name] {
			continue
		}
		if bv, ok := b.Entities[name]; ok && strings.EqualFold(strings.TrimSpace(a.Entities[name]), strings.TrimSpace(bv)) {
			return name, true
		}
	}
	return "", false
}

// categoryRank classifies an action for shared-entity ordering.
func (r *Resolver) categoryRank(st *task.Subtask) int {
	action, ok := r.registry.Get(st.ActionID)
	if !ok {
		return categoryModify
	}
	id := action.ID
	switch {
	case strings.Contains(id, "autenticar") || strings.Contains(id, "verificar"):
		return categoryAuthenticate
	case action.SideEffect == tools.SideEffectRead:
		return categoryRead
	case strings.HasPrefix(id, "crear") || strings.HasPrefix(id, "programar"):
		return categoryCreate
	case strings.Contains(id, "notificar") || strings.Contains(id, "avisar"):
		return categoryNotify
	}
	return categoryModify
}

// breakCycles drops the lowest-confidence edge of each cycle until the graph
// is acyclic.
func breakCycles(batch []*task.Subtask, edges []Edge) []Edge {
	ids := make([]string, 0, len(batch))
	for _, st := range batch {
		ids = append(ids, st.ID)
	}

	for {
		cycle := findCycle(ids, edges)
		if len(cycle) == 0 {
			return edges
		}

		weakest := -1
		for i, e := range edges {
			if !cycle[edgeKey(e)] {
				continue
			}
			if weakest < 0 || e.Confidence < edges[weakest].Confidence {
				weakest = i
			}
		}
		edges = append(edges[:weakest], edges[weakest+1:]...)
	}
}

func edgeKey(e Edge) string { return e.From + "\x00" + e.To }

// findCycle returns the edge set of one cycle, or nil when the graph is
// acyclic. DFS visits nodes and edges in deterministic order.
func findCycle(ids []string, edges []Edge) map[string]bool {
	adjacent := make(map[string][]Edge)
	for _, e := range edges {
		adjacent[e.From] = append(adjacent[e.From], e)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(ids))
	var stack []Edge

	var visit func(id string) map[string]bool
	visit = func(id string) map[string]bool {
		state[id] = inStack
		for _, e := range adjacent[id] {
			switch state[e.To] {
			case inStack:
				// Collect the stack suffix from e.To back to id, plus e itself.
				cycle := map[string]bool{edgeKey(e): true}
				if e.To == id {
					return cycle
				}
				for i := len(stack) - 1; i >= 0; i-- {
					cycle[edgeKey(stack[i])] = true
					if stack[i].From == e.To {
						break
					}
				}
				return cycle
			case unvisited:
				stack = append(stack, e)
				if cycle := visit(e.To); cycle != nil {
					return cycle
				}
				stack = stack[:len(stack)-1]
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// applyEdges rewrites each subtask's Dependencies to the surviving edges.
func applyEdges(batch []*task.Subtask, edges []Edge) {
	deps := make(map[string][]string)
	for _, e := range edges {
		deps[e.From] = append(deps[e.From], e.To)
	}
	for _, st := range batch {
		d := deps[st.ID]
		sort.Strings(d)
		st.Dependencies = d
	}
}

// levelize runs Kahn's algorithm, ordering each level by priority, then
// descending confidence, then id.
func levelize(batch []*task.Subtask) ([][]string, error) {
	indegree := make(map[string]int, len(batch))
	dependents := make(map[string][]string)
	byID := make(map[string]*task.Subtask, len(batch))
	for _, st := range batch {
		byID[st.ID] = st
		indegree[st.ID] = len(st.Dependencies)
		for _, dep := range st.Dependencies {
			dependents[dep] = append(dependents[dep], st.ID)
		}
	}

	var current []string
	for _, st := range batch {
		if indegree[st.ID] == 0 {
			current = append(current, st.ID)
		}
	}

	var levels [][]string
	placed := 0
	for len(current) > 0 {
		sortLevel(current, byID)
		levels = append(levels, current)
		placed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range dependents[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	if placed != len(batch) {
		return nil, fmt.Errorf("plan: %d of %d subtasks unplaceable, graph still cyclic", len(batch)-placed, len(batch))
	}
	return levels, nil
}

// sortLevel orders ids by priority rank, then descending confidence, then id.
func sortLevel(ids []string, byID map[string]*task.Subtask) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := byID[ids[i]], byID[ids[j]]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra < rb
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ID < b.ID
	})
}
