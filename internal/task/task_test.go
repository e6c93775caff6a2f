package task

import (
	"testing"
)

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s not terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusExecuting, StatusRetrying} {
		if s.Terminal() {
			t.Errorf("%s terminal", s)
		}
	}
}

func TestPriority_Rank(t *testing.T) {
	t.Parallel()
	if !(PriorityHigh.Rank() < PriorityMedium.Rank() &&
		PriorityMedium.Rank() < PriorityLow.Rank()) {
		t.Error("priority ranks out of order")
	}
	if Priority("").Rank() != PriorityMedium.Rank() {
		t.Error("missing priority should rank as medium")
	}
	if Priority("urgente").Rank() <= PriorityLow.Rank() {
		t.Error("unknown priority should sort last")
	}
}

func TestSubtask_Clone(t *testing.T) {
	t.Parallel()
	orig := &Subtask{
		ID:           "st-1",
		ActionID:     "encender_luz",
		Entities:     map[string]string{"lugar": "salón"},
		Dependencies: []string{"st-0"},
		Result:       map[string]any{"estado": "encendida"},
	}
	clone := orig.Clone()

	clone.Entities["lugar"] = "cocina"
	clone.Dependencies[0] = "st-9"
	clone.Result["estado"] = "apagada"

	if orig.Entities["lugar"] != "salón" || orig.Dependencies[0] != "st-0" || orig.Result["estado"] != "encendida" {
		t.Errorf("clone shares state with the original: %+v", orig)
	}
}

func TestSubtask_DedupKey(t *testing.T) {
	t.Parallel()
	a := &Subtask{ActionID: "encender_luz", Entities: map[string]string{"lugar": " Salón "}}
	b := &Subtask{ActionID: "encender_luz", Entities: map[string]string{"lugar": "salón"}}
	if a.DedupKey() != b.DedupKey() {
		t.Errorf("keys differ: %q vs %q", a.DedupKey(), b.DedupKey())
	}

	c := &Subtask{ActionID: "encender_luz", Entities: map[string]string{"lugar": "cocina"}}
	if a.DedupKey() == c.DedupKey() {
		t.Errorf("different entities share key %q", a.DedupKey())
	}
}

func planOf(levels [][]string, subtasks ...*Subtask) *Plan {
	p := &Plan{Levels: levels, Subtasks: make(map[string]*Subtask, len(subtasks))}
	for _, st := range subtasks {
		p.Subtasks[st.ID] = st
	}
	return p
}

func TestPlan_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		plan    *Plan
		wantErr bool
	}{
		{
			name: "valid two levels",
			plan: planOf([][]string{{"a"}, {"b"}},
				&Subtask{ID: "a"},
				&Subtask{ID: "b", Dependencies: []string{"a"}}),
		},
		{
			name: "duplicate placement",
			plan: planOf([][]string{{"a"}, {"a"}},
				&Subtask{ID: "a"}),
			wantErr: true,
		},
		{
			name:    "level references unknown subtask",
			plan:    planOf([][]string{{"a"}}),
			wantErr: true,
		},
		{
			name: "dependency outside the plan",
			plan: planOf([][]string{{"a"}},
				&Subtask{ID: "a", Dependencies: []string{"ghost"}}),
			wantErr: true,
		},
		{
			name: "dependency in the same level",
			plan: planOf([][]string{{"a", "b"}},
				&Subtask{ID: "a"},
				&Subtask{ID: "b", Dependencies: []string{"a"}}),
			wantErr: true,
		},
		{
			name: "subtask indexed but never placed",
			plan: planOf([][]string{{"a"}},
				&Subtask{ID: "a"},
				&Subtask{ID: "b"}),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.plan.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlan_AllInLevelOrder(t *testing.T) {
	t.Parallel()
	p := planOf([][]string{{"b"}, {"a"}},
		&Subtask{ID: "a", Dependencies: []string{"b"}},
		&Subtask{ID: "b"})

	all := p.All()
	if len(all) != 2 || all[0].ID != "b" || all[1].ID != "a" {
		t.Errorf("order = %v", []string{all[0].ID, all[1].ID})
	}
	if p.Size() != 2 || p.Get("a") == nil || p.Get("ghost") != nil {
		t.Error("accessor mismatch")
	}
}
