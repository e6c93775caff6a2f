package decompose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/PuertOcho/puertocho-intent/internal/task"
	"github.com/PuertOcho/puertocho-intent/internal/tools"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	llmmock "github.com/PuertOcho/puertocho-intent/pkg/provider/llm/mock"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(nil)
	if err := r.RegisterAll(tools.BuiltinActions()); err != nil {
		t.Fatal(err)
	}
	return r
}

// sequentialIDs replaces the uuid generator so assertions can reference ids.
func sequentialIDs(d *Decomposer) {
	n := 0
	d.newID = func() string {
		n++
		return fmt.Sprintf("st-%d", n)
	}
}

func llmArray(items ...string) *llmmock.Provider {
	return &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "[" + strings.Join(items, ",") + "]",
		},
	}
}

func TestDecompose_SingleAction(t *testing.T) {
	t.Parallel()
	provider := llmArray(
		`{"action":"encender_luz","description":"enciende la luz del salón","entities":{"lugar":"salón"},"confidence":0.93}`,
	)
	d := NewDecomposer(provider, testRegistry(t), WithExtractFunc(
		func(ctx context.Context, fragment string) ([]types.Entity, error) {
			return []types.Entity{{Type: "lugar", Value: "salón", Confidence: 0.85}}, nil
		},
	))
	sequentialIDs(d)

	got, err := d.Decompose(context.Background(), Request{Utterance: "enciende la luz del salón"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("subtasks = %d, want 1 (strategies must deduplicate)", len(got))
	}
	st := got[0]
	if st.ActionID != "encender_luz" || st.Entities["lugar"] != "salón" {
		t.Errorf("subtask = %+v", st)
	}
	if st.Confidence != 0.93 {
		t.Errorf("confidence = %v, want the stronger strategy's 0.93", st.Confidence)
	}
	if st.Status != task.StatusPending {
		t.Errorf("status = %q", st.Status)
	}
}

func TestDecompose_MultiActionWithDependency(t *testing.T) {
	t.Parallel()
	provider := llmArray(
		`{"action":"consultar_tiempo","description":"consulta el tiempo en Madrid","entities":{"ubicacion":"Madrid"},"confidence":0.9}`,
		`{"action":"programar_alarma_condicional","description":"programa una alarma a las 07:00 si llueve","entities":{"hora":"07:00","condicion":"si_llueve"},"dependencies":["consultar_tiempo"],"confidence":0.85}`,
	)
	d := NewDecomposer(provider, testRegistry(t), WithExtractFunc(
		func(ctx context.Context, fragment string) ([]types.Entity, error) {
			if strings.Contains(fragment, "Madrid") {
				return []types.Entity{{Type: "lugar", Value: "Madrid", Confidence: 0.8}}, nil
			}
			return []types.Entity{
				{Type: "hora", Value: "07:00", Normalized: "07:00", Confidence: 0.9},
				{Type: "condicion", Value: "si llueve", Normalized: "si_llueve", Confidence: 0.85},
			}, nil
		},
	))
	sequentialIDs(d)

	got, err := d.Decompose(context.Background(), Request{
		Utterance: "consulta el tiempo en Madrid y si llueve programa una alarma a las 07:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("subtasks = %d, want 2: %+v", len(got), got)
	}

	weather, alarm := got[0], got[1]
	if weather.ActionID != "consultar_tiempo" || weather.Entities["ubicacion"] != "Madrid" {
		t.Errorf("weather subtask = %+v", weather)
	}
	if alarm.ActionID != "programar_alarma_condicional" {
		t.Errorf("alarm subtask = %+v", alarm)
	}
	if alarm.Entities["hora"] != "07:00" || alarm.Entities["condicion"] != "si_llueve" {
		t.Errorf("alarm entities = %v", alarm.Entities)
	}
	if len(alarm.Dependencies) != 1 || alarm.Dependencies[0] != weather.ID {
		t.Errorf("alarm dependencies = %v, want [%s] (action reference resolved to id)",
			alarm.Dependencies, weather.ID)
	}
}

func TestDecompose_LLMFailureFallsBackToPatterns(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{CompleteErr: errors.New("boom")}
	d := NewDecomposer(provider, testRegistry(t), WithExtractFunc(
		func(ctx context.Context, fragment string) ([]types.Entity, error) {
			return []types.Entity{{Type: "lugar", Value: "cocina", Confidence: 0.85}}, nil
		},
	))
	sequentialIDs(d)

	got, err := d.Decompose(context.Background(), Request{Utterance: "apaga la luz de la cocina"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ActionID != "apagar_luz" {
		t.Fatalf("subtasks = %+v", got)
	}
	if got[0].Confidence != 0.75 {
		t.Errorf("confidence = %v, want the pattern strategy default", got[0].Confidence)
	}
}

func TestDecompose_BoundsLLMSubtasks(t *testing.T) {
	t.Parallel()
	provider := llmArray(
		`{"action":"saludo","description":"saluda","confidence":0.9}`,
		`{"action":"despedida","description":"despídete","confidence":0.9}`,
		`{"action":"agradecimiento","description":"da las gracias","confidence":0.9}`,
	)
	d := NewDecomposer(provider, testRegistry(t), WithMaxSubtasks(2))
	sequentialIDs(d)

	got, err := d.Decompose(context.Background(), Request{Utterance: "hola"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("subtasks = %d, want the configured bound of 2", len(got))
	}
}

func TestDecompose_UnparsableLLMDegradesToPatterns(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "no hay subtareas que valgan"},
	}
	d := NewDecomposer(provider, testRegistry(t), WithExtractFunc(
		func(ctx context.Context, fragment string) ([]types.Entity, error) {
			return []types.Entity{{Type: "lugar", Value: "salón", Confidence: 0.85}}, nil
		},
	))
	sequentialIDs(d)

	got, err := d.Decompose(context.Background(), Request{Utterance: "enciende la luz del salón"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ActionID != "encender_luz" {
		t.Fatalf("subtasks = %+v", got)
	}
}

func TestDecompose_IntentHintWhenStrategiesEmpty(t *testing.T) {
	t.Parallel()
	provider := llmArray()
	d := NewDecomposer(provider, testRegistry(t))
	sequentialIDs(d)

	got, err := d.Decompose(context.Background(), Request{
		Utterance:  "ponme algo de jazz",
		Entities:   map[string]string{"genero": "jazz", "lugar": "salón"},
		IntentID:   "reproducir_musica",
		Confidence: 0.82,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ActionID != "reproducir_musica" {
		t.Fatalf("subtasks = %+v", got)
	}
	if got[0].Entities["genero"] != "jazz" {
		t.Errorf("entities = %v", got[0].Entities)
	}
	if _, leaked := got[0].Entities["lugar"]; leaked {
		t.Errorf("entities = %v, want only declared parameters", got[0].Entities)
	}
	if got[0].Confidence != 0.82 {
		t.Errorf("confidence = %v", got[0].Confidence)
	}
}

func TestValidate_DropsInvalidSubtasks(t *testing.T) {
	t.Parallel()
	v := NewValidator(testRegistry(t))

	tests := []struct {
		name string
		st   *task.Subtask
	}{
		{"unknown action", &task.Subtask{ID: "a", ActionID: "volar", Description: "vuela"}},
		{"missing required entity", &task.Subtask{ID: "a", ActionID: "encender_luz", Description: "enciende"}},
		{"extra entity", &task.Subtask{ID: "a", ActionID: "apagar_luz", Description: "apaga",
			Entities: map[string]string{"lugar": "cocina", "potencia": "alta"}}},
		{"malformed hora", &task.Subtask{ID: "a", ActionID: "programar_alarma", Description: "alarma",
			Entities: map[string]string{"hora": "las siete"}}},
		{"empty description", &task.Subtask{ID: "a", ActionID: "saludo"}},
		{"oversized description", &task.Subtask{ID: "a", ActionID: "saludo",
			Description: strings.Repeat("x", maxDescriptionLen+1)}},
		{"self dependency", &task.Subtask{ID: "a", ActionID: "saludo", Description: "hola",
			Dependencies: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := v.Validate([]*task.Subtask{tt.st}); len(got) != 0 {
				t.Errorf("kept %+v, want drop", got[0])
			}
		})
	}
}

func TestValidate_TemperatureRange(t *testing.T) {
	t.Parallel()
	if got := checkEntityValue("temperatura", "21°C"); got != "" {
		t.Errorf("21°C rejected: %s", got)
	}
	if got := checkEntityValue("temperatura", "-50"); got != "" {
		t.Errorf("-50 rejected: %s", got)
	}
	if got := checkEntityValue("temperatura", "61"); got == "" {
		t.Error("61 accepted, want out-of-range rejection")
	}
	if got := checkEntityValue("temperatura", "frío"); got == "" {
		t.Error("non-numeric accepted")
	}
}

func TestValidate_DanglingDependencyCascades(t *testing.T) {
	t.Parallel()
	v := NewValidator(testRegistry(t))

	// b depends on the invalid a, c depends on b. Dropping a must take both.
	batch := []*task.Subtask{
		{ID: "a", ActionID: "volar", Description: "vuela"},
		{ID: "b", ActionID: "saludo", Description: "hola", Dependencies: []string{"a"}},
		{ID: "c", ActionID: "despedida", Description: "adiós", Dependencies: []string{"b"}},
		{ID: "d", ActionID: "agradecimiento", Description: "gracias"},
	}
	got := v.Validate(batch)
	if len(got) != 1 || got[0].ID != "d" {
		t.Errorf("kept %+v, want only d", got)
	}
}

func TestValidate_UniquifiesDuplicateIDs(t *testing.T) {
	t.Parallel()
	v := NewValidator(testRegistry(t))

	got := v.Validate([]*task.Subtask{
		{ID: "a", ActionID: "saludo", Description: "hola"},
		{ID: "a", ActionID: "despedida", Description: "adiós"},
		{ID: "a", ActionID: "agradecimiento", Description: "gracias"},
	})
	if len(got) != 3 {
		t.Fatalf("kept %d, want 3", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "a-2" || got[2].ID != "a-3" {
		t.Errorf("ids = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestValidate_ClampsConfidence(t *testing.T) {
	t.Parallel()
	v := NewValidator(testRegistry(t))

	got := v.Validate([]*task.Subtask{
		{ID: "a", ActionID: "saludo", Description: "hola", Confidence: 1.4},
		{ID: "b", ActionID: "despedida", Description: "adiós", Confidence: -0.1},
	})
	if len(got) != 2 {
		t.Fatalf("kept %d, want 2", len(got))
	}
	if got[0].Confidence != 1 || got[1].Confidence != 0 {
		t.Errorf("confidences = %v, %v", got[0].Confidence, got[1].Confidence)
	}
}
