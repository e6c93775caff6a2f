package intent_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuertOcho/puertocho-intent/internal/intent"
)

const sampleCatalogue = `
version: 2
intents:
  - id: encender_luz
    description: Encender una luz
    expert_domain: smarthome
    examples:
      - enciende la luz del salón
      - pon la luz
    required_slots: [lugar]
    slot_prompts:
      lugar: "¿En qué lugar?"
    tool_action_id: encender_luz
  - id: saludo
    description: El usuario saluda
    examples: [hola]
    confidence_threshold: 0.6
`

func TestParseCatalogue(t *testing.T) {
	t.Parallel()
	cat, err := intent.ParseCatalogue(strings.NewReader(sampleCatalogue))
	if err != nil {
		t.Fatalf("ParseCatalogue: %v", err)
	}

	if cat.Version != 2 || cat.Len() != 2 {
		t.Fatalf("catalogue = %v", cat)
	}

	luz, ok := cat.Get("encender_luz")
	if !ok {
		t.Fatal("encender_luz not found")
	}
	if luz.ConfidenceThreshold != 0.7 {
		t.Errorf("default threshold = %v, want 0.7", luz.ConfidenceThreshold)
	}
	if luz.MaxRAGExamples != 5 {
		t.Errorf("default max_rag_examples = %d, want 5", luz.MaxRAGExamples)
	}
	if got := luz.SlotPrompts["lugar"]; got != "¿En qué lugar?" {
		t.Errorf("slot prompt = %q", got)
	}

	saludo, _ := cat.Get("saludo")
	if saludo.ConfidenceThreshold != 0.6 {
		t.Errorf("explicit threshold = %v, want 0.6", saludo.ConfidenceThreshold)
	}
}

func TestParseCatalogue_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing id",
			doc:  "intents:\n  - description: x\n    examples: [a]\n",
			want: "id is required",
		},
		{
			name: "missing description",
			doc:  "intents:\n  - id: a\n    examples: [a]\n",
			want: "description",
		},
		{
			name: "no examples",
			doc:  "intents:\n  - id: a\n    description: x\n",
			want: "example",
		},
		{
			name: "duplicate id",
			doc:  "intents:\n  - id: a\n    description: x\n    examples: [u]\n  - id: a\n    description: y\n    examples: [v]\n",
			want: "duplicate",
		},
		{
			name: "threshold out of range",
			doc:  "intents:\n  - id: a\n    description: x\n    examples: [u]\n    confidence_threshold: 1.5\n",
			want: "confidence_threshold",
		},
		{
			name: "unknown field",
			doc:  "intents:\n  - id: a\n    descriptoin: x\n    examples: [u]\n",
			want: "field",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := intent.ParseCatalogue(strings.NewReader(tc.doc))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestCatalogue_Examples(t *testing.T) {
	t.Parallel()
	cat, err := intent.ParseCatalogue(strings.NewReader(sampleCatalogue))
	if err != nil {
		t.Fatal(err)
	}

	examples := cat.Examples()
	if len(examples["encender_luz"]) != 2 || examples["saludo"][0] != "hola" {
		t.Errorf("Examples = %+v", examples)
	}
}

func TestRegistry_HotReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "intents.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalogue), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *intent.Catalogue, 1)
	reg, err := intent.NewRegistry(path,
		intent.WithReloadInterval(10*time.Millisecond),
		intent.WithOnReload(func(old, new *intent.Catalogue) {
			select {
			case reloaded <- new:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer reg.Stop()

	if reg.Snapshot().Len() != 2 {
		t.Fatalf("initial catalogue has %d intents, want 2", reg.Snapshot().Len())
	}

	updated := sampleCatalogue + `
  - id: despedida
    description: El usuario se despide
    examples: [adiós]
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cat := <-reloaded:
		if cat.Len() != 3 {
			t.Errorf("reloaded catalogue has %d intents, want 3", cat.Len())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("catalogue was not reloaded")
	}

	if _, ok := reg.Snapshot().Get("despedida"); !ok {
		t.Error("snapshot after reload lacks the new intent")
	}
}

func TestRegistry_KeepsCatalogueOnInvalidReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "intents.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalogue), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := intent.NewRegistry(path, intent.WithReloadInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Stop()

	if err := os.WriteFile(path, []byte("intents:\n  - id: broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if reg.Snapshot().Len() != 2 {
		t.Errorf("invalid reload replaced the catalogue: %d intents", reg.Snapshot().Len())
	}
}

func TestDefaultCatalogue(t *testing.T) {
	t.Parallel()
	cat := intent.DefaultCatalogue()

	if _, ok := cat.Get(intent.HelpIntentID); !ok {
		t.Fatal("default catalogue must contain the help intent")
	}

	for _, d := range cat.All() {
		if len(d.Examples) == 0 {
			t.Errorf("intent %s has no examples", d.ID)
		}
		if d.ConfidenceThreshold <= 0 || d.ConfidenceThreshold > 1 {
			t.Errorf("intent %s threshold = %v", d.ID, d.ConfidenceThreshold)
		}
		for _, slot := range d.RequiredSlots {
			if _, ok := d.SlotPrompts[slot]; !ok {
				t.Errorf("intent %s required slot %q has no prompt template", d.ID, slot)
			}
		}
	}
}

func TestStaticRegistry(t *testing.T) {
	t.Parallel()
	reg := intent.NewStaticRegistry(intent.DefaultCatalogue())
	defer reg.Stop()

	if reg.Snapshot().Len() == 0 {
		t.Error("static registry snapshot is empty")
	}
}
