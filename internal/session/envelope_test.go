package session

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEnvelope_RoundtripUncompressed(t *testing.T) {
	t.Parallel()
	in := map[string]string{"hola": "mundo"}

	data, err := encodeEnvelope(in, 1<<20)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Compressed {
		t.Error("small payload should not be compressed")
	}
	if env.SchemaVersion != schemaVersion {
		t.Errorf("schema_version = %d", env.SchemaVersion)
	}

	out := map[string]string{}
	if err := decodeEnvelope(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["hola"] != "mundo" {
		t.Errorf("roundtrip = %v", out)
	}
}

func TestEnvelope_RoundtripCompressed(t *testing.T) {
	t.Parallel()
	in := map[string]string{"texto": strings.Repeat("la conversación continúa. ", 200)}

	data, err := encodeEnvelope(in, 64)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if !env.Compressed {
		t.Fatal("large payload should be compressed")
	}
	if len(env.Blob) >= len(in["texto"]) {
		t.Error("compression did not shrink the payload")
	}

	out := map[string]string{}
	if err := decodeEnvelope(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["texto"] != in["texto"] {
		t.Error("compressed roundtrip lost data")
	}
}

func TestEnvelope_CorruptBlobFallsBackToRaw(t *testing.T) {
	t.Parallel()
	// A compressed flag with a blob that is really plain JSON must still decode.
	env := envelope{
		SchemaVersion: schemaVersion,
		Compressed:    true,
		Blob:          []byte(`{"hola":"mundo"}`),
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	out := map[string]string{}
	if err := decodeEnvelope(data, &out); err != nil {
		t.Fatalf("decode should fall back to raw payload: %v", err)
	}
	if out["hola"] != "mundo" {
		t.Errorf("fallback decode = %v", out)
	}
}

func TestEnvelope_SessionRoundtripPreservesFields(t *testing.T) {
	t.Parallel()
	in := &Session{
		ID:     "s1",
		UserID: "u1",
		State:  StateActive,
		Turns: []Turn{
			{Index: 0, UserText: "enciende la luz", IntentID: "encender_luz", Confidence: 0.9,
				Slots: map[string]string{"lugar": "salón"}, Successful: true},
		},
		Context: Context{
			EntityCache:      map[string]CachedEntity{"lugar": {Value: "salón", Confidence: 0.9}},
			Summary:          "el usuario encendió la luz",
			ActiveIntent:     "encender_luz",
			TopicStack:       []string{"smarthome"},
			CompressionLevel: 1,
		},
		ContextVersion:  2,
		TotalTurns:      1,
		SuccessfulTurns: 1,
	}

	data, err := encodeEnvelope(in, 0)
	if err != nil {
		t.Fatal(err)
	}
	out := &Session{}
	if err := decodeEnvelope(data, out); err != nil {
		t.Fatal(err)
	}

	if out.ID != in.ID || out.State != in.State || out.ContextVersion != 2 {
		t.Errorf("session fields lost: %+v", out)
	}
	if out.Turns[0].Slots["lugar"] != "salón" || !out.Turns[0].Successful {
		t.Errorf("turn fields lost: %+v", out.Turns[0])
	}
	if out.Context.EntityCache["lugar"].Value != "salón" || out.Context.CompressionLevel != 1 {
		t.Errorf("context fields lost: %+v", out.Context)
	}
}
