package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/PuertOcho/puertocho-intent/internal/vector"
	"github.com/PuertOcho/puertocho-intent/internal/vector/memstore"
)

func newStore(t *testing.T, dims int) *memstore.Store {
	t.Helper()
	s, err := memstore.New("test", dims)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestUpsertAndGet(t *testing.T) {
	t.Parallel()
	s := newStore(t, 2)
	ctx := context.Background()

	doc := vector.Document{
		ID:        "encender_luz#0",
		IntentID:  "encender_luz",
		Text:      "enciende la luz del salón",
		Embedding: []float32{1, 0},
	}
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "encender_luz#0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != doc.Text || got.IntentID != doc.IntentID {
		t.Errorf("Get = %+v, want %+v", got, doc)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, vector.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	t.Parallel()
	s := newStore(t, 2)
	ctx := context.Background()

	doc := vector.Document{ID: "a", IntentID: "saludo", Text: "hola", Embedding: []float32{1, 0}}
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatal(err)
	}
	doc.Text = "buenos días"
	if err := s.Upsert(ctx, doc); err != nil {
		t.Fatal(err)
	}

	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1 after replacing", n)
	}
	got, _ := s.Get(ctx, "a")
	if got.Text != "buenos días" {
		t.Errorf("Text = %q, want replacement", got.Text)
	}
}

func TestDimensionMismatch(t *testing.T) {
	t.Parallel()
	s := newStore(t, 3)
	ctx := context.Background()

	err := s.Upsert(ctx, vector.Document{ID: "a", Embedding: []float32{1, 0}})
	var dimErr *vector.DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("Upsert error = %v, want *DimensionError", err)
	}
	if dimErr.Want != 3 || dimErr.Got != 2 {
		t.Errorf("DimensionError = %+v", dimErr)
	}

	if _, err := s.SearchTopK(ctx, []float32{1}, 5, 0); !errors.As(err, &dimErr) {
		t.Errorf("SearchTopK error = %v, want *DimensionError", err)
	}
}

func TestSearchTopK_OrderAndFloor(t *testing.T) {
	t.Parallel()
	s := newStore(t, 2)
	ctx := context.Background()

	docs := []vector.Document{
		{ID: "exact", IntentID: "encender_luz", Text: "enciende la luz", Embedding: []float32{1, 0}},
		{ID: "close", IntentID: "encender_luz", Text: "pon la luz", Embedding: []float32{0.8, 0.6}},
		{ID: "far", IntentID: "consultar_tiempo", Text: "qué tiempo hace", Embedding: []float32{0, 1}},
	}
	for _, d := range docs {
		if err := s.Upsert(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.SearchTopK(ctx, []float32{1, 0}, 3, 0.5)
	if err != nil {
		t.Fatalf("SearchTopK: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (floor should drop the orthogonal doc)", len(results))
	}
	if results[0].Document.ID != "exact" || results[1].Document.ID != "close" {
		t.Errorf("order = [%s, %s], want [exact, close]", results[0].Document.ID, results[1].Document.ID)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Error("results are not in descending similarity order")
	}
}

func TestSearchTopK_EmptyWhenAllBelowFloor(t *testing.T) {
	t.Parallel()
	s := newStore(t, 2)
	ctx := context.Background()

	s.Upsert(ctx, vector.Document{ID: "a", Embedding: []float32{1, 0}})
	s.Upsert(ctx, vector.Document{ID: "b", Embedding: []float32{0.96, 0.28}})

	results, err := s.SearchTopK(ctx, []float32{0, 1}, 5, 0.5)
	if err != nil {
		t.Fatalf("SearchTopK: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want an empty slice, not a best-effort match", len(results))
	}
	if results == nil {
		t.Error("result slice should be empty, not nil")
	}
}

func TestSearchTopK_ClampsKToCorpusSize(t *testing.T) {
	t.Parallel()
	s := newStore(t, 2)
	ctx := context.Background()

	s.Upsert(ctx, vector.Document{ID: "only", Embedding: []float32{1, 0}})

	results, err := s.SearchTopK(ctx, []float32{1, 0}, 10, 0)
	if err != nil {
		t.Fatalf("SearchTopK with k > corpus size: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestSearchTopK_EmptyStore(t *testing.T) {
	t.Parallel()
	s := newStore(t, 2)

	results, err := s.SearchTopK(context.Background(), []float32{1, 0}, 5, 0)
	if err != nil {
		t.Fatalf("SearchTopK on empty store: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s := newStore(t, 2)
	ctx := context.Background()

	s.Upsert(ctx, vector.Document{ID: "a", Embedding: []float32{1, 0}})
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, vector.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}

	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("deleting an unknown ID should be a no-op, got %v", err)
	}
}
