// Package vector defines the embedding corpus store backing retrieval-augmented
// intent classification.
//
// A [Store] holds pre-embedded example utterances keyed by document ID and
// answers top-k cosine-similarity queries. Two implementations exist:
// an in-process store (vector/memstore, chromem-go) and a PostgreSQL store
// (vector/postgres, pgx + pgvector). Both are safe for concurrent use.
package vector

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by [Store.Get] when no document has the given ID.
var ErrNotFound = errors.New("vector: document not found")

// DimensionError reports an embedding whose length does not match the store's
// configured dimension. It is returned by Upsert and SearchTopK; callers that
// mix embedding models should detect it with [errors.As].
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector: embedding dimension mismatch: store expects %d, got %d", e.Want, e.Got)
}

// Document is one stored example utterance with its embedding.
type Document struct {
	// ID uniquely identifies the document (e.g., "encender_luz#3").
	ID string

	// IntentID is the intent this example belongs to.
	IntentID string

	// Text is the raw example utterance.
	Text string

	// Embedding is the example's embedding vector. Its length must match the
	// store's configured dimension.
	Embedding []float32

	// Metadata carries optional free-form attributes.
	Metadata map[string]string
}

// Result is one search hit.
type Result struct {
	Document Document

	// Similarity is the cosine similarity between the query and the document
	// embedding, in [0, 1] for non-negative embedding spaces (higher is more
	// similar).
	Similarity float64
}

// Store is the abstraction over any embedding corpus backend.
//
// SearchTopK returns at most k results ordered by descending similarity.
// Results below minSimilarity are discarded; when every candidate falls below
// the floor the returned slice is empty, never a best-effort match.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upsert inserts doc or fully replaces the document with the same ID.
	Upsert(ctx context.Context, doc Document) error

	// Delete removes the document with the given ID. Deleting a missing
	// document is not an error.
	Delete(ctx context.Context, id string) error

	// SearchTopK returns the k most similar documents to the query vector,
	// descending by cosine similarity, excluding results below minSimilarity.
	SearchTopK(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]Result, error)

	// Get returns the document with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (Document, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)
}

// CheckDimension returns a [*DimensionError] when the embedding length does
// not match want. Shared by all Store implementations.
func CheckDimension(embedding []float32, want int) error {
	if len(embedding) != want {
		return &DimensionError{Want: want, Got: len(embedding)}
	}
	return nil
}
