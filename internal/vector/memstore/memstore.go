// Package memstore provides an in-process [vector.Store] backed by chromem-go.
//
// It is the default corpus backend: the example corpus is small (a handful of
// utterances per intent) and rebuilt from the catalogue at startup, so an
// embedded store avoids an external database for the common deployment.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/PuertOcho/puertocho-intent/internal/vector"
)

// Store implements [vector.Store] using a chromem-go collection. Safe for
// concurrent use.
type Store struct {
	dims       int
	collection *chromem.Collection

	// byID mirrors the collection for O(1) Get lookups; chromem's query API is
	// similarity-only.
	mu   sync.RWMutex
	byID map[string]vector.Document
}

var _ vector.Store = (*Store)(nil)

// New creates an in-memory store for embeddings of the given dimension.
func New(collectionName string, dims int) (*Store, error) {
	if collectionName == "" {
		collectionName = "intent-examples"
	}

	db := chromem.NewDB()

	// Documents always arrive pre-embedded, so the collection's embedding
	// function must never run.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("memstore: documents must be pre-embedded")
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("memstore: create collection: %w", err)
	}

	return &Store{
		dims:       dims,
		collection: collection,
		byID:       make(map[string]vector.Document),
	}, nil
}

// Upsert implements [vector.Store].
func (s *Store) Upsert(ctx context.Context, doc vector.Document) error {
	if err := vector.CheckDimension(doc.Embedding, s.dims); err != nil {
		return err
	}

	meta := map[string]string{"intent": doc.IntentID}
	for k, v := range doc.Metadata {
		meta[k] = v
	}

	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   doc.Text,
		Embedding: doc.Embedding,
		Metadata:  meta,
	})
	if err != nil {
		return fmt.Errorf("memstore: add document %q: %w", doc.ID, err)
	}

	s.mu.Lock()
	s.byID[doc.ID] = doc
	s.mu.Unlock()
	return nil
}

// Delete implements [vector.Store]. Deleting an unknown ID is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, known := s.byID[id]
	delete(s.byID, id)
	s.mu.Unlock()

	if !known {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("memstore: delete document %q: %w", id, err)
	}
	return nil
}

// SearchTopK implements [vector.Store].
func (s *Store) SearchTopK(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]vector.Result, error) {
	if err := vector.CheckDimension(vec, s.dims); err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the collection size.
	if count := s.collection.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return []vector.Result{}, nil
	}

	hits, err := s.collection.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memstore: query: %w", err)
	}

	results := make([]vector.Result, 0, len(hits))
	for _, hit := range hits {
		sim := float64(hit.Similarity)
		if sim < minSimilarity {
			continue
		}
		results = append(results, vector.Result{
			Document: vector.Document{
				ID:        hit.ID,
				IntentID:  hit.Metadata["intent"],
				Text:      hit.Content,
				Embedding: hit.Embedding,
				Metadata:  hit.Metadata,
			},
			Similarity: sim,
		})
	}
	return results, nil
}

// Get implements [vector.Store].
func (s *Store) Get(ctx context.Context, id string) (vector.Document, error) {
	s.mu.RLock()
	doc, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return vector.Document{}, vector.ErrNotFound
	}
	return doc, nil
}

// Count implements [vector.Store].
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}
