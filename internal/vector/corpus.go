package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PuertOcho/puertocho-intent/pkg/provider/embeddings"
)

// SeedCorpus embeds every example utterance and upserts it into the store.
// examples maps intent ID to that intent's example utterances; document IDs
// are deterministic ("{intent}#{n}") so re-seeding after a catalogue reload
// replaces stale entries instead of duplicating them.
//
// All of an intent's examples are embedded in a single batch call.
func SeedCorpus(ctx context.Context, store Store, embedder embeddings.Provider, examples map[string][]string) error {
	var seeded int
	for intentID, texts := range examples {
		if len(texts) == 0 {
			continue
		}

		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("vector: embed examples for intent %q: %w", intentID, err)
		}

		for i, text := range texts {
			doc := Document{
				ID:        fmt.Sprintf("%s#%d", intentID, i),
				IntentID:  intentID,
				Text:      text,
				Embedding: vecs[i],
				Metadata:  map[string]string{"intent": intentID},
			}
			if err := store.Upsert(ctx, doc); err != nil {
				return fmt.Errorf("vector: upsert example %q: %w", doc.ID, err)
			}
			seeded++
		}
	}

	slog.Info("vector corpus seeded", "intents", len(examples), "documents", seeded)
	return nil
}
