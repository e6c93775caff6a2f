// Package mock provides a test double for the embeddings.Provider interface.
//
// The default behaviour produces deterministic pseudo-embeddings derived from
// the input text, so similarity relationships are stable across test runs:
// identical strings embed identically, and the EmbedFunc hook allows tests to
// pin specific vectors for specific inputs.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/PuertOcho/puertocho-intent/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector dimension. Defaults to 8 when zero.
	Dim int

	// EmbedFunc, if non-nil, overrides the deterministic default for Embed and
	// EmbedBatch (applied element-wise).
	EmbedFunc func(text string) []float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// EmbedCalls records every text passed to Embed or EmbedBatch, in order.
	EmbedCalls []string
}

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text), nil
	}
	return p.deterministic(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dim <= 0 {
		return 8
	}
	return p.Dim
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embeddings" }

// deterministic produces a unit-length vector seeded from an FNV hash of text.
func (p *Provider) deterministic(text string) []float32 {
	dim := p.Dimensions()
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		// xorshift-style mixing for a stable pseudo-random sequence.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed%2000)-1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
