// Package cache provides an Embedder decorator that keeps recent embeddings
// in memory.
package cache

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-memory/memory"
)

// Embedder caches per-text vectors from an underlying Embedder. Degraded
// (all-zero) vectors are never cached so a recovered backend is retried.
// Callers always receive their own copy of a cached vector.
type Embedder struct {
	next  memory.Embedder
	cache *ristretto.Cache
}

var _ memory.Embedder = (*Embedder)(nil)

// New wraps next with a cache holding up to size embeddings.
func New(next memory.Embedder, size int64) (*Embedder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: embedding cache size must be positive", memory.ErrConfiguration)
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
		// Cost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{next: next, cache: c}, nil
}

// Embed serves cached vectors and embeds the rest in one call, preserving
// input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := e.cache.Get(t); ok {
			out[i] = slices.Clone(v.([]float32))
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		if j >= len(missingIdx) {
			break
		}
		out[missingIdx[j]] = vec
		if !memory.IsZeroVector(vec) {
			e.cache.Set(missing[j], slices.Clone(vec), 1)
		}
	}
	return out, nil
}

// Dimensions delegates to the wrapped embedder.
func (e *Embedder) Dimensions(ctx context.Context) int {
	return e.next.Dimensions(ctx)
}

// Wait blocks until pending cache writes are visible.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Unwrap returns the wrapped embedder.
func (e *Embedder) Unwrap() memory.Embedder {
	return e.next
}

// Close stops the cache and closes the wrapped embedder when it holds
// resources.
func (e *Embedder) Close() error {
	e.cache.Close()
	if c, ok := e.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
