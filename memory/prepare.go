package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PrepareRecord fills the fields a store needs before persisting rec: it
// assigns an ID, defaults the type, stamps missing timestamps and computes
// the embedding from Content when absent. An embedding whose length differs
// from dims is rejected with ErrDimensionMismatch.
func PrepareRecord(ctx context.Context, rec *Record, e Embedder, dims int) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Type == "" {
		rec.Type = Episodic
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMemoryType, rec.Type)
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() || rec.UpdatedAt.Before(rec.CreatedAt) {
		rec.UpdatedAt = rec.CreatedAt
	}

	if len(rec.Embedding) == 0 {
		vec, err := EmbedOne(ctx, e, rec.Content)
		if err != nil {
			return fmt.Errorf("embed content: %w", err)
		}
		rec.Embedding = vec
	}
	if len(rec.Embedding) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Embedding), dims)
	}
	return nil
}

// ApplyUpdate merges upd into rec, re-embedding when the content changes.
// UpdatedAt is always refreshed.
func ApplyUpdate(ctx context.Context, rec *Record, upd Update, e Embedder) error {
	if upd.Content != nil {
		rec.Content = *upd.Content
		vec, err := EmbedOne(ctx, e, rec.Content)
		if err != nil {
			return fmt.Errorf("embed content: %w", err)
		}
		rec.Embedding = vec
	}
	if upd.Metadata != nil {
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		for k, v := range upd.Metadata {
			rec.Metadata[k] = v
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		rec.UpdatedAt = rec.CreatedAt
	}
	return nil
}
