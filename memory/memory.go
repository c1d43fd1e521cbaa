package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MemoryType partitions records for retrieval and bulk clearing.
type MemoryType string

const (
	// Episodic memories record events and interactions.
	Episodic MemoryType = "episodic"
	// Semantic memories record facts and knowledge.
	Semantic MemoryType = "semantic"
	// Working memories are temporary, high-relevance content.
	Working MemoryType = "working"
)

// MemoryTypes lists every valid memory type.
var MemoryTypes = []MemoryType{Episodic, Semantic, Working}

// Valid reports whether t is one of the enumerated memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case Episodic, Semantic, Working:
		return true
	}
	return false
}

// ParseMemoryType converts a case-insensitive name into a MemoryType.
func ParseMemoryType(s string) (MemoryType, error) {
	t := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMemoryType, s)
	}
	return t, nil
}

// Record is the atomic stored unit.
type Record struct {
	// ID is assigned by the store when empty. Callers may pre-assign it for
	// idempotent upserts.
	ID      string
	Content string

	// Metadata holds open-ended JSON-compatible annotations.
	Metadata map[string]any

	// Embedding is computed from Content at store time when empty.
	Embedding []float32

	Type MemoryType

	// Payload carries typed fields for specialised records (conversation
	// turns, facts, reflections). Nil for plain records.
	Payload Payload

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord creates a record stamped with the current time.
func NewRecord(content string, memoryType MemoryType, metadata map[string]any) *Record {
	now := time.Now().UTC()
	if metadata == nil {
		metadata = map[string]any{}
	}
	if memoryType == "" {
		memoryType = Episodic
	}
	return &Record{
		Content:   content,
		Metadata:  metadata,
		Type:      memoryType,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Query describes a similarity search.
type Query struct {
	Text  string
	Limit int

	// Type restricts results to one memory type. Empty means all types.
	Type MemoryType

	// MetadataFilter requires every key to be present with an equal value.
	MetadataFilter map[string]any
}

// Update describes a partial record update.
type Update struct {
	// Content replaces the record content and triggers re-embedding when set.
	Content *string

	// Metadata is shallow-merged into the existing metadata when set.
	Metadata map[string]any
}

// Store is the vector storage backend interface.
// Implementations: chromem.Store (documents), pgvector.Store (PostgreSQL).
//
// Every method except Initialize and Close returns ErrNotInitialized until
// Initialize has succeeded.
type Store interface {
	// Initialize opens or creates the collection, table or index. It is
	// idempotent on success.
	Initialize(ctx context.Context) error

	// Store upserts a record by ID. It assigns the ID and computes the
	// embedding in place when they are missing.
	Store(ctx context.Context, rec *Record) (string, error)

	// Retrieve returns records ranked by cosine similarity to the query,
	// highest first. Backend query failures degrade to an empty result.
	Retrieve(ctx context.Context, q Query) ([]*Record, error)

	// Update changes content and/or metadata of an existing record.
	Update(ctx context.Context, id string, upd Update) error

	// Delete removes a record. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// Clear removes every record, or every record of memoryType when set.
	Clear(ctx context.Context, memoryType MemoryType) error

	// Close releases resources. Safe to call more than once.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (testing), openai.Embedder (remote API),
// local.Embedder (local model).
//
// Backend failures are not returned: implementations fall back to zero
// vectors of the declared dimension and report the fallback through
// RecordEmbeddingFallback. The error is reserved for a cancelled context.
type Embedder interface {
	// Embed converts texts to vectors, one per input, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions(ctx context.Context) int
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	return vecs[0], nil
}
