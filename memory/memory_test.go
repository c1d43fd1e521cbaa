package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
)

func TestParseMemoryType(t *testing.T) {
	for in, want := range map[string]memory.MemoryType{
		"episodic":  memory.Episodic,
		"Semantic":  memory.Semantic,
		" WORKING ": memory.Working,
	} {
		got, err := memory.ParseMemoryType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := memory.ParseMemoryType("all")
	assert.ErrorIs(t, err, memory.ErrInvalidMemoryType)
}

func TestNewRecord(t *testing.T) {
	rec := memory.NewRecord("c", "", nil)
	assert.Equal(t, memory.Episodic, rec.Type)
	assert.NotNil(t, rec.Metadata)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
	assert.Empty(t, rec.ID)
}

func TestPrepareRecord(t *testing.T) {
	ctx := context.Background()
	e := mock.New(16)

	rec := &memory.Record{Content: "text"}
	require.NoError(t, memory.PrepareRecord(ctx, rec, e, 16))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, memory.Episodic, rec.Type)
	assert.Len(t, rec.Embedding, 16)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.Before(rec.CreatedAt))

	bad := &memory.Record{Content: "text", Embedding: []float32{1}}
	assert.ErrorIs(t, memory.PrepareRecord(ctx, bad, e, 16), memory.ErrDimensionMismatch)

	wrongType := &memory.Record{Content: "text", Type: "other"}
	assert.ErrorIs(t, memory.PrepareRecord(ctx, wrongType, e, 16), memory.ErrInvalidMemoryType)
}

func TestApplyUpdate(t *testing.T) {
	ctx := context.Background()
	e := mock.New(16)
	rec := memory.NewRecord("before", memory.Episodic, map[string]any{"a": 1, "b": 2})
	require.NoError(t, memory.PrepareRecord(ctx, rec, e, 16))
	oldEmbedding := rec.Embedding

	require.NoError(t, memory.ApplyUpdate(ctx, rec, memory.Update{Metadata: map[string]any{"b": 3, "c": 4}}, e))
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, rec.Metadata)
	assert.Equal(t, oldEmbedding, rec.Embedding)

	content := "after"
	require.NoError(t, memory.ApplyUpdate(ctx, rec, memory.Update{Content: &content}, e))
	assert.Equal(t, "after", rec.Content)
	assert.Equal(t, mock.Vector("after", 16), rec.Embedding)
	assert.False(t, rec.UpdatedAt.Before(rec.CreatedAt))
}

func TestVectorHelpers(t *testing.T) {
	assert.False(t, memory.IsZeroVector(nil))
	assert.True(t, memory.IsZeroVector([]float32{0, 0}))
	assert.False(t, memory.IsZeroVector([]float32{0, 0.1}))

	zs := memory.ZeroVectors(2, 3)
	assert.Equal(t, [][]float32{{0, 0, 0}, {0, 0, 0}}, zs)

	assert.InDelta(t, 1.0, memory.CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, memory.CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, memory.CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, memory.CosineSimilarity([]float32{0, 0}, []float32{1, 2}))

	n := memory.Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)
	assert.Equal(t, []float32{0, 0}, memory.Normalize([]float32{0, 0}))
}

func TestPayloadEncoding(t *testing.T) {
	for _, p := range []memory.Payload{
		memory.ConversationTurn{Role: "user", ConversationID: "c", MessageIndex: 2, ToolCalls: []string{"x"}},
		memory.Fact{Subject: "s", Predicate: "p", Object: "o", Confidence: 0.5},
		memory.Reflection{Topic: "t", RelatedIDs: []string{"1"}},
	} {
		kind, data, err := memory.EncodePayload(p)
		require.NoError(t, err)
		got, err := memory.DecodePayload(kind, data)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	kind, data, err := memory.EncodePayload(nil)
	require.NoError(t, err)
	got, err := memory.DecodePayload(kind, data)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = memory.DecodePayload("bogus", []byte(`{}`))
	assert.Error(t, err)

	assert.Equal(t, memory.Semantic, memory.DefaultType(memory.Fact{}))
	assert.Equal(t, memory.Semantic, memory.DefaultType(memory.Reflection{}))
	assert.Equal(t, memory.Episodic, memory.DefaultType(memory.ConversationTurn{}))
	assert.Equal(t, "Ada wrote code", memory.Fact{Subject: "Ada", Predicate: "wrote", Object: "code"}.Content())
}

func TestConfig(t *testing.T) {
	cfg := memory.DefaultConfig()
	require.NoError(t, cfg.Validate())

	backend, err := cfg.StoreBackend()
	require.NoError(t, err)
	assert.Equal(t, memory.ProviderChroma, backend)

	cfg.Provider = "ChromeM"
	backend, err = cfg.StoreBackend()
	require.NoError(t, err)
	assert.Equal(t, memory.ProviderChroma, backend)

	cfg.Embedding = "huggingface"
	emb, err := cfg.EmbeddingBackend()
	require.NoError(t, err)
	assert.Equal(t, memory.EmbeddingLocal, emb)

	cfg.Provider = "redis"
	assert.ErrorIs(t, cfg.Validate(), memory.ErrConfiguration)

	cfg = memory.DefaultConfig()
	cfg.Embedding = "cohere"
	assert.ErrorIs(t, cfg.Validate(), memory.ErrConfiguration)

	cfg.Enabled = false
	assert.NoError(t, cfg.Validate(), "disabled configs are not validated")

	t.Setenv("NIM_HOME", "/tmp/nim-home")
	assert.Equal(t, "/tmp/nim-home", memory.DefaultHome())
}
